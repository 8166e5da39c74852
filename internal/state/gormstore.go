package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lucasmendez/gamekit-backend/pkg/db/models"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists state records in the state_records table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps the shared GORM connection as a Storage backend.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "db connection is required")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context, scopeKey string) (*Record, error) {
	gameID, key, err := splitScopeKey(scopeKey)
	if err != nil {
		return nil, err
	}

	var row models.StateRecord
	result := s.db.WithContext(ctx).
		Where("game_id = ? AND state_key = ?", gameID, key).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound(scopeKey)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, result.Error, "querying state record")
	}

	data := map[string]any{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "decoding state record data")
		}
	}
	return &Record{
		GameID:    row.GameID,
		Key:       row.StateKey,
		Data:      data,
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (s *GormStore) Save(ctx context.Context, scopeKey string, record *Record) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "record is required")
	}
	raw, err := json.Marshal(record.Data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "encoding state record data")
	}

	row := models.StateRecord{
		GameID:    record.GameID,
		StateKey:  record.Key,
		Data:      raw,
		Version:   record.Version,
		UpdatedAt: record.UpdatedAt,
		CreatedAt: time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "version", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, result.Error, "upserting state record")
	}
	return nil
}

func splitScopeKey(scopeKey string) (string, string, error) {
	for i := 0; i < len(scopeKey); i++ {
		if scopeKey[i] == ':' {
			return scopeKey[:i], scopeKey[i+1:], nil
		}
	}
	return "", "", pkgerrors.New(pkgerrors.CodeValidation, "malformed scope key").WithDetails(map[string]string{"scope_key": scopeKey})
}
