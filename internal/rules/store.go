package rules

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucasmendez/gamekit-backend/pkg/db/models"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// Store persists dynamically added rules across restarts.
type Store interface {
	LoadAll(ctx context.Context) ([]Rule, error)
	Save(ctx context.Context, rule Rule) error
	Disable(ctx context.Context, gameID, name string) error
}

// GormStore keeps rules in the rules table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAll(ctx context.Context) ([]Rule, error) {
	var rows []models.Rule
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "loading rules")
	}
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, Rule{
			Name:      row.Name,
			Condition: row.Condition,
			Action:    row.Action,
			Priority:  row.Priority,
			Enabled:   row.Enabled,
			GameID:    row.GameID,
		})
	}
	return rules, nil
}

func (s *GormStore) Save(ctx context.Context, rule Rule) error {
	now := time.Now().UTC()
	row := models.Rule{
		Name:      rule.Name,
		GameID:    rule.GameID,
		Condition: rule.Condition,
		Action:    rule.Action,
		Priority:  rule.Priority,
		Enabled:   rule.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"condition", "action", "priority", "enabled", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "saving rule")
	}
	return nil
}

func (s *GormStore) Disable(ctx context.Context, gameID, name string) error {
	result := s.db.WithContext(ctx).Model(&models.Rule{}).
		Where("game_id = ? AND name = ?", gameID, name).
		Updates(map[string]any{"enabled": false, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, result.Error, "disabling rule")
	}
	return nil
}
