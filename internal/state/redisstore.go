package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pkgredis "github.com/lucasmendez/gamekit-backend/pkg/redis"

	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// RedisStore keeps state records as JSON strings under namespaced keys.
type RedisStore struct {
	client *pkgredis.Client
}

// NewRedisStore wraps the shared redis client as a Storage backend.
func NewRedisStore(client *pkgredis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, scopeKey string) (*Record, error) {
	gameID, key, err := splitScopeKey(scopeKey)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.client.StateKey(gameID, key))
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, ErrNotFound(scopeKey)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "reading state record")
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "decoding state record")
	}
	if record.Data == nil {
		record.Data = map[string]any{}
	}
	return &record, nil
}

func (s *RedisStore) Save(ctx context.Context, scopeKey string, record *Record) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "record is required")
	}
	gameID, key, err := splitScopeKey(scopeKey)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "encoding state record")
	}
	if err := s.client.Set(ctx, s.client.StateKey(gameID, key), strings.TrimSpace(string(raw)), 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "writing state record")
	}
	return nil
}
