package state

import (
	"context"
	"sync"

	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// Storage persists state records by scope key. Load returns a CodeNotFound
// error for absent records; Save must be atomic per record.
type Storage interface {
	Load(ctx context.Context, scopeKey string) (*Record, error)
	Save(ctx context.Context, scopeKey string, record *Record) error
}

// ErrNotFound marks a scope key with no persisted record.
func ErrNotFound(scopeKey string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "state record not found").WithDetails(map[string]string{"scope_key": scopeKey})
}

// MemoryStore is the in-process Storage used in tests and single-node dev.
type MemoryStore struct {
	mtx     sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Load(_ context.Context, scopeKey string) (*Record, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	record, ok := s.records[scopeKey]
	if !ok {
		return nil, ErrNotFound(scopeKey)
	}
	return record.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, scopeKey string, record *Record) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "record is required")
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.records[scopeKey] = record.Clone()
	return nil
}
