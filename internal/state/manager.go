package state

import (
	"context"
	"sync"
	"time"

	"github.com/lucasmendez/gamekit-backend/pkg/config"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
	"github.com/sethvargo/go-retry"
)

// UpdateFunc computes a partial update from the current data mapping. It runs
// inside the key's critical section, so the snapshot it sees is never stale.
type UpdateFunc func(current map[string]any) (map[string]any, error)

// Manager owns the in-memory record set and its persistence. Updates to the
// same (game_id, key) are serialized through a per-key lock; unrelated keys
// never contend.
type Manager struct {
	storage Storage
	logg    *logger.Logger

	retries uint64
	backoff time.Duration

	mtx     sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]*Record
}

// NewManager builds a state manager over the given storage backend.
func NewManager(storage Storage, cfg config.StateConfig, logg *logger.Logger) (*Manager, error) {
	if storage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "storage is required")
	}
	backoff := cfg.SaveBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Manager{
		storage: storage,
		logg:    logg,
		retries: cfg.SaveRetries,
		backoff: backoff,
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]*Record),
	}, nil
}

// Get returns a snapshot of the record, loading through storage on a cold
// cache. Reads never block on another key's in-flight update.
func (m *Manager) Get(ctx context.Context, gameID, key string) (*Record, error) {
	scope := ScopeKey(gameID, key)

	m.mtx.Lock()
	record, ok := m.records[scope]
	m.mtx.Unlock()
	if ok {
		return record.Clone(), nil
	}

	loaded, err := m.storage.Load(ctx, scope)
	if err != nil {
		return nil, err
	}

	m.mtx.Lock()
	// A concurrent update may have committed while we were loading; the
	// committed image wins over the storage read.
	if committed, ok := m.records[scope]; ok {
		loaded = committed
	} else {
		m.records[scope] = loaded
	}
	m.mtx.Unlock()
	return loaded.Clone(), nil
}

// Update shallow-merges partial into the record's data: keys in partial
// overwrite, absent keys are preserved, nested structures are replaced
// wholesale. The first update for a scope creates the record.
func (m *Manager) Update(ctx context.Context, gameID, key string, partial map[string]any) (*Record, *Record, error) {
	return m.UpdateFunc(ctx, gameID, key, func(map[string]any) (map[string]any, error) {
		return partial, nil
	})
}

// UpdateFunc is Update with the partial computed from the current data inside
// the critical section, for read-modify-write deltas that must not lose
// concurrent updates.
func (m *Manager) UpdateFunc(ctx context.Context, gameID, key string, fn UpdateFunc) (*Record, *Record, error) {
	if fn == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "update function is required")
	}
	scope := ScopeKey(gameID, key)
	lock := m.keyLock(scope)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.currentLocked(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	var old *Record
	base := map[string]any{}
	if current != nil {
		old = current.Clone()
		for k, v := range current.Data {
			base[k] = v
		}
	}

	partial, err := fn(cloneData(base))
	if err != nil {
		return nil, nil, err
	}
	for k, v := range partial {
		base[k] = v
	}

	next := &Record{
		GameID:    gameID,
		Key:       key,
		Data:      base,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	if current != nil {
		next.Version = current.Version + 1
	}

	if err := m.persist(ctx, scope, next); err != nil {
		// The prior version stays authoritative in memory and in storage.
		return nil, nil, err
	}

	m.mtx.Lock()
	m.records[scope] = next
	m.mtx.Unlock()
	return old, next.Clone(), nil
}

// Save flushes the current in-memory record even without a new update, for
// explicit save requests.
func (m *Manager) Save(ctx context.Context, gameID, key string) (*Record, error) {
	scope := ScopeKey(gameID, key)
	lock := m.keyLock(scope)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.currentLocked(ctx, scope)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound(scope)
	}
	if err := m.persist(ctx, scope, current); err != nil {
		return nil, err
	}
	return current.Clone(), nil
}

// currentLocked returns the committed record, falling back to storage. A
// CodeNotFound from storage maps to nil, meaning "create on first update".
// Callers must hold the key lock.
func (m *Manager) currentLocked(ctx context.Context, scope string) (*Record, error) {
	m.mtx.Lock()
	record, ok := m.records[scope]
	m.mtx.Unlock()
	if ok {
		return record, nil
	}

	loaded, err := m.storage.Load(ctx, scope)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "loading state record")
	}

	m.mtx.Lock()
	m.records[scope] = loaded
	m.mtx.Unlock()
	return loaded, nil
}

func (m *Manager) persist(ctx context.Context, scope string, record *Record) error {
	backoff := retry.NewConstant(m.backoff)
	if m.retries > 0 {
		backoff = retry.WithMaxRetries(m.retries, backoff)
	} else {
		backoff = retry.WithMaxRetries(1, backoff)
	}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := m.storage.Save(ctx, scope, record); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if m.logg != nil {
			m.logg.Error(ctx, "persisting state record", err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "saving state record")
	}
	return nil
}

func (m *Manager) keyLock(scope string) *sync.Mutex {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	lock, ok := m.locks[scope]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[scope] = lock
	}
	return lock
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
