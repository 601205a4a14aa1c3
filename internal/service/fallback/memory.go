package fallback

import (
	"context"
	"sync"

	"MacroPulse/internal/domain/models"
)

// MemoryStore is an in-process FallbackStore. Entries are stored and returned
// by value, so a reader never sees a partially written entry.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.FallbackEntry
	opts options
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{data: make(map[string]models.FallbackEntry), opts: newOptions(opts)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.FallbackEntry, bool, error) {
	m.mu.RLock()
	e, ok := m.data[id]
	m.mu.RUnlock()
	if !ok || !m.opts.fresh(e) {
		return models.FallbackEntry{}, false, nil
	}
	return e, true, nil
}

// Put stores e unless the current entry is newer.
func (m *MemoryStore) Put(_ context.Context, id string, e models.FallbackEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[id]; ok && !supersedes(cur, e) {
		return nil
	}
	m.data[id] = e
	return nil
}

// Snapshot returns a copy of all entries, stale ones included.
func (m *MemoryStore) Snapshot() map[string]models.FallbackEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.FallbackEntry, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
