package store

import (
	"context"
	"sync"
	"time"

	"github.com/automcagent/mcbridge/internal/protocol"
)

// Store remembers answered commands so a repeated id is answered with the
// same result instead of being executed twice.
type Store interface {
	SaveResult(ctx context.Context, result protocol.CommandResult, ttl time.Duration) error
	// LoadResult reports false when no unexpired result exists for id.
	LoadResult(ctx context.Context, id string) (protocol.CommandResult, bool, error)
}

type memoryEntry struct {
	result   protocol.CommandResult
	expireAt time.Time
}

type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) SaveResult(_ context.Context, result protocol.CommandResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.ID] = memoryEntry{result: result, expireAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) LoadResult(_ context.Context, id string) (protocol.CommandResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.results[id]
	if !ok || !m.now().Before(entry.expireAt) {
		return protocol.CommandResult{}, false, nil
	}
	return entry.result, true, nil
}

// Prune drops expired results and returns how many were removed.
func (m *MemoryStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, entry := range m.results {
		if !now.Before(entry.expireAt) {
			delete(m.results, id)
			removed++
		}
	}
	return removed
}
