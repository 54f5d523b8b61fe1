// Package dedup provides the persistent layer behind run-local dedup sets.
package dedup

import (
	"context"
	"sync"
)

// Memory is an in-process DedupStore for tests and single-node runs. Entries
// never expire; restart loses the index, which matches session-local dedup.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemory creates an empty in-memory dedup store.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// Seen reports whether the key was added before.
func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[key]
	return ok, nil
}

// Add records the key.
func (m *Memory) Add(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = struct{}{}
	return nil
}

// Len returns the number of recorded keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
