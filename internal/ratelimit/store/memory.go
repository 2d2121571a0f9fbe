package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store using an in-memory map. It is the default
// backend for tests and for deployments that accept losing lockout state
// on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, entries map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}

// Update implements Store. fn receives a copy of the entry set, so stored
// state only changes through the returned map.
func (s *MemoryStore) Update(ctx context.Context, fn func(map[string]Entry) map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.entries = fn(snapshot)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
