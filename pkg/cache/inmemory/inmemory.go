// Package inmemory provides a map backed cache store.
package inmemory

import (
	"context"
	"sync"

	"github.com/papercomputeco/llmkit/pkg/cache"
)

// Store implements cache.Store using an in-memory map.
type Store struct {
	// mu guards records
	mu sync.RWMutex

	// records maps a cache id to its records, oldest first
	records map[string][]cache.Record
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string][]cache.Record),
	}
}

// GetAll returns a copy of the records of id. Callers may modify it freely.
func (s *Store) GetAll(_ context.Context, id string) ([]cache.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneRecords(s.records[id]), nil
}

// UpdateCache replaces the records of id.
func (s *Store) UpdateCache(_ context.Context, id string, records []cache.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = cloneRecords(records)
	return nil
}

// DeleteCache removes id.
func (s *Store) DeleteCache(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func cloneRecords(records []cache.Record) []cache.Record {
	if records == nil {
		return nil
	}
	out := make([]cache.Record, len(records))
	copy(out, records)
	return out
}

var _ cache.Store = (*Store)(nil)
