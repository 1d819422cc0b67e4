package cache

import (
	"context"
	"time"
)

// Record is one cached response with the embedding of the text that
// produced it.
type Record struct {
	Embedding []float32 `json:"embedding"`
	Response  string    `json:"response"`
	Creation  time.Time `json:"creation"`
}

// Store persists the records of each cache id. The cache serializes access
// per instance, so implementations only need to be safe across ids.
type Store interface {
	// GetAll returns the records stored under id, oldest first. An unknown id
	// gives an empty slice.
	GetAll(ctx context.Context, id string) ([]Record, error)

	// UpdateCache replaces the records stored under id.
	UpdateCache(ctx context.Context, id string, records []Record) error

	// DeleteCache removes id and its records.
	DeleteCache(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}
