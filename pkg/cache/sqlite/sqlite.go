// Package sqlite provides a SQLite-backed cache store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/llmkit/pkg/cache"
)

const schema = `CREATE TABLE IF NOT EXISTS llmkit_cache (
	id         TEXT PRIMARY KEY,
	records    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store implements cache.Store on one SQLite table.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at dbPath, which can be a file path or
// ":memory:".
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetAll returns the records of id.
func (s *Store) GetAll(ctx context.Context, id string) ([]cache.Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT records FROM llmkit_cache WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", id, err)
	}

	var records []cache.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decoding cache %s: %w", id, err)
	}
	return records, nil
}

// UpdateCache replaces the records of id.
func (s *Store) UpdateCache(ctx context.Context, id string, records []cache.Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llmkit_cache (id, records, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET records = excluded.records, updated_at = excluded.updated_at`,
		id, string(raw))
	if err != nil {
		return fmt.Errorf("writing cache %s: %w", id, err)
	}
	return nil
}

// DeleteCache removes id.
func (s *Store) DeleteCache(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM llmkit_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting cache %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ cache.Store = (*Store)(nil)
