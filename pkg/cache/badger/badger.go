// Package badger provides a cache store on an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

const keyPrefix = "llmkit:cache:"

// Config configures the store.
type Config struct {
	// Path is the database directory. It is created when missing. Ignored
	// when InMemory is set.
	Path string

	InMemory bool
}

// Store implements cache.Store with one JSON value per cache id.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger routes badger's own logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewStore opens the database described by cfg.
func NewStore(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "cache_store", "backend", "badger")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger cache store requires a path")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &badgerLogger{logger: log}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// GetAll returns the records of id.
func (s *Store) GetAll(_ context.Context, id string) ([]cache.Record, error) {
	var records []cache.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &records)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", id, err)
	}
	return records, nil
}

// UpdateCache replaces the records of id.
func (s *Store) UpdateCache(_ context.Context, id string, records []cache.Record) error {
	val, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), val)
	})
}

// DeleteCache removes id.
func (s *Store) DeleteCache(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ cache.Store = (*Store)(nil)
