// Package redis provides a cache store keeping each cache id as one JSON
// string key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/llmkit/pkg/cache"
)

// DefaultPrefix is prepended to cache ids to form keys.
const DefaultPrefix = "llmkit:cache:"

// Config configures the store.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// Prefix defaults to DefaultPrefix.
	Prefix string

	// TTL expires a whole cache id this long after its newest record was
	// created. Zero keeps them.
	TTL time.Duration
}

// Store implements cache.Store on Redis.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewStore connects to the server at c.URL.
func NewStore(ctx context.Context, c Config) (*Store, error) {
	if c.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	opts, err := goredis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: c.TTL}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// GetAll returns the records of id.
func (s *Store) GetAll(ctx context.Context, id string) ([]cache.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", id, err)
	}

	var records []cache.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding cache %s: %w", id, err)
	}
	return records, nil
}

// UpdateCache replaces the records of id. With a TTL the key expires TTL
// after the newest record, so rewrites that only prune do not extend it.
func (s *Store) UpdateCache(ctx context.Context, id string, records []cache.Record) error {
	if len(records) == 0 {
		return s.DeleteCache(ctx, id)
	}

	args := goredis.SetArgs{}
	if s.ttl > 0 {
		args.ExpireAt = newest(records).Add(s.ttl)
		if !args.ExpireAt.After(time.Now()) {
			return s.DeleteCache(ctx, id)
		}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", id, err)
	}
	if err := s.client.SetArgs(ctx, s.key(id), raw, args).Err(); err != nil {
		return fmt.Errorf("writing cache %s: %w", id, err)
	}
	return nil
}

func newest(records []cache.Record) time.Time {
	var t time.Time
	for _, r := range records {
		if r.Creation.After(t) {
			t = r.Creation
		}
	}
	return t
}

// DeleteCache removes id.
func (s *Store) DeleteCache(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting cache %s: %w", id, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ cache.Store = (*Store)(nil)
