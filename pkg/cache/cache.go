// Package cache implements a semantic response cache. Responses are stored
// with the embedding of the prompt that produced them and returned for later
// prompts whose embeddings are similar enough.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

const (
	// DefaultID is the cache id used when a caller does not name one.
	DefaultID = "#DEFAULT"

	DefaultMaxSize   = 1
	DefaultThreshold = 1.0
)

var (
	// ErrNoEmbedder is returned when a cache is built without an embedder.
	ErrNoEmbedder = errors.New("cache: no embedding model configured")

	// ErrNoStore is returned when a cache is built without a store.
	ErrNoStore = errors.New("cache: no store configured")

	// ErrFull is returned by Add when a fixed cache rejects a record.
	ErrFull = errors.New("cache: full, record rejected")
)

// AiCache answers prompts from previously stored responses.
type AiCache interface {
	ID() string

	// Add stores response for the prompt made of system and user. It
	// returns ErrFull when the retention policy rejects the record.
	Add(ctx context.Context, system, user, response string) error

	// Search returns the best stored response whose similarity to the
	// prompt reaches the threshold.
	Search(ctx context.Context, system, user string) (string, bool, error)

	// Clear removes every record of this cache.
	Clear(ctx context.Context) error
}

// Config configures a cache instance.
type Config struct {
	ID string

	// MaxSize bounds the number of records. Defaults to DefaultMaxSize.
	MaxSize int

	// Threshold is the minimum cosine similarity of a hit, in [-1, 1].
	// Zero is a valid threshold; callers wanting exact matches only set
	// DefaultThreshold.
	Threshold float64

	// TTL expires records older than this. Zero keeps them forever.
	TTL time.Duration

	// QueryPrefix and PassagePrefix are prepended to the text embedded on
	// Search and Add. Some embedding models are trained with them.
	QueryPrefix   string
	PassagePrefix string

	Embedder embeddings.SingleEmbedder
	Store    Store
	Logger   *slog.Logger

	// now is overridden in tests.
	now func() time.Time
}

func (c *Config) validate() error {
	if c.Embedder == nil {
		return ErrNoEmbedder
	}
	if c.Store == nil {
		return ErrNoStore
	}
	if c.ID == "" {
		c.ID = DefaultID
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Threshold < -1 || c.Threshold > 1 {
		return fmt.Errorf("cache: threshold %g outside [-1, 1]", c.Threshold)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return nil
}

// retention decides what happens when a full cache receives a record. It
// returns the records to keep and whether the new record is admitted.
type retention func(records []Record, maxSize int) ([]Record, bool)

// rejectWhenFull drops new records once the cache is full.
func rejectWhenFull(records []Record, maxSize int) ([]Record, bool) {
	return records, len(records) < maxSize
}

// evictOldest makes room by dropping the oldest records.
func evictOldest(records []Record, maxSize int) ([]Record, bool) {
	if over := len(records) - maxSize + 1; over > 0 {
		records = records[over:]
	}
	return records, true
}

// semanticCache is shared by Fixed and MessageWindow. A single mutex guards
// the load, prune and write-back cycle against the store.
type semanticCache struct {
	cfg    Config
	retain retention
	mu     sync.Mutex
	logger *slog.Logger
}

func newSemanticCache(cfg Config, retain retention, kind string) (*semanticCache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &semanticCache{
		cfg:    cfg,
		retain: retain,
		logger: cfg.Logger.With("component", "cache", "cache_id", cfg.ID, "policy", kind),
	}, nil
}

func (c *semanticCache) ID() string {
	return c.cfg.ID
}

// compose builds the embedded text. The prefix only applies when a system
// prompt is present.
func compose(prefix, system, user string) string {
	if strings.TrimSpace(system) == "" {
		return user
	}
	return prefix + system + user
}

// live loads the records of this cache without the expired ones, and
// reports whether any were dropped.
func (c *semanticCache) live(ctx context.Context) ([]Record, bool, error) {
	records, err := c.cfg.Store.GetAll(ctx, c.cfg.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading cache %s: %w", c.cfg.ID, err)
	}
	if c.cfg.TTL <= 0 {
		return records, false, nil
	}

	now := c.cfg.now()
	kept := records[:0]
	for _, r := range records {
		if now.After(r.Creation.Add(c.cfg.TTL)) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(kept) < len(records), nil
}

func (c *semanticCache) Add(ctx context.Context, system, user, response string) error {
	if user == "" || response == "" {
		return nil
	}

	embedding, err := c.cfg.Embedder.Embed(ctx, compose(c.cfg.PassagePrefix, system, user))
	if err != nil {
		return fmt.Errorf("embedding cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records, _, err := c.live(ctx)
	if err != nil {
		return err
	}

	records, admitted := c.retain(records, c.cfg.MaxSize)
	if !admitted {
		c.logger.Debug("cache full, record rejected", "size", len(records))
		return ErrFull
	}

	records = append(records, Record{
		Embedding: embedding,
		Response:  response,
		Creation:  c.cfg.now(),
	})
	if err := c.cfg.Store.UpdateCache(ctx, c.cfg.ID, records); err != nil {
		return fmt.Errorf("updating cache %s: %w", c.cfg.ID, err)
	}
	c.logger.Debug("cached response", "size", len(records))
	return nil
}

func (c *semanticCache) Search(ctx context.Context, system, user string) (string, bool, error) {
	if user == "" {
		return "", false, nil
	}

	query, err := c.cfg.Embedder.Embed(ctx, compose(c.cfg.QueryPrefix, system, user))
	if err != nil {
		return "", false, fmt.Errorf("embedding cache query: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records, pruned, err := c.live(ctx)
	if err != nil {
		return "", false, err
	}

	var (
		best  float64
		found bool
		match string
	)
	for _, r := range records {
		score, err := embeddings.CosineSimilarity(query, r.Embedding)
		if err != nil {
			c.logger.Warn("skipping cache record", "error", err)
			continue
		}
		if score >= c.cfg.Threshold && (!found || score >= best) {
			best, found, match = score, true, r.Response
		}
	}

	if pruned {
		if err := c.cfg.Store.UpdateCache(ctx, c.cfg.ID, records); err != nil {
			return "", false, fmt.Errorf("updating cache %s: %w", c.cfg.ID, err)
		}
	}

	if found {
		c.logger.Debug("cache hit", "score", best)
	}
	return match, found, nil
}

func (c *semanticCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cfg.Store.DeleteCache(ctx, c.cfg.ID); err != nil {
		return fmt.Errorf("clearing cache %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Fixed is a cache that stops admitting records once MaxSize is reached.
type Fixed struct {
	*semanticCache
}

// NewFixed creates a fixed capacity cache.
func NewFixed(cfg Config) (*Fixed, error) {
	c, err := newSemanticCache(cfg, rejectWhenFull, "fixed")
	if err != nil {
		return nil, err
	}
	return &Fixed{c}, nil
}

// MessageWindow is a cache that keeps the MaxSize most recent records.
type MessageWindow struct {
	*semanticCache
}

// NewMessageWindow creates a sliding window cache.
func NewMessageWindow(cfg Config) (*MessageWindow, error) {
	c, err := newSemanticCache(cfg, evictOldest, "message_window")
	if err != nil {
		return nil, err
	}
	return &MessageWindow{c}, nil
}

var (
	_ AiCache = (*Fixed)(nil)
	_ AiCache = (*MessageWindow)(nil)
)
