// Package components builds llmkit's runtime components (chat provider,
// embedder, vector store, semantic cache, event publisher) from resolved
// configuration. Commands share it so "serve", "chat" and "embed" wire
// things the same way.
package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/papercomputeco/llmkit/api/client"
	"github.com/papercomputeco/llmkit/pkg/cache"
	badgerstore "github.com/papercomputeco/llmkit/pkg/cache/badger"
	"github.com/papercomputeco/llmkit/pkg/cache/inmemory"
	postgresstore "github.com/papercomputeco/llmkit/pkg/cache/postgres"
	redisstore "github.com/papercomputeco/llmkit/pkg/cache/redis"
	sqlitestore "github.com/papercomputeco/llmkit/pkg/cache/sqlite"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/credentials"
	"github.com/papercomputeco/llmkit/pkg/dotdir"
	"github.com/papercomputeco/llmkit/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/llmkit/pkg/embeddings/utils"
	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/eventstream/kafka"
	"github.com/papercomputeco/llmkit/pkg/eventstream/nop"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	vectorutils "github.com/papercomputeco/llmkit/pkg/vector/utils"
)

// Cache store names accepted in cache.store.
const (
	StoreInMemory = "inmemory"
	StoreBadger   = "badger"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Default file names under the config dir for file-backed stores without
// an explicit target.
const (
	defaultCacheDB   = "cache.db"
	defaultBadgerDir = "cache.badger"
	defaultVectorDB  = "vectors.db"
)

// SupportedCacheStores lists the cache store names Builder accepts.
func SupportedCacheStores() []string {
	return []string{StoreInMemory, StoreBadger, StoreSQLite, StorePostgres, StoreRedis}
}

// ParseLevel maps a log.level value onto a slog level. Unknown values are
// Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the CLI logger on stderr. level is updated in place so
// callers can change verbosity at runtime; debug forces the debug level.
func NewLogger(cfg config.LogConfig, debug bool, level *slog.LevelVar) *slog.Logger {
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(ParseLevel(cfg.Level))
	}

	return logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLevel(level),
		logger.WithJSON(cfg.Format == "json"),
		logger.WithPretty(cfg.Format == "pretty"),
	)
}

// Builder constructs components from one resolved Config.
type Builder struct {
	cfg       *config.Config
	configDir string
	creds     *credentials.Manager
	dirs      *dotdir.Manager
	logger    *slog.Logger
}

// NewBuilder creates a Builder. configDir overrides the .llmkit directory
// used for credentials and default file paths.
func NewBuilder(cfg *config.Config, configDir string, log *slog.Logger) (*Builder, error) {
	creds, err := credentials.NewManager(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return &Builder{
		cfg:       cfg,
		configDir: configDir,
		creds:     creds,
		dirs:      dotdir.NewManager(),
		logger:    log,
	}, nil
}

// Config returns the configuration the builder was created with.
func (b *Builder) Config() *config.Config {
	return b.cfg
}

func (b *Builder) apiKey(name string) (string, error) {
	if !credentials.IsSupportedProvider(name) {
		return "", nil
	}
	return b.creds.Resolve(name)
}

// defaultPath resolves name inside the config dir.
func (b *Builder) defaultPath(name string) (string, error) {
	return b.dirs.Path(b.configDir, name)
}

// Provider builds the configured chat provider.
func (b *Builder) Provider() (provider.Provider, error) {
	p := b.cfg.Provider

	key, err := b.apiKey(p.Name)
	if err != nil {
		return nil, err
	}

	return provider.New(provider.ProviderConfig{
		Type:           p.Name,
		BaseURL:        p.Target,
		APIKey:         key,
		Model:          p.Model,
		EmbeddingModel: b.cfg.Embedding.Model,
		Timeout:        p.TimeoutDuration(),
		Version:        p.Version,
		ProjectID:      p.ProjectID,
		SpaceID:        p.SpaceID,
		DeploymentID:   p.DeploymentID,
		Location:       p.Location,
		Region:         p.Region,
		PromptFormat:   p.PromptFormat,
		LogRequests:    b.logger.Enabled(context.Background(), slog.LevelDebug),
	}, b.logger)
}

// Embedder builds the configured embedder.
func (b *Builder) Embedder() (embeddings.Embedder, error) {
	e := b.cfg.Embedding

	key, err := b.apiKey(e.Provider)
	if err != nil {
		return nil, err
	}

	return embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: e.Provider,
		TargetURL:    e.Target,
		APIKey:       key,
		Model:        e.Model,
		Timeout:      b.cfg.Provider.TimeoutDuration(),
		ProjectID:    b.cfg.Provider.ProjectID,
		Location:     b.cfg.Provider.Location,
		Logger:       b.logger,
	})
}

// VectorDriver builds the configured vector store driver. The sqlite driver
// defaults to vectors.db in the config dir.
func (b *Builder) VectorDriver(ctx context.Context) (vector.Driver, error) {
	vs := b.cfg.VectorStore

	target := vs.Target
	if target == "" && vs.Provider == vectorutils.SQLiteVec {
		var err error
		if target, err = b.defaultPath(defaultVectorDB); err != nil {
			return nil, err
		}
	}

	key, err := b.apiKey(vs.Provider)
	if err != nil {
		return nil, err
	}

	return vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: vs.Provider,
		TargetURL:    target,
		APIKey:       key,
		Collection:   vs.Collection,
		Namespace:    vs.Namespace,
		Dimensions:   b.cfg.Embedding.Dimensions,
		Logger:       b.logger,
	})
}

// CacheStore builds the configured cache store.
func (b *Builder) CacheStore(ctx context.Context) (cache.Store, error) {
	c := b.cfg.Cache

	switch c.Store {
	case "", StoreInMemory:
		return inmemory.NewStore(), nil
	case StoreBadger:
		path := c.Target
		if path == "" {
			var err error
			if path, err = b.defaultPath(defaultBadgerDir); err != nil {
				return nil, err
			}
		}
		return badgerstore.NewStore(badgerstore.Config{Path: path}, b.logger)
	case StoreSQLite:
		path := c.Target
		if path == "" {
			var err error
			if path, err = b.defaultPath(defaultCacheDB); err != nil {
				return nil, err
			}
		}
		return sqlitestore.NewStore(path)
	case StorePostgres:
		if c.Target == "" {
			return nil, fmt.Errorf("cache store %q requires cache.target", c.Store)
		}
		return postgresstore.NewStore(ctx, c.Target)
	case StoreRedis:
		if c.Target == "" {
			return nil, fmt.Errorf("cache store %q requires cache.target", c.Store)
		}
		return redisstore.NewStore(ctx, redisstore.Config{URL: c.Target, TTL: c.TTLDuration()})
	default:
		return nil, fmt.Errorf("unsupported cache store: %q (supported: %s)",
			c.Store, strings.Join(SupportedCacheStores(), ", "))
	}
}

// Caches builds the per-id cache provider over a new store. The caller
// closes it.
func (b *Builder) Caches(ctx context.Context, embedder embeddings.SingleEmbedder) (*cache.Provider, error) {
	store, err := b.CacheStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating cache store: %w", err)
	}

	c := b.cfg.Cache
	caches, err := cache.NewProvider(cache.Config{
		MaxSize:       c.MaxSize,
		Threshold:     c.Threshold,
		TTL:           c.TTLDuration(),
		QueryPrefix:   b.cfg.Embedding.QueryPrefix,
		PassagePrefix: b.cfg.Embedding.PassagePrefix,
		Embedder:      embedder,
		Store:         store,
		Logger:        b.logger,
	}, cache.Policy(c.Policy))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return caches, nil
}

// Publisher builds the Kafka event publisher, or a no-op publisher when no
// brokers are configured.
func (b *Builder) Publisher() (eventstream.Publisher, error) {
	brokers := b.cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}
	return kafka.NewPublisher(kafka.Config{
		Brokers:  brokers,
		Topic:    b.cfg.Kafka.Topic,
		ClientID: b.cfg.Kafka.ClientID,
	}, b.logger)
}

// apiClientTimeout bounds CLI requests to a running API server.
const apiClientTimeout = 30 * time.Second

// NewAPIClient builds a client for the API server at client.api_target.
func NewAPIClient(cfg *config.Config, log *slog.Logger) (*client.Client, error) {
	c, err := client.New(cfg.Client.APITarget, apiClientTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("invalid api target: %w", err)
	}
	return c, nil
}
