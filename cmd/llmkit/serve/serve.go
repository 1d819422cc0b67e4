// Package servecmder provides the serve command that runs the llmkit API
// server.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/api"
	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/worker"
)

type ServeCommander struct {
	debug     bool
	configDir string
	cfg       *config.Config

	level  *slog.LevelVar
	logger *slog.Logger
}

const serveLongDesc string = `Run the llmkit API server.

The server answers chat requests through the semantic cache, embeds text,
ingests documents into the vector store and searches them. It also exposes
an MCP endpoint at /mcp with "search" and "chat" tools.

Every option can be set in config.toml, through LLMKIT_* environment
variables or with flags. Changes to log.level in config.toml apply without
a restart.

Examples:
  llmkit serve
  llmkit serve --provider anthropic --model claude-sonnet-4-5
  llmkit serve --cache-store redis --cache-target redis://localhost:6379/0
  llmkit serve --vector-store-provider qdrant --vector-store-target http://localhost:6334`

const serveShortDesc string = "Run the llmkit API server"

var serveFlags = []string{
	config.FlagProvider,
	config.FlagModel,
	config.FlagProviderTarget,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagCacheStore,
	config.FlagCacheTarget,
	config.FlagCachePolicy,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
	config.FlagAPIListen,
	config.FlagKafkaBrokers,
	config.FlagLogLevel,
	config.FlagLogFormat,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{
		level: new(slog.LevelVar),
	}

	var (
		provider, model, providerTarget          string
		embeddingProvider, embeddingTarget       string
		embeddingModel                           string
		embeddingDims                            uint
		cacheStore, cacheTarget, cachePolicy     string
		vectorProvider, vectorTarget, collection string
		listen, kafkaBrokers                     string
		logLevel, logFormat                      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, cmder.configDir, err = components.Resolve(cmd, serveFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &model)
	config.AddStringFlag(cmd, config.Flags, config.FlagProviderTarget, &providerTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embeddingDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheStore, &cacheStore)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheTarget, &cacheTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCachePolicy, &cachePolicy)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &collection)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &logFormat)

	return cmd
}

func (c *ServeCommander) run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.logger = components.NewLogger(c.cfg.Log, c.debug, c.level)

	builder, err := components.NewBuilder(c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	model, err := builder.Provider()
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	embedder, err := builder.Embedder()
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	caches, err := builder.Caches(ctx, embedder)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer caches.Close()

	publisher, err := builder.Publisher()
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	vectorDriver, err := builder.VectorDriver(ctx)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer vectorDriver.Close()

	pool, err := worker.NewPool(&worker.Config{
		VectorDriver: vectorDriver,
		Embedder:     embedder,
		Publisher:    publisher,
		VectorStore:  c.cfg.VectorStore.Provider,
		NumWorkers:   c.cfg.API.Workers,
		QueueSize:    c.cfg.API.QueueSize,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating ingest pool: %w", err)
	}

	server, err := api.NewServer(api.Config{
		ListenAddr:   c.cfg.API.Listen,
		Model:        cache.NewCachedModel(model, caches, publisher, c.logger),
		DefaultModel: c.cfg.Provider.Model,
		Caches:       caches,
		Embedder:     embedder,
		VectorDriver: vectorDriver,
		Pool:         pool,
	}, c.logger)
	if err != nil {
		pool.Close()
		return err
	}

	c.watchLogLevel(ctx)

	c.logger.Info("starting llmkit",
		"listen", c.cfg.API.Listen,
		"provider", model.Name(),
		"model", c.cfg.Provider.Model,
		"cache_store", c.cfg.Cache.Store,
		"vector_store", c.cfg.VectorStore.Provider,
		"kafka", c.cfg.Kafka.Brokers != "",
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	select {
	case err = <-errChan:
		if err != nil {
			err = fmt.Errorf("API server error: %w", err)
		}
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		err = server.Shutdown()
	}

	// The server has stopped taking requests; let queued documents finish.
	pool.Close()
	return err
}

// watchLogLevel applies log.level changes in config.toml to the running
// logger. --debug pins the level.
func (c *ServeCommander) watchLogLevel(ctx context.Context) {
	if c.debug {
		return
	}

	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		c.logger.Warn("config watch disabled", "error", err)
		return
	}

	err = cfger.Watch(ctx, func(cfg *config.Config) {
		level := components.ParseLevel(cfg.Log.Level)
		if level != c.level.Level() {
			c.level.Set(level)
			c.logger.Info("log level changed", "level", level.String())
		}
	}, c.logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("config watch disabled", "error", err)
	}
}
