// Package proxycmder provides the caching proxy command.
package proxycmder

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/proxy"
)

type proxyCommander struct {
	debug     bool
	configDir string
	cfg       *config.Config

	logger *slog.Logger
}

const proxyLongDesc string = `Run the caching proxy.

The proxy sits between an LLM client and its provider. Chat requests whose
prompt is semantically close to one answered before are served from the
cache, in the provider's own response format. Every other request is
forwarded to the upstream untouched.

Cached endpoints:
  openai      POST /v1/chat/completions
  anthropic   POST /v1/messages
  ollama      POST /api/chat

Select a cache with the X-LLMKit-Cache-ID header or a /caches/<id>/ path
prefix. Route one request to another provider with /providers/<name>/.
Set X-LLMKit-Cache-Bypass: true to skip the cache.

Examples:
  llmkit proxy --upstream http://localhost:11434
  llmkit proxy --upstream-provider openai --upstream https://api.openai.com/v1
  OPENAI_BASE_URL=http://localhost:8090/caches/docs llmkit chat`

const proxyShortDesc string = "Run the caching LLM proxy"

var proxyFlags = []string{
	config.FlagProxyListen,
	config.FlagProxyUpstream,
	config.FlagProxyProvider,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagCacheStore,
	config.FlagCacheTarget,
	config.FlagCachePolicy,
	config.FlagKafkaBrokers,
	config.FlagLogLevel,
	config.FlagLogFormat,
}

func NewProxyCmd() *cobra.Command {
	cmder := &proxyCommander{}

	var (
		listen, upstream, providerType       string
		embeddingProvider, embeddingTarget   string
		embeddingModel                       string
		embeddingDims                        uint
		cacheStore, cacheTarget, cachePolicy string
		kafkaBrokers, logLevel, logFormat    string
	)

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: proxyShortDesc,
		Long:  proxyLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, cmder.configDir, err = components.Resolve(cmd, proxyFlags...)
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

	config.AddStringFlag(cmd, config.Flags, config.FlagProxyListen, &listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagProxyUpstream, &upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagProxyProvider, &providerType)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embeddingDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheStore, &cacheStore)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheTarget, &cacheTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCachePolicy, &cachePolicy)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &logFormat)

	return cmd
}

func (c *proxyCommander) run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.logger = components.NewLogger(c.cfg.Log, c.debug, new(slog.LevelVar))

	builder, err := components.NewBuilder(c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
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

	p, err := proxy.New(proxy.Config{
		ListenAddr:   c.cfg.Proxy.Listen,
		UpstreamURL:  c.cfg.Proxy.Upstream,
		ProviderType: c.cfg.Proxy.Provider,
		Caches:       caches,
		Publisher:    publisher,
		Workers:      c.cfg.API.Workers,
		QueueSize:    c.cfg.API.QueueSize,
	}, c.logger)
	if err != nil {
		return err
	}

	c.logger.Info("starting llmkit proxy",
		"listen", c.cfg.Proxy.Listen,
		"upstream", c.cfg.Proxy.Upstream,
		"provider", c.cfg.Proxy.Provider,
		"cache_store", c.cfg.Cache.Store,
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Run()
	}()

	select {
	case err = <-errChan:
		if err != nil {
			err = fmt.Errorf("proxy error: %w", err)
		}
		_ = p.Close()
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		err = p.Close()
	}
	return err
}
