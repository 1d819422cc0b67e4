package components_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/eventstream/nop"
	"github.com/papercomputeco/llmkit/pkg/logger"
	testutils "github.com/papercomputeco/llmkit/pkg/utils/test"
)

var _ = Describe("ParseLevel", func() {
	It("maps config levels", func() {
		Expect(components.ParseLevel("debug")).To(Equal(slog.LevelDebug))
		Expect(components.ParseLevel("WARN")).To(Equal(slog.LevelWarn))
		Expect(components.ParseLevel("error")).To(Equal(slog.LevelError))
		Expect(components.ParseLevel("bogus")).To(Equal(slog.LevelInfo))
	})
})

var _ = Describe("NewLogger", func() {
	It("sets the shared level from config", func() {
		level := new(slog.LevelVar)
		components.NewLogger(config.LogConfig{Level: "warn", Format: "text"}, false, level)
		Expect(level.Level()).To(Equal(slog.LevelWarn))
	})

	It("forces debug", func() {
		level := new(slog.LevelVar)
		components.NewLogger(config.LogConfig{Level: "error"}, true, level)
		Expect(level.Level()).To(Equal(slog.LevelDebug))
	})
})

var _ = Describe("Builder", func() {
	var (
		dir string
		cfg *config.Config
		ctx context.Context
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		cfg = config.NewDefaultConfig()
		ctx = context.Background()
	})

	newBuilder := func() *components.Builder {
		GinkgoHelper()
		b, err := components.NewBuilder(cfg, dir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	It("builds the default ollama provider", func() {
		p, err := newBuilder().Provider()
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name()).To(Equal("ollama"))
	})

	It("rejects an unknown provider", func() {
		cfg.Provider.Name = "nope"
		_, err := newBuilder().Provider()
		Expect(err).To(HaveOccurred())
	})

	It("builds the default embedder", func() {
		e, err := newBuilder().Embedder()
		Expect(err).NotTo(HaveOccurred())
		Expect(e).NotTo(BeNil())
	})

	It("builds an in-memory cache provider", func() {
		caches, err := newBuilder().Caches(ctx, testutils.NewMockEmbedder())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(caches.Close)

		c, err := caches.Get("team")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.ID()).To(Equal("team"))
	})

	It("defaults the sqlite cache file into the config dir", func() {
		cfg.Cache.Store = components.StoreSQLite
		store, err := newBuilder().CacheStore(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		_, err = os.Stat(filepath.Join(dir, "cache.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("opens a badger cache in the config dir", func() {
		cfg.Cache.Store = components.StoreBadger
		store, err := newBuilder().CacheStore(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		Expect(filepath.Join(dir, "cache.badger")).To(BeADirectory())
	})

	It("requires a target for network cache stores", func() {
		cfg.Cache.Store = components.StorePostgres
		_, err := newBuilder().CacheStore(ctx)
		Expect(err).To(MatchError(ContainSubstring("requires cache.target")))

		cfg.Cache.Store = components.StoreRedis
		_, err = newBuilder().CacheStore(ctx)
		Expect(err).To(MatchError(ContainSubstring("requires cache.target")))
	})

	It("rejects an unknown cache store", func() {
		cfg.Cache.Store = "memcached"
		_, err := newBuilder().CacheStore(ctx)
		Expect(err).To(MatchError(ContainSubstring("unsupported cache store")))
	})

	It("rejects an unknown cache policy", func() {
		cfg.Cache.Policy = "lru"
		_, err := newBuilder().Caches(ctx, testutils.NewMockEmbedder())
		Expect(err).To(HaveOccurred())
	})

	It("falls back to a no-op publisher without brokers", func() {
		p, err := newBuilder().Publisher()
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeAssignableToTypeOf(&nop.Publisher{}))
	})

	It("opens the default sqlite vector store in the config dir", func() {
		cfg.Embedding.Dimensions = 3
		driver, err := newBuilder().VectorDriver(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)

		_, err = os.Stat(filepath.Join(dir, "vectors.db"))
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Resolve", func() {
	It("lets flags win over the config file", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`version = 0

[provider]
name = "anthropic"
model = "claude-sonnet-4-5"
`), 0o600)).To(Succeed())

		var model string
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("config-dir", dir, "")
		config.AddStringFlag(cmd, config.Flags, config.FlagModel, &model)
		Expect(cmd.Flags().Set("model", "claude-haiku-4-5")).To(Succeed())

		cfg, configDir, err := components.Resolve(cmd, config.FlagModel)
		Expect(err).NotTo(HaveOccurred())
		Expect(configDir).To(Equal(dir))
		Expect(cfg.Provider.Name).To(Equal("anthropic"))
		Expect(cfg.Provider.Model).To(Equal("claude-haiku-4-5"))
	})
})
