package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/config"
)

func writeConfig(dir, data string) {
	Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600)).To(Succeed())
}

var _ = Describe("Configer", func() {
	var (
		tmpDir string
		c      *config.Configer
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		c, err = config.NewConfiger(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("LoadConfig", func() {
		It("returns defaults when no config file exists", func() {
			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("overlays file values on the defaults", func() {
			writeConfig(tmpDir, `version = 0

[provider]
name = "anthropic"
target = "https://api.anthropic.com"

[cache]
store = "badger"
threshold = 0.92
ttl = "10m"
`)
			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Provider.Name).To(Equal("anthropic"))
			Expect(cfg.Provider.Timeout).To(Equal("60s"))
			Expect(cfg.Cache.Store).To(Equal("badger"))
			Expect(cfg.Cache.Threshold).To(Equal(0.92))
			Expect(cfg.Cache.TTLDuration()).To(Equal(10 * time.Minute))
			Expect(cfg.Cache.MaxSize).To(Equal(1))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(768)))
		})

		It("rejects unsupported versions", func() {
			writeConfig(tmpDir, "version = 7\n")
			_, err := c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 7")))
		})

		DescribeTable("rejects invalid file values",
			func(data, message string) {
				writeConfig(tmpDir, data)
				_, err := c.LoadConfig()
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("ttl", "[cache]\nttl = \"soon\"\n", "invalid value for cache.ttl"),
			Entry("timeout", "[provider]\ntimeout = \"forever\"\n", "invalid value for provider.timeout"),
			Entry("threshold", "[cache]\nthreshold = 2.0\n", "invalid value for cache.threshold"),
			Entry("proxy provider", "[proxy]\nprovider = \"gemini\"\n", "invalid value for proxy.provider"),
		)

		It("keeps a zero threshold through set and reload", func() {
			Expect(c.SetConfigValue("cache.threshold", "0")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Cache.Threshold).To(BeZero())
		})

		It("reports malformed TOML", func() {
			writeConfig(tmpDir, "[provider\n")
			_, err := c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("parsing config TOML")))
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		It("round trips every key through config.toml", func() {
			Expect(c.SetConfigValue("vector_store.provider", "qdrant")).To(Succeed())
			Expect(c.SetConfigValue("embedding.dimensions", "1024")).To(Succeed())
			Expect(c.SetConfigValue("cache.policy", "fixed")).To(Succeed())

			val, err := c.GetConfigValue("vector_store.provider")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("qdrant"))

			val, err = c.GetConfigValue("embedding.dimensions")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("1024"))

			val, err = c.GetConfigValue("cache.threshold")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("1"))

			info, err := os.Stat(c.GetTarget())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		DescribeTable("rejects invalid values",
			func(key, value, message string) {
				Expect(c.SetConfigValue(key, value)).To(MatchError(ContainSubstring(message)))
			},
			Entry("unknown key", "proxy.bind", ":1", `unknown config key: "proxy.bind"`),
			Entry("dimensions", "embedding.dimensions", "lots", "invalid value for embedding.dimensions"),
			Entry("policy", "cache.policy", "lru", "invalid value for cache.policy"),
			Entry("max size", "cache.max_size", "0", "invalid value for cache.max_size"),
			Entry("threshold", "cache.threshold", "1.5", "invalid value for cache.threshold"),
			Entry("ttl", "cache.ttl", "soon", "invalid value for cache.ttl"),
			Entry("log level", "log.level", "loud", "invalid value for log.level"),
		)

		It("returns an error for unknown keys on get", func() {
			_, err := c.GetConfigValue("nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Watch", func() {
		It("delivers reloaded configs and skips invalid ones", func() {
			ctx, cancel := context.WithCancel(context.Background())
			DeferCleanup(cancel)

			var (
				mu     sync.Mutex
				levels []string
			)
			Expect(c.Watch(ctx, func(cfg *config.Config) {
				mu.Lock()
				defer mu.Unlock()
				levels = append(levels, cfg.Log.Level)
			}, nil)).To(Succeed())

			writeConfig(tmpDir, "[log]\nlevel = \"debug\"\n")

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), levels...)
			}).WithTimeout(5 * time.Second).Should(ContainElement("debug"))

			Expect(os.WriteFile(filepath.Join(tmpDir, "other.txt"), []byte("x"), 0o600)).To(Succeed())
			writeConfig(tmpDir, "version = 9\n")

			Consistently(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), levels...)
			}).WithTimeout(300 * time.Millisecond).Should(HaveEach("debug"))
		})
	})
})

var _ = Describe("ValidConfigKeys", func() {
	It("lists every key exactly once, sections first to last", func() {
		keys := config.ValidConfigKeys()
		Expect(keys[0]).To(Equal("provider.name"))
		Expect(keys[len(keys)-1]).To(Equal("log.format"))

		seen := map[string]bool{}
		for _, k := range keys {
			Expect(seen).NotTo(HaveKey(k))
			seen[k] = true
			Expect(config.IsValidConfigKey(k)).To(BeTrue())
		}
		Expect(config.IsValidConfigKey("storage.sqlite_path")).To(BeFalse())
	})
})

var _ = Describe("PresetConfig", func() {
	It("adjusts the provider section", func() {
		cfg, err := config.PresetConfig("WatsonX")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Provider.Name).To(Equal("watsonx"))
		Expect(cfg.Provider.PromptFormat).To(Equal("granite"))
		Expect(cfg.Embedding.Provider).To(Equal("watsonx"))
		Expect(cfg.Cache).To(Equal(config.NewDefaultConfig().Cache))
	})

	It("rejects unknown presets", func() {
		_, err := config.PresetConfig("acme")
		Expect(err).To(MatchError(ContainSubstring(`unknown preset: "acme"`)))
	})
})

var _ = Describe("KafkaConfig", func() {
	It("splits and trims the broker list", func() {
		k := config.KafkaConfig{Brokers: " a:9092, ,b:9092 "}
		Expect(k.BrokerList()).To(Equal([]string{"a:9092", "b:9092"}))
		Expect(config.KafkaConfig{}.BrokerList()).To(BeEmpty())
	})
})

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		defaults := config.NewDefaultConfig()
		Expect(v.GetString("provider.name")).To(Equal(defaults.Provider.Name))
		Expect(v.GetString("api.listen")).To(Equal(defaults.API.Listen))
		Expect(v.GetUint("api.queue_size")).To(Equal(defaults.API.QueueSize))
		Expect(v.GetFloat64("cache.threshold")).To(Equal(defaults.Cache.Threshold))
	})

	It("applies flag > env > file > default precedence", func() {
		writeConfig(tmpDir, `[provider]
name = "anthropic"
model = "claude-haiku"

[api]
listen = ":5555"
`)
		GinkgoT().Setenv("LLMKIT_PROVIDER_MODEL", "from-env")
		GinkgoT().Setenv("LLMKIT_API_LISTEN", ":6666")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen, provider string
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
		config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &provider)
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen, config.FlagProvider})

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.API.Listen).To(Equal(":7777"))
		Expect(cfg.Provider.Model).To(Equal("from-env"))
		Expect(cfg.Provider.Name).To(Equal("anthropic"))
		Expect(cfg.Cache.Store).To(Equal("inmemory"))
	})

	It("registers flag defaults from NewDefaultConfig", func() {
		cmd := &cobra.Command{Use: "test"}
		var dims uint
		config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &dims)
		Expect(dims).To(Equal(uint(768)))
		Expect(cmd.Flags().Lookup("embedding-dimensions")).NotTo(BeNil())
	})

	It("surfaces invalid values from the environment", func() {
		GinkgoT().Setenv("LLMKIT_CACHE_POLICY", "lru")
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("cache.policy")))
	})
})
