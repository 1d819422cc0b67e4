package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent llmkit configuration stored as
// config.toml in the .llmkit/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Provider    ProviderConfig    `toml:"provider"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Cache       CacheConfig       `toml:"cache"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	API         APIConfig         `toml:"api"`
	Proxy       ProxyConfig       `toml:"proxy"`
	Kafka       KafkaConfig       `toml:"kafka"`
	Client      ClientConfig      `toml:"client"`
	Log         LogConfig         `toml:"log"`
}

// ProviderConfig selects the chat model. API keys live in credentials.toml.
type ProviderConfig struct {
	Name         string `toml:"name,omitempty"`
	Model        string `toml:"model,omitempty"`
	Target       string `toml:"target,omitempty"`
	Version      string `toml:"version,omitempty"`
	ProjectID    string `toml:"project_id,omitempty"`
	SpaceID      string `toml:"space_id,omitempty"`
	DeploymentID string `toml:"deployment_id,omitempty"`
	Location     string `toml:"location,omitempty"`
	Region       string `toml:"region,omitempty"`
	PromptFormat string `toml:"prompt_format,omitempty"`
	Timeout      string `toml:"timeout,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider      string `toml:"provider,omitempty"`
	Target        string `toml:"target,omitempty"`
	Model         string `toml:"model,omitempty"`
	Dimensions    uint   `toml:"dimensions,omitempty"`
	QueryPrefix   string `toml:"query_prefix,omitempty"`
	PassagePrefix string `toml:"passage_prefix,omitempty"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	// Store is one of inmemory, badger, sqlite, postgres or redis.
	Store string `toml:"store,omitempty"`

	// Target is the database path, DSN or URL of the store.
	Target string `toml:"target,omitempty"`

	// Policy is fixed or message_window.
	Policy    string  `toml:"policy,omitempty"`
	MaxSize   int     `toml:"max_size,omitempty"`
	Threshold float64 `toml:"threshold"`
	TTL       string  `toml:"ttl,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
	Namespace  string `toml:"namespace,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen    string `toml:"listen,omitempty"`
	Workers   uint   `toml:"workers,omitempty"`
	QueueSize uint   `toml:"queue_size,omitempty"`
}

// ProxyConfig holds caching proxy settings. Provider is the API dialect of
// the upstream: openai, anthropic or ollama.
type ProxyConfig struct {
	Listen   string `toml:"listen,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	Provider string `toml:"provider,omitempty"`
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	// Brokers is a comma separated host:port list.
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	ClientID string `toml:"client_id,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running API
// server. Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// LogConfig controls logging. Level is debug, info, warn or error. Format
// is pretty, text or json.
type LogConfig struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if v != "" {
				if _, err := time.ParseDuration(v); err != nil {
					return fmt.Errorf("invalid value for %s: %w", name, err)
				}
			}
			*field(c) = v
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"provider.name":          stringKey(func(c *Config) *string { return &c.Provider.Name }),
	"provider.model":         stringKey(func(c *Config) *string { return &c.Provider.Model }),
	"provider.target":        stringKey(func(c *Config) *string { return &c.Provider.Target }),
	"provider.version":       stringKey(func(c *Config) *string { return &c.Provider.Version }),
	"provider.project_id":    stringKey(func(c *Config) *string { return &c.Provider.ProjectID }),
	"provider.space_id":      stringKey(func(c *Config) *string { return &c.Provider.SpaceID }),
	"provider.deployment_id": stringKey(func(c *Config) *string { return &c.Provider.DeploymentID }),
	"provider.location":      stringKey(func(c *Config) *string { return &c.Provider.Location }),
	"provider.region":        stringKey(func(c *Config) *string { return &c.Provider.Region }),
	"provider.prompt_format": stringKey(func(c *Config) *string { return &c.Provider.PromptFormat }),
	"provider.timeout":       durationKey("provider.timeout", func(c *Config) *string { return &c.Provider.Timeout }),

	"embedding.provider":       stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":         stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":          stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions":     uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.query_prefix":   stringKey(func(c *Config) *string { return &c.Embedding.QueryPrefix }),
	"embedding.passage_prefix": stringKey(func(c *Config) *string { return &c.Embedding.PassagePrefix }),

	"cache.store":  stringKey(func(c *Config) *string { return &c.Cache.Store }),
	"cache.target": stringKey(func(c *Config) *string { return &c.Cache.Target }),
	"cache.policy": {
		get: func(c *Config) string { return c.Cache.Policy },
		set: func(c *Config, v string) error {
			if v != "fixed" && v != "message_window" {
				return fmt.Errorf("invalid value for cache.policy: %q (expected fixed or message_window)", v)
			}
			c.Cache.Policy = v
			return nil
		},
	},
	"cache.max_size": {
		get: func(c *Config) string { return strconv.Itoa(c.Cache.MaxSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for cache.max_size: %q (expected a positive integer)", v)
			}
			c.Cache.MaxSize = n
			return nil
		},
	},
	"cache.threshold": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Cache.Threshold, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < -1 || f > 1 {
				return fmt.Errorf("invalid value for cache.threshold: %q (expected a number in [-1, 1])", v)
			}
			c.Cache.Threshold = f
			return nil
		},
	},
	"cache.ttl": durationKey("cache.ttl", func(c *Config) *string { return &c.Cache.TTL }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),
	"vector_store.namespace":  stringKey(func(c *Config) *string { return &c.VectorStore.Namespace }),

	"api.listen":     stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.workers":    uintKey("api.workers", func(c *Config) *uint { return &c.API.Workers }),
	"api.queue_size": uintKey("api.queue_size", func(c *Config) *uint { return &c.API.QueueSize }),

	"proxy.listen":   stringKey(func(c *Config) *string { return &c.Proxy.Listen }),
	"proxy.upstream": stringKey(func(c *Config) *string { return &c.Proxy.Upstream }),
	"proxy.provider": {
		get: func(c *Config) string { return c.Proxy.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case "openai", "anthropic", "ollama":
				c.Proxy.Provider = v
				return nil
			}
			return fmt.Errorf("invalid value for proxy.provider: %q (expected openai, anthropic or ollama)", v)
		},
	},

	"kafka.brokers":   stringKey(func(c *Config) *string { return &c.Kafka.Brokers }),
	"kafka.topic":     stringKey(func(c *Config) *string { return &c.Kafka.Topic }),
	"kafka.client_id": stringKey(func(c *Config) *string { return &c.Kafka.ClientID }),

	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"log.level": {
		get: func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error {
			switch v {
			case "debug", "info", "warn", "error":
				c.Log.Level = v
				return nil
			}
			return fmt.Errorf("invalid value for log.level: %q", v)
		},
	},
	"log.format": {
		get: func(c *Config) string { return c.Log.Format },
		set: func(c *Config, v string) error {
			switch v {
			case "pretty", "text", "json":
				c.Log.Format = v
				return nil
			}
			return fmt.Errorf("invalid value for log.format: %q", v)
		},
	},
}
