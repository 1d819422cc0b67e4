// Package config loads, saves and layers the llmkit configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/llmkit/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	target, err := dotdir.NewManager().Target(override)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(target, configFile)
	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return &Configer{targetPath: path}, nil
}

// orderedKeys lists the config keys in TOML section order.
var orderedKeys = []string{
	"provider.name",
	"provider.model",
	"provider.target",
	"provider.version",
	"provider.project_id",
	"provider.space_id",
	"provider.deployment_id",
	"provider.location",
	"provider.region",
	"provider.prompt_format",
	"provider.timeout",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.query_prefix",
	"embedding.passage_prefix",
	"cache.store",
	"cache.target",
	"cache.policy",
	"cache.max_size",
	"cache.threshold",
	"cache.ttl",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"vector_store.namespace",
	"api.listen",
	"api.workers",
	"api.queue_size",
	"proxy.listen",
	"proxy.upstream",
	"proxy.provider",
	"kafka.brokers",
	"kafka.topic",
	"kafka.client_id",
	"client.api_target",
	"log.level",
	"log.format",
}

// ValidConfigKeys returns all supported configuration key names in a stable
// order matching the TOML section layout.
func ValidConfigKeys() []string {
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range orderedKeys {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}
	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads config.toml. A missing file yields NewDefaultConfig();
// fields set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfigTOML(data)
}

// SaveConfig persists the configuration to config.toml.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// Get returns the string form of key on cfg.
func (cfg *Config) Get(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}
	return info.get(cfg), nil
}

// PresetConfig returns the defaults adjusted for the named provider.
// Supported presets: "ollama", "openai", "anthropic", "watsonx".
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "ollama":

	case "openai":
		cfg.Provider = ProviderConfig{Name: "openai", Model: "gpt-4o-mini", Target: "https://api.openai.com/v1", Timeout: defaultTimeout}
		cfg.Embedding = EmbeddingConfig{Provider: "openai", Target: "https://api.openai.com/v1", Model: "text-embedding-3-small", Dimensions: 1536}

	case "anthropic":
		cfg.Provider = ProviderConfig{Name: "anthropic", Model: "claude-sonnet-4-5", Target: "https://api.anthropic.com", Timeout: defaultTimeout}

	case "watsonx":
		cfg.Provider = ProviderConfig{
			Name:         "watsonx",
			Model:        "ibm/granite-3-8b-instruct",
			Target:       "https://us-south.ml.cloud.ibm.com",
			PromptFormat: "granite",
			Timeout:      defaultTimeout,
		}
		cfg.Embedding = EmbeddingConfig{
			Provider:   "watsonx",
			Target:     "https://us-south.ml.cloud.ibm.com",
			Model:      "ibm/slate-125m-english-rtrvr",
			Dimensions: 768,
		}

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: %s)", name, strings.Join(ValidPresetNames(), ", "))
	}

	return cfg, nil
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"ollama", "openai", "anthropic", "watsonx"}
}

// ParseConfigTOML decodes raw TOML over NewDefaultConfig().
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every non-empty key with the same rules SetConfigValue
// applies.
func (cfg *Config) Validate() error {
	scratch := *cfg
	for _, key := range ValidConfigKeys() {
		info := configKeys[key]
		val := info.get(cfg)
		if val == "" {
			continue
		}
		if err := info.set(&scratch, val); err != nil {
			return err
		}
	}
	return nil
}

// TimeoutDuration parses Timeout. Empty or invalid values give zero, which
// leaves the provider default in place.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

// TTLDuration parses TTL. Empty disables expiry; Validate rejects values
// that do not parse.
func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// BrokerList splits Brokers on commas.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
