package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// cannot drift between "llmkit serve", "llmkit chat" and "llmkit search".
type Flag struct {
	// Name is the long flag name (e.g. "provider").
	Name string

	// Shorthand is the one-letter short flag (e.g. "p"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "provider.name").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag registry keys to their definitions.
type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagProvider        = "provider"
	FlagModel           = "model"
	FlagProviderTarget  = "provider-target"
	FlagEmbeddingProv   = "embedding-provider"
	FlagEmbeddingTgt    = "embedding-target"
	FlagEmbeddingModel  = "embedding-model"
	FlagEmbeddingDims   = "embedding-dimensions"
	FlagCacheStore      = "cache-store"
	FlagCacheTarget     = "cache-target"
	FlagCachePolicy     = "cache-policy"
	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"
	FlagCollection      = "collection"
	FlagAPIListen       = "listen"
	FlagAPITarget       = "api-target"
	FlagProxyListen     = "proxy-listen"
	FlagProxyUpstream   = "upstream"
	FlagProxyProvider   = "upstream-provider"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagLogLevel        = "log-level"
	FlagLogFormat       = "log-format"
)

// Flags is the registry every command draws its flags from.
var Flags = FlagSet{
	FlagProvider:        {Name: "provider", Shorthand: "p", ViperKey: "provider.name", Description: "Chat model provider"},
	FlagModel:           {Name: "model", Shorthand: "m", ViperKey: "provider.model", Description: "Chat model name"},
	FlagProviderTarget:  {Name: "provider-target", ViperKey: "provider.target", Description: "Chat provider base URL"},
	FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider"},
	FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider base URL"},
	FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensions"},
	FlagCacheStore:      {Name: "cache-store", ViperKey: "cache.store", Description: "Cache store (inmemory, badger, sqlite, postgres, redis)"},
	FlagCacheTarget:     {Name: "cache-target", ViperKey: "cache.target", Description: "Cache store path, DSN or URL"},
	FlagCachePolicy:     {Name: "cache-policy", ViperKey: "cache.policy", Description: "Cache retention policy (fixed, message_window)"},
	FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store backend"},
	FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store URL, DSN or path"},
	FlagCollection:      {Name: "collection", ViperKey: "vector_store.collection", Description: "Vector store collection"},
	FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagAPITarget:       {Name: "api-target", ViperKey: "client.api_target", Description: "URL of a running llmkit API server"},
	FlagProxyListen:     {Name: "listen", Shorthand: "l", ViperKey: "proxy.listen", Description: "Address for the caching proxy to listen on"},
	FlagProxyUpstream:   {Name: "upstream", Shorthand: "u", ViperKey: "proxy.upstream", Description: "Upstream LLM provider URL"},
	FlagProxyProvider:   {Name: "upstream-provider", ViperKey: "proxy.provider", Description: "Upstream API dialect (openai, anthropic, ollama)"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "kafka.brokers", Description: "Comma separated Kafka brokers for events"},
	FlagLogLevel:        {Name: "log-level", ViperKey: "log.level", Description: "Log level (debug, info, warn, error)"},
	FlagLogFormat:       {Name: "log-format", ViperKey: "log.format", Description: "Log format (pretty, text, json)"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
