package config

const (
	defaultProvider       = "ollama"
	defaultProviderTarget = "http://localhost:11434"
	defaultProviderModel  = "llama3.2"
	defaultTimeout        = "60s"

	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultCacheStore     = "inmemory"
	defaultCachePolicy    = "message_window"
	defaultCacheMaxSize   = 1
	defaultCacheThreshold = 1.0

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "llmkit"

	defaultAPIListen    = ":8081"
	defaultAPIWorkers   = 3
	defaultAPIQueueSize = 256

	defaultProxyListen = ":8090"

	defaultKafkaTopic    = "llmkit.events"
	defaultKafkaClientID = "llmkit"

	defaultClientAPITarget = "http://localhost:8081"

	defaultLogLevel  = "info"
	defaultLogFormat = "pretty"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Provider: ProviderConfig{
			Name:    defaultProvider,
			Model:   defaultProviderModel,
			Target:  defaultProviderTarget,
			Timeout: defaultTimeout,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultProvider,
			Target:     defaultProviderTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Cache: CacheConfig{
			Store:     defaultCacheStore,
			Policy:    defaultCachePolicy,
			MaxSize:   defaultCacheMaxSize,
			Threshold: defaultCacheThreshold,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		API: APIConfig{
			Listen:    defaultAPIListen,
			Workers:   defaultAPIWorkers,
			QueueSize: defaultAPIQueueSize,
		},
		Proxy: ProxyConfig{
			Listen:   defaultProxyListen,
			Upstream: defaultProviderTarget,
			Provider: defaultProvider,
		},
		Kafka: KafkaConfig{
			Topic:    defaultKafkaTopic,
			ClientID: defaultKafkaClientID,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
