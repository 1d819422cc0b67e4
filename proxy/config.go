package proxy

import (
	"time"

	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/eventstream"
)

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	// UpstreamURL is the upstream LLM provider URL (e.g., "http://localhost:11434")
	UpstreamURL string

	// ProviderType is the API dialect of the upstream: "openai", "anthropic"
	// or "ollama". It decides which endpoints are cached and how their
	// bodies are read.
	ProviderType string

	// ProviderUpstreams overrides the upstream of /providers/<name>/ routes.
	ProviderUpstreams map[string]string

	// Caches answers repeated prompts. Required.
	Caches *cache.Provider

	// Publisher receives cache hit, miss and store events. Optional.
	Publisher eventstream.Publisher

	// Workers and QueueSize size the pool storing upstream answers.
	Workers   uint
	QueueSize uint

	// Timeout bounds one upstream request (defaults to 5 minutes).
	Timeout time.Duration
}
