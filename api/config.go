// Package api provides the llmkit HTTP API: cached chat, embeddings,
// document ingest, semantic search and an MCP endpoint.
package api

import (
	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/worker"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Model answers chat requests. Usually a *cache.CachedModel.
	Model provider.Provider

	// DefaultModel is used when a chat request does not name a model.
	DefaultModel string

	// Caches backs DELETE /v1/cache/:id. Optional.
	Caches *cache.Provider

	// Embedder serves /v1/embeddings and embeds search queries. Optional.
	Embedder embeddings.Embedder

	// VectorDriver for semantic search. Optional.
	VectorDriver vector.Driver

	// Pool ingests documents posted to /v1/documents. Optional.
	Pool *worker.Pool
}
