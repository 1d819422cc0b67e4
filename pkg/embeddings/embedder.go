// Package embeddings defines the text embedding contract shared by the
// semantic cache, the vector ingest pipeline and the API.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedAll converts texts into embeddings, in input order.
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// SingleEmbedder is the minimum an embedding backend must offer. Batch turns
// it into EmbedAll.
type SingleEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
