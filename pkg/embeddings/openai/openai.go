// Package openai embeds text through any OpenAI-compatible /embeddings
// endpoint using langchaingo's embedder.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	llmembeddings "github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultBatchSize      = 512

	// noToken is sent to local OpenAI-compatible services without auth.
	noToken = "none"
)

// EmbedderConfig configures the embedder.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int

	HTTPClient *http.Client
}

// Embedder implements embeddings.Embedder over langchaingo.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewEmbedder creates an OpenAI-compatible embedder.
func NewEmbedder(cfg EmbedderConfig, log *slog.Logger) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	token := cfg.APIKey
	if token == "" {
		token = noToken
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := []lcopenai.Option{
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, lcopenai.WithHTTPClient(cfg.HTTPClient))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Embedder{
		embedder: embedder,
		logger:   log.With("embedder", "openai", "model", cfg.Model),
	}, nil
}

// Embed generates a vector embedding for a single text string.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll generates embeddings for texts, batched by the configured size.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("generating embeddings", "count", len(texts))

	out, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrEmbedding, err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, errors.New("embedder returned a partial result"))
	}
	return out, nil
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

var _ llmembeddings.Embedder = (*Embedder)(nil)
