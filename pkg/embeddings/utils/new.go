// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/embeddings/ollama"
	"github.com/papercomputeco/llmkit/pkg/embeddings/openai"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/bam"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/gemini"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/huggingface"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/mistral"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/watsonx"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	APIKey       string
	Model        string
	Timeout      time.Duration

	// ProjectID scopes watsonx requests and selects Gemini on Vertex AI.
	ProjectID string
	Location  string

	Logger *slog.Logger
}

// SupportedEmbedders lists the provider types NewEmbedder accepts.
func SupportedEmbedders() []string {
	return []string{"ollama", "openai", "mistral", "bam", "watsonx", "gemini", "huggingface"}
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
			Timeout: o.Timeout,
		}, o.Logger)
	case "openai":
		return openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL: o.TargetURL,
			APIKey:  o.APIKey,
			Model:   o.Model,
		}, o.Logger)
	case "mistral":
		return mistral.New(mistral.Config{
			BaseURL:        o.TargetURL,
			APIKey:         o.APIKey,
			EmbeddingModel: o.Model,
			Timeout:        o.Timeout,
		}, o.Logger)
	case "bam":
		return bam.New(bam.Config{
			BaseURL:        o.TargetURL,
			APIKey:         o.APIKey,
			EmbeddingModel: o.Model,
			Timeout:        o.Timeout,
		}, o.Logger)
	case "watsonx":
		return watsonx.New(watsonx.Config{
			BaseURL:        o.TargetURL,
			APIKey:         o.APIKey,
			ProjectID:      o.ProjectID,
			EmbeddingModel: o.Model,
			Timeout:        o.Timeout,
		}, o.Logger)
	case "gemini":
		return gemini.New(gemini.Config{
			BaseURL:        o.TargetURL,
			APIKey:         o.APIKey,
			AccessToken:    o.APIKey,
			ProjectID:      o.ProjectID,
			Location:       o.Location,
			EmbeddingModel: o.Model,
			Timeout:        o.Timeout,
		}, o.Logger)
	case "huggingface":
		return huggingface.New(huggingface.Config{
			APIKey:       o.APIKey,
			ChatURL:      o.TargetURL,
			EmbeddingURL: o.TargetURL,
			Timeout:      o.Timeout,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: %v)", o.ProviderType, SupportedEmbedders())
	}
}
