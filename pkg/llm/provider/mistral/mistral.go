// Package mistral is a client for the Mistral AI platform. Chat uses the
// OpenAI-compatible wire format; embeddings and the model list are served
// from the same base URL.
package mistral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/openai"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
)

const (
	providerName = "mistral"

	DefaultBaseURL        = "https://api.mistral.ai/v1"
	DefaultModel          = "mistral-small-latest"
	DefaultEmbeddingModel = "mistral-embed"
)

// Error is the decoded Mistral error document. Mistral returns the same
// shape as OpenAI, so the type is shared.
type Error = openai.Error

// Config configures the Mistral client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Model is one entry of GET /models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Data []Model `json:"data"`
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Provider is a Mistral chat and embedding client.
type Provider struct {
	cfg  Config
	chat *openai.Provider
	rest *restclient.Client
}

// New creates a Mistral client. An API key is required.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mistral: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if log == nil {
		log = logger.Nop()
	}

	chat, err := openai.NewCompatible(providerName, openai.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		Timeout:      cfg.Timeout,
		LogRequests:  cfg.LogRequests,
		LogResponses: cfg.LogResponses,
		HTTPClient:   cfg.HTTPClient,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:  cfg,
		chat: chat,
		rest: restclient.New(restclient.Config{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			Headers:      map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			DecodeError:  openai.DecodeError(providerName),
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log.With("provider", providerName)),
	}, nil
}

// Name returns "mistral".
func (p *Provider) Name() string {
	return providerName
}

// Chat sends a chat completion request.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.chat.Chat(ctx, req)
}

// Stream sends a streaming chat completion request.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	return p.chat.Stream(ctx, req, handler)
}

// Embed embeds a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll embeds texts in one request. Results are ordered by input index.
func (p *Provider) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	body := embeddingRequest{Model: p.cfg.EmbeddingModel, Input: texts, EncodingFormat: "float"}
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("mistral: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("mistral: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// ListModels returns the models available to the API key.
func (p *Provider) ListModels(ctx context.Context) ([]Model, error) {
	var resp modelList
	if err := p.rest.DoJSON(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
