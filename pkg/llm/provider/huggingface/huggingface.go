// Package huggingface is a client for Hugging Face inference endpoints:
// text generation for chat and feature extraction for embeddings.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
)

const (
	providerName = "huggingface"

	DefaultChatURL      = "https://api-inference.huggingface.co/models/tiiuae/falcon-7b-instruct"
	DefaultEmbeddingURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2"
	DefaultTimeout      = 15 * time.Second

	hostedMarker = "api-inference.huggingface.co"
)

// Config configures the Hugging Face client. An API key is required for the
// hosted inference API and optional for self-hosted endpoints.
type Config struct {
	APIKey       string
	ChatURL      string
	EmbeddingURL string
	Timeout      time.Duration

	Temperature       *float64
	MaxNewTokens      *int
	ReturnFullText    *bool
	DoSample          *bool
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64

	// WaitForModel defaults to true.
	WaitForModel *bool

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Error is an inference API error: {"error": "...", "estimated_time": 20.0}.
type Error struct {
	StatusCode    int
	Message       string
	EstimatedTime float64
}

func (e *Error) Error() string {
	return fmt.Sprintf("huggingface: status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

type generationRequest struct {
	Inputs     string      `json:"inputs"`
	Parameters *parameters `json:"parameters,omitempty"`
	Options    *options    `json:"options,omitempty"`
}

type parameters struct {
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty"`
	ReturnFullText    *bool    `json:"return_full_text,omitempty"`
	DoSample          *bool    `json:"do_sample,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
}

type options struct {
	WaitForModel bool `json:"wait_for_model"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

type embeddingRequest struct {
	Inputs  []string `json:"inputs"`
	Options *options `json:"options,omitempty"`
}

type errorBody struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// Provider is a Hugging Face chat and embedding client.
type Provider struct {
	cfg       Config
	chat      *restclient.Client
	embedding *restclient.Client
}

// New creates a Hugging Face client.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.ChatURL == "" {
		cfg.ChatURL = DefaultChatURL
	}
	if cfg.EmbeddingURL == "" {
		cfg.EmbeddingURL = DefaultEmbeddingURL
	}
	if cfg.APIKey == "" && (strings.Contains(cfg.ChatURL, hostedMarker) || strings.Contains(cfg.EmbeddingURL, hostedMarker)) {
		return nil, errors.New("huggingface: api key is required for the hosted inference api")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WaitForModel == nil {
		wait := true
		cfg.WaitForModel = &wait
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
		log.Debug("using api key", "api_key", logger.Mask(cfg.APIKey))
	}

	client := func(base string) *restclient.Client {
		return restclient.New(restclient.Config{
			BaseURL:      base,
			Timeout:      cfg.Timeout,
			Headers:      headers,
			DecodeError:  decodeError,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log)
	}

	return &Provider{
		cfg:       cfg,
		chat:      client(cfg.ChatURL),
		embedding: client(cfg.EmbeddingURL),
	}, nil
}

// Name returns "huggingface".
func (p *Provider) Name() string {
	return providerName
}

// Chat joins the message texts with newlines and calls text generation.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("huggingface: tools: %w", llm.ErrUnsupported)
	}

	var inputs []string
	if sys := req.SystemPrompt(); sys != "" {
		inputs = append(inputs, sys)
	}
	for _, m := range req.NonSystemMessages() {
		inputs = append(inputs, m.GetText())
	}

	body := generationRequest{
		Inputs: strings.Join(inputs, "\n"),
		Parameters: &parameters{
			Temperature:       firstNonNil(req.Temperature, p.cfg.Temperature),
			MaxNewTokens:      firstNonNil(req.MaxTokens, p.cfg.MaxNewTokens),
			ReturnFullText:    p.cfg.ReturnFullText,
			DoSample:          p.cfg.DoSample,
			TopK:              firstNonNil(req.TopK, p.cfg.TopK),
			TopP:              firstNonNil(req.TopP, p.cfg.TopP),
			RepetitionPenalty: p.cfg.RepetitionPenalty,
		},
		Options: &options{WaitForModel: *p.cfg.WaitForModel},
	}

	var out []generation
	if err := p.chat.DoJSON(ctx, http.MethodPost, "", body, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("huggingface: %w", llm.ErrEmptyResponse)
	}

	return &llm.ChatResponse{
		Model:        req.Model,
		Message:      llm.NewTextMessage(llm.RoleAssistant, out[0].GeneratedText),
		Done:         true,
		FinishReason: llm.FinishStop,
	}, nil
}

// Stream has no native counterpart; the full response is delivered as a
// single chunk.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := handler(&llm.StreamChunk{Model: resp.Model, Text: resp.Text(), Done: true}); err != nil {
		return nil, err
	}
	return resp, nil
}

// Embed embeds one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll calls the feature extraction pipeline.
func (p *Provider) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	body := embeddingRequest{Inputs: texts, Options: &options{WaitForModel: *p.cfg.WaitForModel}}
	if err := p.embedding.DoJSON(ctx, http.MethodPost, "", body, &out); err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("huggingface: expected %d embeddings, got %d", len(texts), len(out))
	}
	return out, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

func decodeError(status int, body []byte) error {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &Error{StatusCode: status, Message: e.Error, EstimatedTime: e.EstimatedTime}
	}
	return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
