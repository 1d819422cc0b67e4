// Package watsonx is a client for IBM watsonx.ai text generation,
// tokenization and embeddings. Requests are authenticated with an IAM bearer
// token exchanged from an API key.
package watsonx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/sse"
)

const (
	providerName = "watsonx"

	DefaultVersion        = "2024-03-14"
	DefaultModel          = "ibm/granite-13b-chat-v2"
	DefaultEmbeddingModel = "ibm/slate-125m-english-rtrvr"
	DefaultTimeout        = 10 * time.Second
	DefaultDecoding       = "greedy"
)

// Config configures the watsonx client. BaseURL is the regional endpoint,
// e.g. https://us-south.ml.cloud.ibm.com.
type Config struct {
	BaseURL      string
	IAMURL       string
	APIKey       string
	Version      string
	ProjectID    string
	SpaceID      string
	DeploymentID string

	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	// PromptFormatter renders chat messages into the input prompt.
	PromptFormatter PromptFormatter

	DecodingMethod      string
	DecayFactor         *float64
	StartIndex          *int
	MinNewTokens        *int
	MaxNewTokens        *int
	RandomSeed          *int
	StopSequences       []string
	Temperature         *float64
	TimeLimit           *int
	TopP                *float64
	TopK                *int
	RepetitionPenalty   *float64
	TruncateInputTokens *int
	IncludeStopSequence *bool

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Provider is a watsonx.ai client.
type Provider struct {
	cfg    Config
	tokens *tokenCache
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates a watsonx client. BaseURL, APIKey and one of ProjectID,
// SpaceID or DeploymentID are required.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, errors.New("watsonx: base url is required")
	case cfg.APIKey == "":
		return nil, errors.New("watsonx: api key is required")
	case cfg.ProjectID == "" && cfg.SpaceID == "" && cfg.DeploymentID == "":
		return nil, errors.New("watsonx: project id, space id or deployment id is required")
	}
	if cfg.IAMURL == "" {
		cfg.IAMURL = DefaultIAMURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DecodingMethod == "" {
		cfg.DecodingMethod = DefaultDecoding
	}
	if cfg.PromptFormatter == nil {
		cfg.PromptFormatter = DefaultFormatter
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)
	log.Debug("using api key", "api_key", logger.Mask(cfg.APIKey))

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tokens := newTokenCache(&iamSource{
		ctx:     context.Background(),
		url:     cfg.IAMURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  httpClient,
	})

	return &Provider{
		cfg:    cfg,
		tokens: tokens,
		rest: restclient.New(restclient.Config{
			BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/ml/v1",
			Timeout: cfg.Timeout,
			Query:   url.Values{"version": {cfg.Version}},
			HeaderFunc: func(_ context.Context, h http.Header) error {
				tok, err := tokens.Token()
				if err != nil {
					return fmt.Errorf("watsonx: %w", err)
				}
				h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
				return nil
			},
			DecodeError:  decodeError,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log),
		logger: log,
	}, nil
}

// Name returns "watsonx".
func (p *Provider) Name() string {
	return providerName
}

// Chat renders the messages with the prompt formatter and calls text
// generation.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp generationResponse
	err = p.retryOnExpiredToken(func() error {
		return p.rest.DoJSON(ctx, http.MethodPost, p.generationPath(false), body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("watsonx: %w", llm.ErrEmptyResponse)
	}

	result := resp.Results[0]
	finish, err := FinishReason(result.StopReason)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Model:        resp.ModelID,
		CreatedAt:    resp.CreatedAt,
		Message:      llm.NewTextMessage(llm.RoleAssistant, result.GeneratedText),
		Done:         true,
		StopReason:   result.StopReason,
		FinishReason: finish,
		Usage:        llm.NewUsage(result.InputTokenCount, result.GeneratedTokenCount),
	}, nil
}

// Stream calls the streaming generation endpoint. Empty fragments are
// skipped. Input tokens come from the first fragment; output tokens and the
// stop reason from the last.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = p.retryOnExpiredToken(func() error {
		var streamErr error
		resp, streamErr = p.rest.Stream(ctx, http.MethodPost, p.generationPath(true), body, "text/event-stream")
		return streamErr
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text    strings.Builder
		model   string
		results []generationResult
	)

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading watsonx stream: %w", err)
		}
		if ev == nil {
			break
		}
		if ev.Type == "error" {
			return nil, decodeError(http.StatusInternalServerError, []byte(ev.Data))
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}

		var chunk generationResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding watsonx stream event: %w", err)
		}
		if len(chunk.Results) == 0 || chunk.Results[0].GeneratedText == "" {
			continue
		}
		if chunk.ModelID != "" {
			model = chunk.ModelID
		}

		result := chunk.Results[0]
		results = append(results, result)
		text.WriteString(result.GeneratedText)
		if err := handler(&llm.StreamChunk{Model: model, Text: result.GeneratedText}); err != nil {
			return nil, err
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("watsonx: %w", llm.ErrEmptyResponse)
	}

	first, last := results[0], results[len(results)-1]
	finish, err := FinishReason(last.StopReason)
	if err != nil {
		return nil, err
	}
	usage := llm.NewUsage(first.InputTokenCount, last.GeneratedTokenCount)
	if err := handler(&llm.StreamChunk{Model: model, Done: true, StopReason: last.StopReason, Usage: usage}); err != nil {
		return nil, err
	}

	return &llm.ChatResponse{
		Model:        model,
		Message:      llm.NewTextMessage(llm.RoleAssistant, text.String()),
		Done:         true,
		StopReason:   last.StopReason,
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// CountTokens tokenizes the rendered prompt.
func (p *Provider) CountTokens(ctx context.Context, req *llm.ChatRequest) (int, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := tokenizationRequest{
		ModelID:   model,
		ProjectID: p.cfg.ProjectID,
		SpaceID:   p.cfg.SpaceID,
		Input:     p.cfg.PromptFormatter.Format(req.SystemPrompt(), req.NonSystemMessages()),
	}

	var resp tokenizationResponse
	err := p.retryOnExpiredToken(func() error {
		return p.rest.DoJSON(ctx, http.MethodPost, "/text/tokenization", body, &resp)
	})
	if err != nil {
		return 0, err
	}
	return resp.Result.TokenCount, nil
}

// Embed embeds one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll embeds texts in one request.
func (p *Provider) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embeddingRequest{
		ModelID:   p.cfg.EmbeddingModel,
		ProjectID: p.cfg.ProjectID,
		SpaceID:   p.cfg.SpaceID,
		Inputs:    texts,
	}
	if p.cfg.TruncateInputTokens != nil {
		body.Parameters = &embeddingParameters{TruncateInputTokens: p.cfg.TruncateInputTokens}
	}

	var resp embeddingResponse
	err := p.retryOnExpiredToken(func() error {
		return p.rest.DoJSON(ctx, http.MethodPost, "/text/embeddings", body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(texts) {
		return nil, fmt.Errorf("watsonx: expected %d embeddings, got %d", len(texts), len(resp.Results))
	}

	out := make([][]float32, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.Embedding
	}
	return out, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// retryOnExpiredToken runs call and, when the server rejects the bearer
// token as expired, drops the cached token and runs it once more.
func (p *Provider) retryOnExpiredToken(call func() error) error {
	err := call()
	var wErr *Error
	if errors.As(err, &wErr) && wErr.HasCode(CodeTokenExpired) {
		p.logger.Debug("iam token expired, refreshing")
		p.tokens.invalidate()
		return call()
	}
	return err
}

func (p *Provider) generationPath(stream bool) string {
	path := "/text/generation"
	if stream {
		path = "/text/generation_stream"
	}
	if p.cfg.DeploymentID != "" {
		return "/deployments/" + url.PathEscape(p.cfg.DeploymentID) + path
	}
	return path
}

func (p *Provider) buildRequest(req *llm.ChatRequest) (*generationRequest, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("watsonx: tools: %w", llm.ErrUnsupported)
	}

	params := &parameters{
		DecodingMethod:      p.cfg.DecodingMethod,
		MinNewTokens:        p.cfg.MinNewTokens,
		MaxNewTokens:        firstNonNil(req.MaxTokens, p.cfg.MaxNewTokens),
		RandomSeed:          firstNonNil(req.Seed, p.cfg.RandomSeed),
		StopSequences:       p.cfg.StopSequences,
		Temperature:         firstNonNil(req.Temperature, p.cfg.Temperature),
		TimeLimit:           p.cfg.TimeLimit,
		TopP:                firstNonNil(req.TopP, p.cfg.TopP),
		TopK:                firstNonNil(req.TopK, p.cfg.TopK),
		RepetitionPenalty:   p.cfg.RepetitionPenalty,
		TruncateInputTokens: p.cfg.TruncateInputTokens,
		IncludeStopSequence: p.cfg.IncludeStopSequence,
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if p.cfg.DecayFactor != nil || p.cfg.StartIndex != nil {
		params.LengthPenalty = &lengthPenalty{DecayFactor: p.cfg.DecayFactor, StartIndex: p.cfg.StartIndex}
	}

	body := &generationRequest{
		Input:      p.cfg.PromptFormatter.Format(req.SystemPrompt(), req.NonSystemMessages()),
		Parameters: params,
	}
	// Deployments pin their own model and project.
	if p.cfg.DeploymentID == "" {
		body.ModelID = req.Model
		if body.ModelID == "" {
			body.ModelID = p.cfg.Model
		}
		body.ProjectID = p.cfg.ProjectID
		body.SpaceID = p.cfg.SpaceID
	}
	return body, nil
}

// FinishReason maps a watsonx stop_reason. Unknown reasons are errors.
func FinishReason(stopReason string) (llm.FinishReason, error) {
	switch stopReason {
	case "max_tokens", "token_limit":
		return llm.FinishLength, nil
	case "eos_token", "stop_sequence":
		return llm.FinishStop, nil
	case "time_limit", "cancelled", "error":
		return llm.FinishOther, nil
	default:
		return "", fmt.Errorf("watsonx: stop reason %q not supported", stopReason)
	}
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
