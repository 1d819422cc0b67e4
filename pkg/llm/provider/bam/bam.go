// Package bam is a client for IBM's BAM research platform.
package bam

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
	providerName = "bam"

	DefaultBaseURL        = "https://bam-api.res.ibm.com"
	DefaultVersion        = "2024-04-15"
	DefaultModel          = "ibm/granite-13b-chat-v2"
	DefaultEmbeddingModel = "ibm/slate.125m.english.rtrvr"
	DefaultTimeout        = 10 * time.Second
	DefaultDecoding       = "greedy"
	DefaultMaxNewTokens   = 200
)

// Config configures the BAM client. Generation parameters left nil are not
// sent.
type Config struct {
	BaseURL        string
	APIKey         string
	Version        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	DecodingMethod      string
	IncludeStopSequence *bool
	MinNewTokens        *int
	MaxNewTokens        *int
	RandomSeed          *int
	StopSequences       []string
	Temperature         *float64
	TimeLimit           *int
	TopK                *int
	TopP                *float64
	TypicalP            *float64
	RepetitionPenalty   *float64
	TruncateInputTokens *int
	BeamWidth           *int

	// HAP and SocialBias are moderation thresholds. Moderate sends only the
	// detectors that are set.
	HAP        *float64
	SocialBias *float64

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Provider is a BAM chat, embedding, moderation and tokenization client.
type Provider struct {
	cfg    Config
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates a BAM client. An API key is required.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("bam: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
	if cfg.MinNewTokens == nil {
		zero := 0
		cfg.MinNewTokens = &zero
	}
	if cfg.MaxNewTokens == nil {
		maxNew := DefaultMaxNewTokens
		cfg.MaxNewTokens = &maxNew
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)
	log.Debug("using api key", "api_key", logger.Mask(cfg.APIKey))

	return &Provider{
		cfg: cfg,
		rest: restclient.New(restclient.Config{
			BaseURL:      strings.TrimRight(cfg.BaseURL, "/") + "/v2",
			Timeout:      cfg.Timeout,
			Headers:      map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Query:        url.Values{"version": {cfg.Version}},
			DecodeError:  decodeError,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log),
		logger: log,
	}, nil
}

// Name returns "bam".
func (p *Provider) Name() string {
	return providerName
}

// Chat calls /text/chat.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp generationResponse
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/text/chat", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("bam: %w", llm.ErrEmptyResponse)
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
		Extra:        map[string]any{"id": resp.ID, "conversation_id": resp.ConversationID},
	}, nil
}

// Stream calls /text/chat_stream. Input tokens come from the first event;
// output tokens and the stop reason come from the last one.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.rest.Stream(ctx, http.MethodPost, "/text/chat_stream", body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text   strings.Builder
		model  string
		first  = true
		input  int
		output int
		stop   string
	)

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading bam stream: %w", err)
		}
		if ev == nil || ev.IsDone() {
			break
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}

		var chunk generationResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding bam stream event: %w", err)
		}
		if len(chunk.Results) == 0 {
			continue
		}

		result := chunk.Results[0]
		if first {
			input = result.InputTokenCount
			first = false
		}
		if chunk.ModelID != "" {
			model = chunk.ModelID
		}
		output = result.GeneratedTokenCount
		stop = result.StopReason

		text.WriteString(result.GeneratedText)
		if err := handler(&llm.StreamChunk{Model: model, Text: result.GeneratedText}); err != nil {
			return nil, err
		}
	}

	if first {
		return nil, fmt.Errorf("bam: %w", llm.ErrEmptyResponse)
	}

	finish, err := FinishReason(stop)
	if err != nil {
		return nil, err
	}
	usage := llm.NewUsage(input, output)
	if err := handler(&llm.StreamChunk{Model: model, Done: true, StopReason: stop, Usage: usage}); err != nil {
		return nil, err
	}

	return &llm.ChatResponse{
		Model:        model,
		Message:      llm.NewTextMessage(llm.RoleAssistant, text.String()),
		Done:         true,
		StopReason:   stop,
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// Embed embeds one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll calls /text/embeddings with all texts at once.
func (p *Provider) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	body := embeddingRequest{ModelID: p.cfg.EmbeddingModel, Input: texts}
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/text/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(texts) {
		return nil, fmt.Errorf("bam: expected %d embeddings, got %d", len(texts), len(resp.Results))
	}
	return resp.Results, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Moderate runs the configured HAP and social bias detectors over each
// text. A text is flagged when any detector flags any span of it. The
// category score is the highest span score.
func (p *Provider) Moderate(ctx context.Context, texts []string) ([]llm.Moderation, error) {
	if p.cfg.HAP == nil && p.cfg.SocialBias == nil {
		return nil, fmt.Errorf("bam: no moderation thresholds configured: %w", llm.ErrUnsupported)
	}

	out := make([]llm.Moderation, 0, len(texts))
	for _, text := range texts {
		body := moderationRequest{Input: text}
		if p.cfg.HAP != nil {
			body.HAP = &threshold{Threshold: *p.cfg.HAP}
		}
		if p.cfg.SocialBias != nil {
			body.SocialBias = &threshold{Threshold: *p.cfg.SocialBias}
		}

		var resp moderationResponse
		if err := p.rest.DoJSON(ctx, http.MethodPost, "/text/moderations", body, &resp); err != nil {
			return nil, err
		}

		m := llm.Moderation{Text: text, Categories: map[string]float64{}}
		for _, r := range resp.Results {
			for name, scores := range map[string][]moderationScore{"hap": r.HAP, "social_bias": r.SocialBias} {
				for _, s := range scores {
					if s.Flagged {
						m.Flagged = true
					}
					if s.Score > m.Categories[name] {
						m.Categories[name] = s.Score
					}
				}
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// CountTokens tokenizes the request's message texts joined with spaces.
func (p *Provider) CountTokens(ctx context.Context, req *llm.ChatRequest) (int, error) {
	var parts []string
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for i := range req.Messages {
		parts = append(parts, req.Messages[i].GetText())
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	var resp tokenizationResponse
	body := tokenizationRequest{ModelID: model, Input: strings.Join(parts, " ")}
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/text/tokenization", body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, fmt.Errorf("bam: %w", llm.ErrEmptyResponse)
	}
	return resp.Results[0].TokenCount, nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest) (*generationRequest, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("bam: tools: %w", llm.ErrUnsupported)
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := &parameters{
		DecodingMethod:      p.cfg.DecodingMethod,
		IncludeStopSequence: p.cfg.IncludeStopSequence,
		MinNewTokens:        p.cfg.MinNewTokens,
		MaxNewTokens:        firstNonNil(req.MaxTokens, p.cfg.MaxNewTokens),
		RandomSeed:          firstNonNil(req.Seed, p.cfg.RandomSeed),
		StopSequences:       p.cfg.StopSequences,
		Temperature:         firstNonNil(req.Temperature, p.cfg.Temperature),
		TimeLimit:           p.cfg.TimeLimit,
		TopK:                firstNonNil(req.TopK, p.cfg.TopK),
		TopP:                firstNonNil(req.TopP, p.cfg.TopP),
		TypicalP:            p.cfg.TypicalP,
		RepetitionPenalty:   p.cfg.RepetitionPenalty,
		TruncateInputTokens: p.cfg.TruncateInputTokens,
		BeamWidth:           p.cfg.BeamWidth,
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	body := &generationRequest{ModelID: model, Parameters: params}
	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: llm.RoleSystem, Content: req.System})
	}
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("bam: %s messages: %w", m.Role, llm.ErrUnsupported)
		}
		for _, block := range m.Content {
			if block.Type == llm.BlockToolUse || block.Type == llm.BlockToolResult {
				return nil, fmt.Errorf("bam: tool messages: %w", llm.ErrUnsupported)
			}
		}
		body.Messages = append(body.Messages, message{Role: m.Role, Content: m.GetText()})
	}
	return body, nil
}

// FinishReason maps a BAM stop_reason. Unknown reasons are errors.
func FinishReason(stopReason string) (llm.FinishReason, error) {
	switch stopReason {
	case "max_tokens":
		return llm.FinishLength, nil
	case "eos_token", "stop_sequence":
		return llm.FinishStop, nil
	default:
		return "", fmt.Errorf("bam: stop reason %q not supported", stopReason)
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
