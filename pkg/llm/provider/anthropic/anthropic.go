// Package anthropic is a client for Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
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
	providerName = "anthropic"

	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultVersion   = "2023-06-01"
	DefaultModel     = "claude-3-haiku-20240307"
	DefaultMaxTokens = 1024

	// ToolsBeta is sent whenever a request carries tools.
	ToolsBeta = "tools-2024-04-04"

	// InterleavedThinkingBeta lets thinking blocks interleave with tool use.
	InterleavedThinkingBeta = "interleaved-thinking-2025-05-14"
)

// ThinkingConfig enables extended thinking.
type ThinkingConfig struct {
	// Enabled sends {"type":"enabled","budget_tokens":BudgetTokens}.
	Enabled      bool
	BudgetTokens int

	// Return keeps thinking blocks in responses and stream chunks.
	Return bool

	// Interleaved adds the interleaved-thinking beta header.
	Interleaved bool
}

// Config configures the Anthropic client.
type Config struct {
	BaseURL   string
	APIKey    string
	Version   string
	Beta      string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Thinking  ThinkingConfig

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Provider talks to the Messages API.
type Provider struct {
	cfg    Config
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates an Anthropic client.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
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
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)

	rest := restclient.New(restclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": cfg.Version,
		},
		HeaderFunc: func(ctx context.Context, h http.Header) error {
			if beta, _ := ctx.Value(betaKey{}).(string); beta != "" {
				h.Set("anthropic-beta", beta)
			}
			return nil
		},
		DecodeError:  decodeError,
		LogRequests:  cfg.LogRequests,
		LogResponses: cfg.LogResponses,
		HTTPClient:   cfg.HTTPClient,
	}, log)

	log.Debug("anthropic client ready",
		"base_url", cfg.BaseURL,
		"model", cfg.Model,
		"api_key", logger.Mask(cfg.APIKey),
	)

	return &Provider{cfg: cfg, rest: rest, logger: log}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string {
	return providerName
}

// Chat sends a non-streaming Messages request.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	ctx = withBeta(ctx, p.betaHeader(len(body.Tools) > 0))
	var resp messagesResponse
	if err := p.doJSON(ctx, "/messages", body, &resp); err != nil {
		return nil, err
	}

	return p.fromWire(&resp), nil
}

// Stream sends a streaming Messages request, calling handler for every
// partial chunk, and returns the assembled response.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	ctx = withBeta(ctx, p.betaHeader(len(body.Tools) > 0))
	resp, err := p.stream(ctx, "/messages", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return assemble(resp.Body, p.cfg.Thinking.Return, handler)
}

// CountTokens asks the API how many input tokens the request would use.
func (p *Provider) CountTokens(ctx context.Context, req *llm.ChatRequest) (int, error) {
	body, err := p.buildRequest(req, false)
	if err != nil {
		return 0, err
	}

	var resp countTokensResponse
	err = p.doJSON(ctx, "/messages/count_tokens", countTokensRequest{
		Model:    body.Model,
		Messages: body.Messages,
		System:   body.System,
		Tools:    body.Tools,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.InputTokens, nil
}

// betaHeader computes the anthropic-beta value. A configured beta that
// already names a tools beta is not combined with ToolsBeta.
func (p *Provider) betaHeader(hasTools bool) string {
	return BetaHeader(p.cfg.Beta, hasTools, p.cfg.Thinking.Enabled && p.cfg.Thinking.Interleaved)
}

// BetaHeader combines the configured beta flags with the ones a request
// needs. The result is comma separated and may be empty.
func BetaHeader(configured string, hasTools, interleaved bool) string {
	var parts []string
	if configured != "" {
		parts = append(parts, configured)
	}
	if hasTools && !strings.Contains(configured, "tools-") {
		parts = append(parts, ToolsBeta)
	}
	if interleaved && !strings.Contains(configured, InterleavedThinkingBeta) {
		parts = append(parts, InterleavedThinkingBeta)
	}
	return strings.Join(parts, ",")
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) (*messagesRequest, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	messages, err := toWireMessages(req.NonSystemMessages())
	if err != nil {
		return nil, err
	}

	body := &messagesRequest{
		Model:         model,
		Messages:      messages,
		System:        req.SystemPrompt(),
		MaxTokens:     maxTokens,
		StopSequences: req.Stop,
		Stream:        stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		body.Tools = append(body.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	if p.cfg.Thinking.Enabled {
		body.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: p.cfg.Thinking.BudgetTokens}
		// top_k is rejected while thinking is on.
		body.TopK = nil
	}

	return body, nil
}

func toWireMessages(messages []llm.Message) ([]wireMessage, error) {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == llm.RoleTool {
			role = llm.RoleUser
		}

		wm := wireMessage{Role: role}
		for _, block := range m.Content {
			wb, err := toWireBlock(block)
			if err != nil {
				return nil, err
			}
			wm.Content = append(wm.Content, wb)
		}
		out = append(out, wm)
	}
	return out, nil
}

func toWireBlock(block llm.ContentBlock) (wireBlock, error) {
	switch block.Type {
	case llm.BlockText:
		return wireBlock{Type: "text", Text: block.Text}, nil
	case llm.BlockImage:
		if block.ImageURL != "" {
			return wireBlock{Type: "image", Source: &wireSource{Type: "url", URL: block.ImageURL}}, nil
		}
		return wireBlock{Type: "image", Source: &wireSource{
			Type:      "base64",
			MediaType: block.MediaType,
			Data:      block.ImageBase64,
		}}, nil
	case llm.BlockThinking:
		return wireBlock{Type: "thinking", Thinking: block.Thinking, Signature: block.Signature}, nil
	case llm.BlockToolUse:
		raw := json.RawMessage(llm.EncodeArguments(block.ToolInput))
		return wireBlock{Type: "tool_use", ID: block.ToolUseID, Name: block.ToolName, Input: &raw}, nil
	case llm.BlockToolResult:
		return wireBlock{
			Type:      "tool_result",
			ToolUseID: block.ToolResultID,
			Content:   block.ToolOutput,
			IsError:   block.IsError,
		}, nil
	default:
		return wireBlock{}, fmt.Errorf("%w: content block %q", llm.ErrUnsupported, block.Type)
	}
}

func (p *Provider) fromWire(resp *messagesResponse) *llm.ChatResponse {
	var texts, thinking, signatures, redacted []string
	var tools []llm.ContentBlock

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "thinking":
			if p.cfg.Thinking.Return {
				thinking = append(thinking, block.Thinking)
				if block.Signature != "" {
					signatures = append(signatures, block.Signature)
				}
			}
		case "redacted_thinking":
			if p.cfg.Thinking.Return {
				redacted = append(redacted, block.Data)
			}
		case "tool_use":
			input := map[string]any{}
			if block.Input != nil {
				_ = json.Unmarshal(*block.Input, &input)
			}
			tools = append(tools, llm.ContentBlock{
				Type:      llm.BlockToolUse,
				ToolUseID: block.ID,
				ToolName:  block.Name,
				ToolInput: input,
			})
		}
	}

	var usage *llm.Usage
	if resp.Usage != nil {
		usage = toUsage(resp.Usage)
	}

	return buildResponse(resp.ID, resp.Model, resp.StopReason, usage, texts, thinking, signatures, redacted, tools)
}

// buildResponse is shared by Chat and the stream assembler so both paths
// produce identical responses.
func buildResponse(id, model, stopReason string, usage *llm.Usage, texts, thinking, signatures, redacted []string, tools []llm.ContentBlock) *llm.ChatResponse {
	texts = nonEmpty(texts)
	thinking = nonEmpty(thinking)

	var content []llm.ContentBlock
	if len(thinking) > 0 {
		content = append(content, llm.ContentBlock{
			Type:      llm.BlockThinking,
			Thinking:  strings.Join(thinking, "\n"),
			Signature: strings.Join(signatures, "\n"),
		})
	}
	if len(texts) > 0 {
		content = append(content, llm.ContentBlock{Type: llm.BlockText, Text: strings.Join(texts, "\n")})
	}
	content = append(content, tools...)

	extra := map[string]any{"id": id}
	if len(signatures) > 0 {
		extra["thinking_signature"] = strings.Join(signatures, "\n")
	}
	if len(redacted) > 0 {
		extra["redacted_thinking"] = redacted
	}

	return &llm.ChatResponse{
		Model:        model,
		CreatedAt:    time.Now(),
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		Done:         true,
		StopReason:   stopReason,
		FinishReason: finishReason(stopReason),
		Usage:        usage,
		Extra:        extra,
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toUsage(u *wireUsage) *llm.Usage {
	usage := llm.NewUsage(u.InputTokens, u.OutputTokens)
	usage.CacheCreationInputTokens = u.CacheCreationInputTokens
	usage.CacheReadInputTokens = u.CacheReadInputTokens
	return usage
}

func finishReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence", "pause_turn":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolExecution
	case "refusal":
		return llm.FinishContentFilter
	case "":
		return ""
	default:
		return llm.FinishOther
	}
}

type betaKey struct{}

// withBeta carries the per-request anthropic-beta value to the client's
// header func.
func withBeta(ctx context.Context, beta string) context.Context {
	return context.WithValue(ctx, betaKey{}, beta)
}

func (p *Provider) doJSON(ctx context.Context, path string, body, out any) error {
	return p.rest.DoJSON(ctx, http.MethodPost, path, body, out)
}

func (p *Provider) stream(ctx context.Context, path string, body any) (*http.Response, error) {
	return p.rest.Stream(ctx, http.MethodPost, path, body, "text/event-stream")
}
