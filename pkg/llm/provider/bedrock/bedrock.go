// Package bedrock is a client for the AWS Bedrock runtime InvokeModel API
// with Anthropic Claude models, authenticated with a Bedrock API key.
package bedrock

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
)

const (
	providerName = "bedrock"

	DefaultRegion           = "us-east-1"
	DefaultModel            = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultAnthropicVersion = "bedrock-2023-05-31"
	DefaultMaxTokens        = 1024
)

// Config configures the Bedrock client. BaseURL overrides the regional
// endpoint and is mostly useful in tests.
type Config struct {
	Region           string
	BaseURL          string
	APIKey           string
	Model            string
	AnthropicVersion string
	MaxTokens        int
	Timeout          time.Duration

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Error is a Bedrock runtime error.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("bedrock: status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

// Provider invokes Claude models on Bedrock.
type Provider struct {
	cfg  Config
	rest *restclient.Client
}

// New creates a Bedrock client.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("bedrock api key is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Region)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = DefaultAnthropicVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)

	rest := restclient.New(restclient.Config{
		BaseURL:      cfg.BaseURL,
		Timeout:      cfg.Timeout,
		Headers:      map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		DecodeError:  decodeError,
		LogRequests:  cfg.LogRequests,
		LogResponses: cfg.LogResponses,
		HTTPClient:   cfg.HTTPClient,
	}, log)

	log.Debug("bedrock client ready",
		"region", cfg.Region,
		"model", cfg.Model,
		"api_key", logger.Mask(cfg.APIKey),
	)

	return &Provider{cfg: cfg, rest: rest}, nil
}

// Name returns "bedrock".
func (p *Provider) Name() string {
	return providerName
}

// Chat calls InvokeModel.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var out invokeResponse
	path := "/model/" + url.PathEscape(model) + "/invoke"
	if err := p.rest.DoJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	resp := fromWire(&out)
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// Stream delivers the InvokeModel response as a single chunk. The
// streaming variant of the runtime API uses the AWS binary event-stream
// framing rather than SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	chunk := &llm.StreamChunk{
		Model:      resp.Model,
		CreatedAt:  resp.CreatedAt,
		Text:       resp.Text(),
		Done:       true,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}
	if err := handler(chunk); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest) (*invokeRequest, error) {
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	out := &invokeRequest{
		AnthropicVersion: p.cfg.AnthropicVersion,
		System:           req.SystemPrompt(),
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		Stop:             req.Stop,
	}

	for _, msg := range req.NonSystemMessages() {
		converted := bedrockMessage{Role: msg.Role}
		if msg.Role == llm.RoleTool {
			converted.Role = llm.RoleUser
		}
		for _, block := range msg.Content {
			cb, err := toWireBlock(block)
			if err != nil {
				return nil, err
			}
			converted.Content = append(converted.Content, cb)
		}
		out.Messages = append(out.Messages, converted)
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, bedrockTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out, nil
}

func toWireBlock(block llm.ContentBlock) (bedrockContentBlock, error) {
	switch block.Type {
	case "text", "":
		return bedrockContentBlock{Type: "text", Text: block.Text}, nil
	case "image":
		if block.ImageBase64 == "" {
			return bedrockContentBlock{}, fmt.Errorf("bedrock: image urls: %w", llm.ErrUnsupported)
		}
		return bedrockContentBlock{
			Type:   "image",
			Source: &bedrockSource{Type: "base64", MediaType: block.MediaType, Data: block.ImageBase64},
		}, nil
	case "tool_use":
		input := block.ToolInput
		if input == nil {
			input = map[string]any{}
		}
		return bedrockContentBlock{Type: "tool_use", ID: block.ToolUseID, Name: block.ToolName, Input: input}, nil
	case "tool_result":
		return bedrockContentBlock{
			Type:      "tool_result",
			ToolUseID: block.ToolResultID,
			Content:   block.ToolOutput,
			IsError:   block.IsError,
		}, nil
	default:
		return bedrockContentBlock{}, fmt.Errorf("bedrock: content block %q: %w", block.Type, llm.ErrUnsupported)
	}
}

func fromWire(resp *invokeResponse) *llm.ChatResponse {
	content := make([]llm.ContentBlock, 0, len(resp.Content))
	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			content = append(content, llm.ContentBlock{
				Type:      "tool_use",
				ToolUseID: block.ID,
				ToolName:  block.Name,
				ToolInput: block.Input,
			})
		}
	}
	if len(texts) > 0 {
		content = append([]llm.ContentBlock{{Type: "text", Text: strings.Join(texts, "\n")}}, content...)
	}

	var usage *llm.Usage
	if resp.Usage != nil {
		usage = llm.NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	role := resp.Role
	if role == "" {
		role = llm.RoleAssistant
	}

	return &llm.ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Now(),
		Message:      llm.Message{Role: role, Content: content},
		Done:         true,
		StopReason:   resp.StopReason,
		FinishReason: finishReason(resp.StopReason),
		Usage:        usage,
		Extra:        map[string]any{"id": resp.ID},
	}
}

func finishReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolExecution
	case "":
		return ""
	default:
		return llm.FinishOther
	}
}

func decodeError(status int, body []byte) error {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return &Error{StatusCode: status, Message: e.Message}
	}
	return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
}
