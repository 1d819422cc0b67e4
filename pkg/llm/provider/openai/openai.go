// Package openai is a client for the OpenAI Chat Completions and Moderations
// APIs. Other OpenAI-compatible services reuse it through NewCompatible.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/sse"
)

const (
	providerName = "openai"

	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-4o-mini"
	DefaultModerationModel = "omni-moderation-latest"
)

// Config configures an OpenAI-compatible client.
type Config struct {
	BaseURL      string
	APIKey       string
	Organization string

	Model           string
	ModerationModel string

	Timeout time.Duration

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Error wraps an {"error": {...}} document.
type Error struct {
	Provider   string
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

// Provider is an OpenAI-compatible chat client.
type Provider struct {
	name   string
	cfg    Config
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates a client for api.openai.com (or cfg.BaseURL).
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ModerationModel == "" {
		cfg.ModerationModel = DefaultModerationModel
	}
	return NewCompatible(providerName, cfg, log)
}

// NewCompatible creates a client for a service that speaks the OpenAI wire
// format under a different name. BaseURL and Model are required.
func NewCompatible(name string, cfg Config, log *slog.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model is required", name)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", name)

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
		log.Debug("using api key", "api_key", logger.Mask(cfg.APIKey))
	}
	if cfg.Organization != "" {
		headers["OpenAI-Organization"] = cfg.Organization
	}

	return &Provider{
		name: name,
		cfg:  cfg,
		rest: restclient.New(restclient.Config{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			Headers:      headers,
			DecodeError:  DecodeError(name),
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log),
		logger: log,
	}, nil
}

// Name returns the provider name given at construction.
func (p *Provider) Name() string {
	return p.name
}

// Chat sends a non-streaming chat completion request.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var resp chatResponse
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/chat/completions", p.buildRequest(req, false), &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	content := textBlocks(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		block, err := toolUseBlock(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		content = append(content, block)
	}

	out := &llm.ChatResponse{
		Model:        resp.Model,
		CreatedAt:    unixTime(resp.Created),
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		Done:         true,
		StopReason:   choice.FinishReason,
		FinishReason: FinishReason(choice.FinishReason),
		Extra:        map[string]any{"id": resp.ID},
	}
	if resp.Usage != nil {
		out.Usage = llm.NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return out, nil
}

// Stream sends a streaming request and folds the "data:" chunks into a final
// response. The stream ends with a "[DONE]" sentinel.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	resp, err := p.rest.Stream(ctx, http.MethodPost, "/chat/completions", p.buildRequest(req, true), "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return p.readStream(resp.Body, handler)
}

func (p *Provider) readStream(body io.Reader, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	var (
		model     string
		id        string
		created   int64
		finish    string
		usage     *llm.Usage
		text      strings.Builder
		calls     = map[int]*llm.ToolCall{}
		callOrder []int
	)

	reader := sse.NewReader(body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading %s stream: %w", p.name, err)
		}
		if ev == nil {
			return nil, fmt.Errorf("%s stream ended before [DONE]: %w", p.name, io.ErrUnexpectedEOF)
		}
		if ev.IsDone() {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			var env errorEnvelope
			if json.Unmarshal([]byte(ev.Data), &env) == nil && env.Error != nil {
				return nil, &Error{Provider: p.name, Type: env.Error.Type, Message: env.Error.Message}
			}
			return nil, fmt.Errorf("decoding %s chunk: %w", p.name, err)
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Created != 0 {
			created = chunk.Created
		}
		if chunk.Usage != nil {
			usage = llm.NewUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if err := handler(&llm.StreamChunk{Model: model, Text: choice.Delta.Content}); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &llm.ToolCall{Index: idx}
				calls[idx] = call
				callOrder = append(callOrder, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments

			partial := &llm.ToolCall{Index: idx, ID: call.ID, Name: call.Name, Arguments: tc.Function.Arguments}
			if err := handler(&llm.StreamChunk{Model: model, ToolCall: partial, Index: idx}); err != nil {
				return nil, err
			}
		}
	}

	content := textBlocks(text.String())
	sort.Ints(callOrder)
	for _, idx := range callOrder {
		call := calls[idx]
		block, err := toolUseBlock(call.ID, call.Name, call.Arguments)
		if err != nil {
			return nil, err
		}
		content = append(content, block)
	}

	if err := handler(&llm.StreamChunk{Model: model, Done: true, StopReason: finish, Usage: usage}); err != nil {
		return nil, err
	}

	return &llm.ChatResponse{
		Model:        model,
		CreatedAt:    unixTime(created),
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		Done:         true,
		StopReason:   finish,
		FinishReason: FinishReason(finish),
		Usage:        usage,
		Extra:        map[string]any{"id": id},
	}, nil
}

// Moderate classifies texts with the moderations endpoint.
func (p *Provider) Moderate(ctx context.Context, texts []string) ([]llm.Moderation, error) {
	var resp moderationResponse
	body := moderationRequest{Model: p.cfg.ModerationModel, Input: texts}
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/moderations", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d moderation results, got %d", p.name, len(texts), len(resp.Results))
	}

	out := make([]llm.Moderation, len(texts))
	for i, r := range resp.Results {
		out[i] = llm.Moderation{Text: texts[i], Flagged: r.Flagged, Categories: r.CategoryScores}
	}
	return out, nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := &chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if req.System != "" {
		body.Messages = append(body.Messages, openaiMessage{Role: llm.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessages(m)...)
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openaiTool{
			Type:     "function",
			Function: openaiFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return body
}

// toWireMessages converts one message. Tool results become separate "tool"
// role messages, one per call id.
func toWireMessages(m llm.Message) []openaiMessage {
	var (
		out      []openaiMessage
		parts    []openaiContentPart
		calls    []openaiToolCall
		hasImage bool
	)

	for _, block := range m.Content {
		switch block.Type {
		case llm.BlockText:
			parts = append(parts, openaiContentPart{Type: "text", Text: block.Text})
		case llm.BlockImage:
			hasImage = true
			url := block.ImageURL
			if url == "" && block.ImageBase64 != "" {
				mediaType := block.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				url = "data:" + mediaType + ";base64," + block.ImageBase64
			}
			parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}})
		case llm.BlockToolUse:
			var call openaiToolCall
			call.ID = block.ToolUseID
			call.Type = "function"
			call.Function.Name = block.ToolName
			call.Function.Arguments = llm.EncodeArguments(block.ToolInput)
			calls = append(calls, call)
		case llm.BlockToolResult:
			out = append(out, openaiMessage{
				Role:       llm.RoleTool,
				Content:    block.ToolOutput,
				ToolCallID: block.ToolResultID,
			})
		}
	}

	if len(parts) == 0 && len(calls) == 0 {
		return out
	}

	msg := openaiMessage{Role: m.Role, ToolCalls: calls}
	if m.Role == llm.RoleTool {
		msg.Role = llm.RoleUser
	}
	switch {
	case hasImage:
		msg.Content = parts
	case len(parts) > 0:
		var text strings.Builder
		for _, part := range parts {
			text.WriteString(part.Text)
		}
		msg.Content = text.String()
	}
	return append([]openaiMessage{msg}, out...)
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func textBlocks(text string) []llm.ContentBlock {
	if text == "" {
		return nil
	}
	return []llm.ContentBlock{{Type: llm.BlockText, Text: text}}
}

func toolUseBlock(id, name, arguments string) (llm.ContentBlock, error) {
	input, err := llm.DecodeArguments(arguments)
	if err != nil {
		return llm.ContentBlock{}, fmt.Errorf("decoding arguments of tool call %q: %w", name, err)
	}
	return llm.ContentBlock{Type: llm.BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}, nil
}

// FinishReason maps an OpenAI finish_reason.
func FinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolExecution
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return llm.FinishOther
	}
}

// DecodeError returns an error decoder that produces *Error values tagged
// with the given provider name.
func DecodeError(name string) restclient.ErrorDecoder {
	return func(status int, body []byte) error {
		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
			return &Error{
				Provider:   name,
				StatusCode: status,
				Type:       env.Error.Type,
				Code:       codeString(env.Error.Code),
				Message:    env.Error.Message,
			}
		}

		// Mistral and some gateways use a flat {"message": ...} object.
		var flat errorBody
		if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
			return &Error{Provider: name, StatusCode: status, Type: flat.Type, Code: codeString(flat.Code), Message: flat.Message}
		}
		return &llm.HTTPError{Provider: name, StatusCode: status, Body: string(body)}
	}
}

func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}
