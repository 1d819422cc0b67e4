// Package ollama is a chat client for a local or remote Ollama server.
package ollama

import (
	"bufio"
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
	providerName = "ollama"

	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Config configures the Ollama client.
type Config struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Format    string
	KeepAlive string
	NumCtx    *int

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Error is an {"error": "..."} document from the Ollama server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

// Provider talks to /api/chat.
type Provider struct {
	cfg    Config
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates an Ollama chat client.
func New(cfg Config, log *slog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)

	return &Provider{
		cfg: cfg,
		rest: restclient.New(restclient.Config{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			DecodeError:  decodeError,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
			HTTPClient:   cfg.HTTPClient,
		}, log),
		logger: log,
	}
}

// Name returns "ollama".
func (p *Provider) Name() string {
	return providerName
}

// Chat sends a non-streaming chat request.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var resp chatResponse
	if err := p.rest.DoJSON(ctx, http.MethodPost, "/api/chat", p.buildRequest(req, false), &resp); err != nil {
		return nil, err
	}
	return toResponse(&resp, resp.Message.Content), nil
}

// Stream sends a streaming chat request. Ollama streams newline-delimited
// JSON objects, the last of which has done=true and carries the metrics.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	resp, err := p.rest.Stream(ctx, http.MethodPost, "/api/chat", p.buildRequest(req, true), "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var text strings.Builder
	var toolCalls []ollamaToolCall
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, fmt.Errorf("decoding ollama stream line: %w", err)
		}
		if chunk.Error != "" {
			return nil, &Error{StatusCode: resp.StatusCode, Message: chunk.Error}
		}

		text.WriteString(chunk.Message.Content)
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)

		out := &llm.StreamChunk{
			Model:     chunk.Model,
			CreatedAt: chunk.CreatedAt,
			Text:      chunk.Message.Content,
			Done:      chunk.Done,
		}
		if chunk.Done {
			out.StopReason = chunk.DoneReason
			out.Usage = usage(&chunk)
		}
		if err := handler(out); err != nil {
			return nil, err
		}

		if chunk.Done {
			chunk.Message.ToolCalls = toolCalls
			return toResponse(&chunk, text.String()), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ollama stream: %w", err)
	}
	return nil, fmt.Errorf("ollama stream ended before done")
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := &chatRequest{
		Model:     model,
		Stream:    stream,
		Format:    p.cfg.Format,
		KeepAlive: p.cfg.KeepAlive,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			Seed:        req.Seed,
			NumPredict:  req.MaxTokens,
			NumCtx:      p.cfg.NumCtx,
			Stop:        req.Stop,
		},
	}

	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: llm.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessage(m))
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return body
}

func toWireMessage(m llm.Message) ollamaMessage {
	out := ollamaMessage{Role: m.Role}
	var text strings.Builder
	for _, block := range m.Content {
		switch block.Type {
		case llm.BlockText:
			text.WriteString(block.Text)
		case llm.BlockImage:
			if block.ImageBase64 != "" {
				out.Images = append(out.Images, block.ImageBase64)
			}
		case llm.BlockToolUse:
			var call ollamaToolCall
			call.ID = block.ToolUseID
			call.Function.Name = block.ToolName
			call.Function.Arguments = block.ToolInput
			out.ToolCalls = append(out.ToolCalls, call)
		case llm.BlockToolResult:
			text.WriteString(block.ToolOutput)
		}
	}
	out.Content = text.String()
	return out
}

func toResponse(resp *chatResponse, text string) *llm.ChatResponse {
	var content []llm.ContentBlock
	if text != "" {
		content = append(content, llm.ContentBlock{Type: llm.BlockText, Text: text})
	}
	for _, tc := range resp.Message.ToolCalls {
		content = append(content, llm.ContentBlock{
			Type:      llm.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: tc.Function.Arguments,
		})
	}

	finish := finishReason(resp.DoneReason)
	if len(resp.Message.ToolCalls) > 0 {
		finish = llm.FinishToolExecution
	}

	return &llm.ChatResponse{
		Model:        resp.Model,
		CreatedAt:    resp.CreatedAt,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		Done:         true,
		StopReason:   resp.DoneReason,
		FinishReason: finish,
		Usage:        usage(resp),
	}
}

func usage(resp *chatResponse) *llm.Usage {
	u := llm.NewUsage(resp.PromptEvalCount, resp.EvalCount)
	u.TotalDurationNs = resp.TotalDuration
	u.PromptDurationNs = resp.PromptEvalDuration
	return u
}

func finishReason(doneReason string) llm.FinishReason {
	switch doneReason {
	case "stop", "":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishOther
	}
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &Error{StatusCode: status, Message: e.Error}
	}
	return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
}
