package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/llmkit/pkg/sse"
)

// Upstream API dialects the proxy understands.
const (
	dialectOpenAI    = "openai"
	dialectAnthropic = "anthropic"
	dialectOllama    = "ollama"
)

// SupportedDialects lists the provider APIs the proxy can cache.
func SupportedDialects() []string {
	return []string{dialectAnthropic, dialectOllama, dialectOpenAI}
}

// chatPaths are the chat endpoints whose answers are cached, per dialect.
var chatPaths = map[string][]string{
	dialectOpenAI:    {"/v1/chat/completions", "/chat/completions"},
	dialectAnthropic: {"/v1/messages"},
	dialectOllama:    {"/api/chat"},
}

func isChatPath(dialect, path string) bool {
	for _, p := range chatPaths[dialect] {
		if path == p {
			return true
		}
	}
	return false
}

// errNotCacheable marks requests that are forwarded without a cache lookup.
var errNotCacheable = errors.New("request is not cacheable")

// prompt is the part of a chat request the cache keys on.
type prompt struct {
	Model  string
	System string
	User   string
	Stream bool
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireRequest struct {
	Model    string            `json:"model"`
	System   json.RawMessage   `json:"system"`
	Messages []wireMessage     `json:"messages"`
	Stream   *bool             `json:"stream"`
	Tools    []json.RawMessage `json:"tools"`
}

// parsePrompt extracts the cache key of a chat request. Requests offering
// tools or not ending with a user message are not cacheable.
func parsePrompt(dialect string, body []byte) (*prompt, error) {
	var req wireRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding %s request: %w", dialect, err)
	}
	if len(req.Tools) > 0 || len(req.Messages) == 0 {
		return nil, errNotCacheable
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return nil, errNotCacheable
	}

	p := &prompt{
		Model:  req.Model,
		User:   contentText(last.Content),
		System: contentText(req.System),
		Stream: dialect == dialectOllama,
	}
	if req.Stream != nil {
		p.Stream = *req.Stream
	}

	// OpenAI and Ollama carry the system prompt as leading messages.
	if p.System == "" {
		var system []string
		for _, m := range req.Messages {
			if m.Role == "system" || m.Role == "developer" {
				system = append(system, contentText(m.Content))
			}
		}
		p.System = strings.Join(system, "\n")
	}

	if p.User == "" {
		return nil, errNotCacheable
	}
	return p, nil
}

// contentText flattens a string or an array of text parts (OpenAI content
// parts, Anthropic blocks) into one string.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var b strings.Builder
	for _, part := range parts {
		if part.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// responseText extracts the answer of a non-streaming response. Responses
// calling tools are not cacheable.
func responseText(dialect string, body []byte) (string, error) {
	switch dialect {
	case dialectOpenAI:
		var resp struct {
			Choices []struct {
				Message struct {
					Content   string            `json:"content"`
					ToolCalls []json.RawMessage `json:"tool_calls"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) > 0 {
			return "", errNotCacheable
		}
		return resp.Choices[0].Message.Content, nil

	case dialectAnthropic:
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		var b strings.Builder
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				b.WriteString(block.Text)
			case "tool_use", "server_tool_use":
				return "", errNotCacheable
			}
		}
		return b.String(), nil

	case dialectOllama:
		var chunk ollamaChunk
		if err := json.Unmarshal(body, &chunk); err != nil {
			return "", err
		}
		if len(chunk.Message.ToolCalls) > 0 {
			return "", errNotCacheable
		}
		return chunk.Message.Content, nil
	}
	return "", fmt.Errorf("unknown dialect %q", dialect)
}

type ollamaChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role      string            `json:"role"`
		Content   string            `json:"content"`
		ToolCalls []json.RawMessage `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done bool `json:"done"`
}

// chunkText extracts the text delta of one streamed chunk and reports
// whether the chunk starts or continues a tool call.
func chunkText(dialect string, data []byte) (string, bool) {
	switch dialect {
	case dialectOpenAI:
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string            `json:"content"`
					ToolCalls []json.RawMessage `json:"tool_calls"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(data, &chunk); err != nil || len(chunk.Choices) == 0 {
			return "", false
		}
		delta := chunk.Choices[0].Delta
		return delta.Content, len(delta.ToolCalls) > 0

	case dialectAnthropic:
		var event struct {
			Type         string `json:"type"`
			ContentBlock struct {
				Type string `json:"type"`
			} `json:"content_block"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return "", false
		}
		switch {
		case event.Type == "content_block_start" && event.ContentBlock.Type == "tool_use":
			return "", true
		case event.Type == "content_block_delta" && event.Delta.Type == "text_delta":
			return event.Delta.Text, false
		}

	case dialectOllama:
		var chunk ollamaChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", false
		}
		return chunk.Message.Content, len(chunk.Message.ToolCalls) > 0
	}
	return "", false
}

// cachedResponse renders a cached answer as a non-streaming response of the
// dialect.
func cachedResponse(dialect, model, text string) ([]byte, error) {
	now := time.Now()

	switch dialect {
	case dialectOpenAI:
		return json.Marshal(map[string]any{
			"id":      "chatcmpl-" + uuid.NewString(),
			"object":  "chat.completion",
			"created": now.Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			}},
		})

	case dialectAnthropic:
		return json.Marshal(map[string]any{
			"id":            "msg_" + uuid.NewString(),
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []map[string]any{{"type": "text", "text": text}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		})

	case dialectOllama:
		return json.Marshal(map[string]any{
			"model":       model,
			"created_at":  now.UTC().Format(time.RFC3339Nano),
			"message":     map[string]any{"role": "assistant", "content": text},
			"done":        true,
			"done_reason": "stop",
		})
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

// writeCachedStream renders a cached answer as the stream the dialect's
// clients expect: SSE for OpenAI and Anthropic, NDJSON for Ollama.
func writeCachedStream(w io.Writer, dialect, model, text string) error {
	switch dialect {
	case dialectOpenAI:
		out := sse.NewWriter(w)
		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()
		chunk := func(delta map[string]any, finish any) error {
			data, err := json.Marshal(map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
			})
			if err != nil {
				return err
			}
			return out.WriteData(string(data))
		}
		if err := chunk(map[string]any{"role": "assistant", "content": text}, nil); err != nil {
			return err
		}
		if err := chunk(map[string]any{}, "stop"); err != nil {
			return err
		}
		return out.WriteDone()

	case dialectAnthropic:
		out := sse.NewWriter(w)
		events := []struct {
			name string
			data map[string]any
		}{
			{"message_start", map[string]any{"type": "message_start", "message": map[string]any{
				"id": "msg_" + uuid.NewString(), "type": "message", "role": "assistant", "model": model,
				"content": []any{}, "stop_reason": nil, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			}}},
			{"content_block_start", map[string]any{"type": "content_block_start", "index": 0,
				"content_block": map[string]any{"type": "text", "text": ""}}},
			{"content_block_delta", map[string]any{"type": "content_block_delta", "index": 0,
				"delta": map[string]any{"type": "text_delta", "text": text}}},
			{"content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}},
			{"message_delta", map[string]any{"type": "message_delta",
				"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
				"usage": map[string]any{"output_tokens": 0}}},
			{"message_stop", map[string]any{"type": "message_stop"}},
		}
		for _, e := range events {
			data, err := json.Marshal(e.data)
			if err != nil {
				return err
			}
			if err := out.WriteEvent(e.name, string(data)); err != nil {
				return err
			}
		}
		return nil

	case dialectOllama:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		createdAt := time.Now().UTC().Format(time.RFC3339Nano)
		lines := []map[string]any{
			{"model": model, "created_at": createdAt, "message": map[string]any{"role": "assistant", "content": text}, "done": false},
			{"model": model, "created_at": createdAt, "message": map[string]any{"role": "assistant", "content": ""}, "done": true, "done_reason": "stop"},
		}
		for _, line := range lines {
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		_, err := w.Write(buf.Bytes())
		return err
	}
	return fmt.Errorf("unknown dialect %q", dialect)
}
