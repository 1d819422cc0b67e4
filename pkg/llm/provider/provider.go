// Package provider defines the chat client contract every model provider
// implements and a registry that builds providers from configuration.
package provider

import (
	"context"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// ErrProvider is the category every provider error unwraps to.
var ErrProvider = llm.ErrProvider

// HTTPError is the fallback provider error for non-JSON error bodies.
type HTTPError = llm.HTTPError

// Provider is a chat client for one model provider.
type Provider interface {
	// Name returns the canonical provider name (e.g., "anthropic", "openai", "watsonx")
	Name() string

	// Chat sends a non-streaming request.
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// Stream sends a streaming request. handler receives every partial
	// chunk followed by a final chunk with Done set. The assembled response
	// is returned once the stream completes.
	Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error)
}

// TokenCounter is implemented by providers that can count the prompt tokens
// of a request.
type TokenCounter interface {
	CountTokens(ctx context.Context, req *llm.ChatRequest) (int, error)
}

// Moderator is implemented by providers with a moderation endpoint.
type Moderator interface {
	Moderate(ctx context.Context, texts []string) ([]llm.Moderation, error)
}
