package llm

// ChatRequest represents a provider-agnostic chat completion request.
// Provider clients translate it into their own wire format.
type ChatRequest struct {
	// Model name (e.g., "claude-sonnet-4-5", "granite-13b-chat-v2", "llama3.2")
	Model string `json:"model"`

	// Conversation messages
	Messages []Message `json:"messages"`

	// Whether to stream the response
	Stream *bool `json:"stream,omitempty"`

	// System prompt (some providers handle this separately from messages)
	System string `json:"system,omitempty"`

	// Generation parameters (unified across providers)
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        *int     `json:"seed,omitempty"`

	// Tools available to the model
	Tools []ToolSpec `json:"tools,omitempty"`

	// Provider-specific fields that don't map to common parameters
	Extra map[string]any `json:"extra,omitempty"`
}

// SystemPrompt returns the top-level System field, falling back to the text
// of the first system message.
func (r *ChatRequest) SystemPrompt() string {
	if r.System != "" {
		return r.System
	}
	for i := range r.Messages {
		if r.Messages[i].Role == RoleSystem {
			return r.Messages[i].GetText()
		}
	}
	return ""
}

// LastUserText returns the text of the most recent user message.
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].GetText()
		}
	}
	return ""
}

// NonSystemMessages returns the conversation without system messages, for
// providers that take the system prompt out of band.
func (r *ChatRequest) NonSystemMessages() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
