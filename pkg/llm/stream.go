package llm

import "time"

// StreamChunk represents a single partial update in a streaming response.
type StreamChunk struct {
	// Model that generated the chunk
	Model string `json:"model"`

	// Chunk timestamp
	CreatedAt time.Time `json:"created_at,omitzero"`

	// Partial text for this chunk
	Text string `json:"text,omitempty"`

	// Partial reasoning text, only when the provider returns it
	Thinking string `json:"thinking,omitempty"`

	// Partial tool call. Arguments carry only the fragment received in this
	// chunk.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Whether this is the final chunk
	Done bool `json:"done"`

	// Index for providers that support multiple parallel completions
	Index int `json:"index,omitempty"`

	// Stop reason (only present on final chunk)
	StopReason string `json:"stop_reason,omitempty"`

	// Usage metrics (typically only present on final chunk)
	Usage *Usage `json:"usage,omitempty"`
}

// StreamHandler receives partial chunks as a provider streams. Returning an
// error aborts the stream and is returned from the provider's Stream call.
type StreamHandler func(chunk *StreamChunk) error
