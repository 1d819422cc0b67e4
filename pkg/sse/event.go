// Package sse provides a minimal SSE (Server-Sent Events) reader for
// consuming streamed completions from LLM providers, and a small writer for
// re-streaming chunks to llmkit API clients.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the SSE spec, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}

// DoneSentinel is the data payload OpenAI-compatible providers send to mark
// the end of a stream.
const DoneSentinel = "[DONE]"

// IsDone reports whether the event is the "[DONE]" terminator.
func (e *Event) IsDone() bool {
	return e != nil && e.Data == DoneSentinel
}
