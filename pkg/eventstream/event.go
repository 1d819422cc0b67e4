package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeCacheHit is emitted when a cached response answers a chat.
	EventTypeCacheHit = "llmkit.cache.hit"

	// EventTypeCacheMiss is emitted when a chat falls through to the model.
	EventTypeCacheMiss = "llmkit.cache.miss"

	// EventTypeCacheStore is emitted after a model response is cached.
	EventTypeCacheStore = "llmkit.cache.store"

	// EventTypeDocumentIngested is emitted after a document is embedded and
	// added to the vector store.
	EventTypeDocumentIngested = "llmkit.document.ingested"
)

// Event is a transport-neutral event payload. Exactly one of Turn and
// Document is set, depending on the event type.
type Event struct {
	SchemaVersion int                   `json:"schema_version"`
	EventType     string                `json:"event_type"`
	EventID       string                `json:"event_id"`
	EmittedAt     time.Time             `json:"emitted_at"`
	Source        EventSource           `json:"source"`
	Turn          *llm.ConversationTurn `json:"turn,omitempty"`
	Document      *DocumentMeta         `json:"document,omitempty"`
}

// EventSource identifies the component and backend behind an event.
type EventSource struct {
	Component string `json:"component"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

// DocumentMeta describes an ingested document without its embedding.
type DocumentMeta struct {
	ID          string `json:"id"`
	VectorStore string `json:"vector_store,omitempty"`
	Chars       int    `json:"chars"`
	Dimensions  int    `json:"dimensions"`
	DurationMs  int64  `json:"duration_ms"`
}

// NewEvent stamps a new event of the given type with an id and the current
// time.
func NewEvent(eventType string, source EventSource) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
	}
}
