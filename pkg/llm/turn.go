package llm

// ConversationTurn is a complete request-response pair, published on the
// event stream after a chat completes.
type ConversationTurn struct {
	Provider string        `json:"provider"`
	CacheID  string        `json:"cache_id,omitempty"`
	CacheHit bool          `json:"cache_hit"`
	Request  *ChatRequest  `json:"request"`
	Response *ChatResponse `json:"response"`
}
