package llm

// Moderation is a content-safety verdict for one input text.
type Moderation struct {
	Text    string `json:"text"`
	Flagged bool   `json:"flagged"`

	// Categories maps a detector name (e.g. "hap", "social_bias") to its
	// score.
	Categories map[string]float64 `json:"categories,omitempty"`
}
