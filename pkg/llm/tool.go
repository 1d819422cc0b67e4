package llm

import "encoding/json"

// ToolSpec describes a tool the model may call. Parameters is a JSON schema
// object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a model's request to execute a tool. Arguments holds the raw
// JSON object as produced by the model, which may be partial while
// streaming.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// DecodeArguments parses tool call arguments. Empty arguments decode to an
// empty map.
func DecodeArguments(args string) (map[string]any, error) {
	out := map[string]any{}
	if args == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeArguments renders a tool input map as JSON, "{}" when empty.
func EncodeArguments(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}
