package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// APIError is an error document returned by the Messages API, either as an
// HTTP error body or as an "error" stream event.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return llm.ErrProvider
}

func decodeError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return &APIError{
			StatusCode: status,
			Type:       env.Error.Type,
			Message:    env.Error.Message,
		}
	}
	return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
}
