package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrProvider is the category every provider error unwraps to.
	ErrProvider = errors.New("provider error")

	// ErrUnsupported is returned when a provider cannot express part of a
	// request, such as tool messages on a text-generation API.
	ErrUnsupported = errors.New("unsupported by provider")

	// ErrEmptyResponse is returned when a provider answers without any
	// generation result.
	ErrEmptyResponse = errors.New("provider returned no result")
)

// HTTPError is the fallback provider error when the body is not a
// recognizable error document.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return ErrProvider
}

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}
