package watsonx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// CodeTokenExpired is returned when the IAM bearer token has expired.
const CodeTokenExpired = "authentication_token_expired"

// ErrorDetail is one entry of a watsonx error document.
type ErrorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info,omitempty"`
}

// Error is a watsonx.ai error document:
//
//	{"errors": [{"code": "...", "message": "..."}], "trace": "...", "status_code": 400}
type Error struct {
	StatusCode int           `json:"status_code"`
	Trace      string        `json:"trace"`
	Details    []ErrorDetail `json:"errors"`
}

func (e *Error) Error() string {
	lines := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		lines = append(lines, d.Code+": "+d.Message)
	}
	return fmt.Sprintf("watsonx: status %d: %s", e.StatusCode, strings.Join(lines, "\n"))
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

// HasCode reports whether any detail carries code.
func (e *Error) HasCode(code string) bool {
	for _, d := range e.Details {
		if d.Code == code {
			return true
		}
	}
	return false
}

func decodeError(status int, body []byte) error {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil || len(e.Details) == 0 {
		return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
	}
	if e.StatusCode == 0 {
		e.StatusCode = status
	}
	return &e
}
