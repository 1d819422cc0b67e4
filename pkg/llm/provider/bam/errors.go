package bam

import (
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// uncheckedMessage is used when a JSON error body cannot be decoded.
const uncheckedMessage = "Unchecked error, see log for details"

// Error is a BAM error document:
//
//	{"status_code": 401, "error": "Unauthorized", "message": "...",
//	 "extensions": {"code": "AUTH_ERROR", "reason": "INVALID_AUTHORIZATION"}}
//
// Plain-text error bodies leave Kind and Extensions empty and carry the body
// in Message.
type Error struct {
	StatusCode int         `json:"status_code"`
	Kind       string      `json:"error"`
	Message    string      `json:"message"`
	Extensions *Extensions `json:"extensions,omitempty"`
}

// Extensions carries the machine-readable part of an error.
type Extensions struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`

	// State is normalized to a list; BAM sends either one object or an
	// array of them.
	State []map[string]any `json:"-"`
}

func (e *Extensions) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code   string          `json:"code"`
		Reason string          `json:"reason"`
		State  json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Code = raw.Code
	e.Reason = raw.Reason
	e.State = nil

	if len(raw.State) == 0 || string(raw.State) == "null" {
		return nil
	}
	if raw.State[0] == '[' {
		return json.Unmarshal(raw.State, &e.State)
	}
	var one map[string]any
	if err := json.Unmarshal(raw.State, &one); err != nil {
		return err
	}
	e.State = []map[string]any{one}
	return nil
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("bam: status %d: %s", e.StatusCode, e.Message)
	}
	if e.Extensions != nil && e.Extensions.Code != "" {
		return fmt.Sprintf("bam: status %d: %s (%s): %s", e.StatusCode, e.Kind, e.Extensions.Code, e.Message)
	}
	return fmt.Sprintf("bam: status %d: %s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

func decodeError(status int, body []byte) error {
	if !json.Valid(body) {
		return &Error{StatusCode: status, Message: string(body)}
	}

	var e Error
	if err := json.Unmarshal(body, &e); err != nil || (e.Kind == "" && e.Message == "") {
		return &Error{StatusCode: status, Message: uncheckedMessage}
	}
	if e.StatusCode == 0 {
		e.StatusCode = status
	}
	return &e
}
