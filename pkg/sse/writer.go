package sse

import (
	"fmt"
	"io"
)

type flusher interface {
	Flush() error
}

// Writer emits SSE frames. If the underlying writer can flush (such as the
// *bufio.Writer fiber hands to a body stream writer), every frame is flushed
// immediately so clients see partial output.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for SSE output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteData writes a default-type event.
func (s *Writer) WriteData(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.flush()
}

// WriteEvent writes a named event.
func (s *Writer) WriteEvent(event, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.flush()
}

// WriteDone writes the "[DONE]" terminator.
func (s *Writer) WriteDone() error {
	return s.WriteData(DoneSentinel)
}

// WriteError writes an "error" event.
func (s *Writer) WriteError(msg string) error {
	return s.WriteEvent("error", msg)
}

func (s *Writer) flush() error {
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
