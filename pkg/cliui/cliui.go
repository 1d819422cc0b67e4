// Package cliui provides reusable terminal UI helpers (spinners, step
// indicators, markdown rendering) for llmkit CLI commands.
package cliui

import (
	"fmt"
	"io"
	"os"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	StepStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	AccentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	ScoreStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	DimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	KeyStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	ValueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cacheHitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	defaultWidth    = 80
	minPreviewWidth = 20
)

// plain disables styling on terminals without color support.
var plain = termenv.NewOutput(os.Stdout).Profile == termenv.Ascii

// Render applies style unless styling is disabled.
func Render(style lipgloss.Style, s string) string {
	if plain {
		return s
	}
	return style.Render(s)
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return Render(failStyle, "✗")
	}
	return Render(successStyle, "✓")
}

// UserPrompt and AssistantPrompt label chat turns.
func UserPrompt() string { return Render(userStyle, "you> ") }

func AssistantPrompt() string { return Render(assistantStyle, "assistant> ") }

// CacheHit tags an answer served from the semantic cache.
func CacheHit() string { return Render(cacheHitStyle, "(cached)") }

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of w, or 80 when it is not a terminal.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Preview flattens s to one line and truncates it to width cells. ANSI
// sequences are not counted.
func Preview(s string, width int) string {
	if width < minPreviewWidth {
		width = minPreviewWidth
	}
	flat := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		flat = append(flat, r)
	}
	return ansi.Truncate(string(flat), width, "…")
}

// RenderMarkdown renders markdown content for terminal display using glamour.
// The content is returned unchanged when w is not a terminal.
func RenderMarkdown(w io.Writer, content string) string {
	if !IsTerminal(w) {
		return content
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(Width(w)),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// ReadSecret prompts on w and reads a line from the terminal without
// echoing it.
func ReadSecret(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}
