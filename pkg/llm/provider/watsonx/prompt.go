package watsonx

import (
	"strings"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// PromptFormatter renders chat messages into the single prompt string the
// text generation endpoint expects.
type PromptFormatter interface {
	Format(system string, messages []llm.Message) string
}

// PlainFormatter prefixes each message with a role tag and joins them.
type PlainFormatter struct {
	System    string
	User      string
	Assistant string
	EndOf     string
	Joiner    string
}

// DefaultFormatter joins untagged messages with newlines.
var DefaultFormatter = PlainFormatter{Joiner: "\n"}

func (f PlainFormatter) Format(system string, messages []llm.Message) string {
	parts := make([]string, 0, len(messages)+1)
	if system != "" {
		parts = append(parts, f.System+system+f.EndOf)
	}
	for i := range messages {
		m := &messages[i]
		if m.Role == llm.RoleSystem {
			continue
		}
		parts = append(parts, f.tag(m.Role)+m.GetText()+f.EndOf)
	}
	return strings.Join(parts, f.Joiner)
}

func (f PlainFormatter) tag(role string) string {
	switch role {
	case llm.RoleAssistant:
		return f.Assistant
	default:
		return f.User
	}
}

const (
	llamaBegin     = "<|begin_of_text|>"
	llamaSystem    = "<|start_header_id|>system<|end_header_id|>\n\n"
	llamaUser      = "<|start_header_id|>user<|end_header_id|>\n\n"
	llamaAssistant = "<|start_header_id|>assistant<|end_header_id|>\n\n"
	llamaToolRes   = "<|start_header_id|>ipython<|end_header_id|>\n\n"
	llamaEOT       = "<|eot_id|>"
)

// Llama31Formatter renders the Llama 3.1 chat template. The prompt ends with
// an open assistant header unless the last message is from the assistant.
type Llama31Formatter struct{}

func (Llama31Formatter) Format(system string, messages []llm.Message) string {
	var b strings.Builder
	b.WriteString(llamaBegin)
	if strings.TrimSpace(system) != "" {
		b.WriteString(llamaSystem + system + llamaEOT)
	}

	last := ""
	for i := range messages {
		m := &messages[i]
		if m.Role == llm.RoleSystem {
			continue
		}
		last = m.Role

		switch m.Role {
		case llm.RoleAssistant:
			b.WriteString(llamaAssistant)
		case llm.RoleTool:
			b.WriteString(llamaToolRes)
		default:
			b.WriteString(llamaUser)
		}
		b.WriteString(m.GetText())
		b.WriteString(llamaEOT)
	}

	if last != llm.RoleAssistant {
		b.WriteString(llamaAssistant)
	}
	return b.String()
}

// FormatterByName returns the formatter for a configured name. Unknown names
// fall back to DefaultFormatter.
func FormatterByName(name string) PromptFormatter {
	switch strings.ToLower(name) {
	case "llama3", "llama3.1", "llama31", "llama":
		return Llama31Formatter{}
	default:
		return DefaultFormatter
	}
}
