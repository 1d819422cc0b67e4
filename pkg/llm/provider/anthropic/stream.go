package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/sse"
)

// assembler folds Messages API stream events into a final response while
// forwarding partial text, thinking and tool-call fragments to a handler.
type assembler struct {
	returnThinking bool
	handler        llm.StreamHandler

	id    string
	model string
	usage *llm.Usage

	stopReason string

	// blockType is the type of the content block currently open.
	blockType string
	text      strings.Builder
	thinking  strings.Builder

	texts      []string
	thoughts   []string
	signatures []string
	redacted   []string

	toolIndex int
	tool      *llm.ToolCall
	toolArgs  strings.Builder
	tools     []llm.ContentBlock
}

func newAssembler(returnThinking bool, handler llm.StreamHandler) *assembler {
	if handler == nil {
		handler = func(*llm.StreamChunk) error { return nil }
	}
	return &assembler{
		returnThinking: returnThinking,
		handler:        handler,
		toolIndex:      -1,
	}
}

// assemble reads SSE events from body until message_stop.
func assemble(body io.Reader, returnThinking bool, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	a := newAssembler(returnThinking, handler)
	reader := sse.NewReader(body)

	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading anthropic stream: %w", err)
		}
		if ev == nil {
			return nil, fmt.Errorf("anthropic stream ended before message_stop: %w", io.ErrUnexpectedEOF)
		}

		resp, err := a.handle(ev)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
}

// handle processes one event. It returns the final response on
// message_stop and nil otherwise.
func (a *assembler) handle(ev *sse.Event) (*llm.ChatResponse, error) {
	if ev.Data == "" {
		return nil, nil
	}

	var data streamEvent
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return nil, fmt.Errorf("decoding anthropic stream event %q: %w", ev.Type, err)
	}

	eventType := data.Type
	if eventType == "" {
		eventType = ev.Type
	}

	switch eventType {
	case "message_start":
		if data.Message != nil {
			a.id = data.Message.ID
			a.model = data.Message.Model
			if data.Message.Usage != nil {
				a.usage = toUsage(data.Message.Usage)
			}
		}

	case "content_block_start":
		return nil, a.blockStart(data.ContentBlock)

	case "content_block_delta":
		return nil, a.blockDelta(data.Delta)

	case "content_block_stop":
		return nil, a.blockStop()

	case "message_delta":
		if data.Delta != nil && data.Delta.StopReason != "" {
			a.stopReason = data.Delta.StopReason
		}
		if data.Usage != nil {
			if a.usage == nil {
				a.usage = &llm.Usage{}
			}
			a.usage.CompletionTokens = data.Usage.OutputTokens
			a.usage.TotalTokens = a.usage.PromptTokens + a.usage.CompletionTokens
		}

	case "message_stop":
		resp := buildResponse(a.id, a.model, a.stopReason, a.usage,
			a.texts, a.thoughts, a.signatures, a.redacted, a.tools)
		err := a.handler(&llm.StreamChunk{
			Model:      a.model,
			Done:       true,
			StopReason: a.stopReason,
			Usage:      a.usage,
		})
		if err != nil {
			return nil, err
		}
		return resp, nil

	case "error":
		if data.Error != nil {
			return nil, &APIError{Type: data.Error.Type, Message: data.Error.Message}
		}
		return nil, &APIError{Type: "error", Message: ev.Data}

	default:
		// ping and future event types
	}

	return nil, nil
}

func (a *assembler) blockStart(block *wireBlock) error {
	if block == nil {
		return nil
	}
	a.blockType = block.Type

	switch block.Type {
	case "text":
		a.text.Reset()
		return a.emitText(block.Text)
	case "thinking":
		a.thinking.Reset()
		if a.returnThinking {
			if block.Signature != "" {
				a.signatures = append(a.signatures, block.Signature)
			}
			return a.emitThinking(block.Thinking)
		}
	case "redacted_thinking":
		if a.returnThinking && block.Data != "" {
			a.redacted = append(a.redacted, block.Data)
		}
	case "tool_use":
		a.toolIndex++
		a.toolArgs.Reset()
		a.tool = &llm.ToolCall{Index: a.toolIndex, ID: block.ID, Name: block.Name}
	}
	return nil
}

func (a *assembler) blockDelta(delta *streamDelta) error {
	if delta == nil {
		return nil
	}

	switch delta.Type {
	case "text_delta":
		return a.emitText(delta.Text)
	case "thinking_delta":
		if a.returnThinking {
			return a.emitThinking(delta.Thinking)
		}
	case "signature_delta":
		if a.returnThinking && delta.Signature != "" {
			a.signatures = append(a.signatures, delta.Signature)
		}
	case "input_json_delta":
		if a.tool == nil || delta.PartialJSON == "" {
			return nil
		}
		a.toolArgs.WriteString(delta.PartialJSON)
		return a.handler(&llm.StreamChunk{
			Model: a.model,
			ToolCall: &llm.ToolCall{
				Index:     a.tool.Index,
				ID:        a.tool.ID,
				Name:      a.tool.Name,
				Arguments: delta.PartialJSON,
			},
		})
	default:
		// redacted_thinking data deltas carry nothing we surface
		if delta.Data != "" && a.returnThinking {
			a.redacted = append(a.redacted, delta.Data)
		}
	}
	return nil
}

func (a *assembler) blockStop() error {
	switch a.blockType {
	case "text":
		a.texts = append(a.texts, a.text.String())
		a.text.Reset()
	case "thinking":
		if a.returnThinking {
			a.thoughts = append(a.thoughts, a.thinking.String())
		}
		a.thinking.Reset()
	case "tool_use":
		if a.tool == nil {
			break
		}
		args := a.toolArgs.String()
		if args == "" {
			// A tool without arguments still reports an empty object.
			args = "{}"
			err := a.handler(&llm.StreamChunk{
				Model:    a.model,
				ToolCall: &llm.ToolCall{Index: a.tool.Index, ID: a.tool.ID, Name: a.tool.Name, Arguments: args},
			})
			if err != nil {
				return err
			}
		}
		input, err := llm.DecodeArguments(args)
		if err != nil {
			return fmt.Errorf("decoding arguments of tool %q: %w", a.tool.Name, err)
		}
		a.tools = append(a.tools, llm.ContentBlock{
			Type:      llm.BlockToolUse,
			ToolUseID: a.tool.ID,
			ToolName:  a.tool.Name,
			ToolInput: input,
		})
		a.tool = nil
		a.toolArgs.Reset()
	}
	a.blockType = ""
	return nil
}

func (a *assembler) emitText(text string) error {
	if text == "" {
		return nil
	}
	a.text.WriteString(text)
	return a.handler(&llm.StreamChunk{Model: a.model, Text: text})
}

func (a *assembler) emitThinking(text string) error {
	if text == "" {
		return nil
	}
	a.thinking.WriteString(text)
	return a.handler(&llm.StreamChunk{Model: a.model, Thinking: text})
}
