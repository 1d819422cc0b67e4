package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/llm"
)

var (
	chatToolName    = "chat"
	chatDescription = "Ask the configured language model a question. Answers are served from llmkit's semantic cache when a similar question was asked before."
)

// ChatInput represents the input arguments for the chat tool.
type ChatInput struct {
	Prompt  string `json:"prompt" jsonschema:"the question or instruction for the model"`
	System  string `json:"system,omitempty" jsonschema:"optional system prompt"`
	Model   string `json:"model,omitempty" jsonschema:"model name (default: the server's configured model)"`
	CacheID string `json:"cache_id,omitempty" jsonschema:"semantic cache to answer from (default: the shared cache)"`
}

// ChatOutput represents the output of the chat tool.
type ChatOutput struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	CacheHit bool   `json:"cache_hit"`
}

func (s *Server) handleChat(ctx context.Context, _ *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, ChatOutput, error) {
	if input.Prompt == "" {
		return toolError("prompt is required"), ChatOutput{}, nil
	}

	model := input.Model
	if model == "" {
		model = s.config.DefaultModel
	}

	req := &llm.ChatRequest{
		Model:    model,
		System:   input.System,
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, input.Prompt)},
	}

	resp, err := s.config.Model.Chat(cache.WithID(ctx, input.CacheID), req)
	if err != nil {
		s.config.Logger.Error("MCP chat failed", "error", err)
		return toolError(fmt.Sprintf("Chat failed: %v", err)), ChatOutput{}, nil
	}

	hit, _ := resp.Extra[cache.ExtraCacheHit].(bool)
	output := ChatOutput{
		Text:     resp.Text(),
		Model:    resp.Model,
		CacheHit: hit,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: output.Text},
		},
	}, output, nil
}
