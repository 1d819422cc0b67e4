package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apisearch "github.com/papercomputeco/llmkit/api/search"
)

var (
	searchToolName    = "search"
	searchDescription = "Search the llmkit vector store using semantic search. Returns the most relevant documents for the query text with their similarity scores and metadata."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query    string          `json:"query" jsonschema:"the search query text to find relevant documents"`
	TopK     int             `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
	MinScore float32         `json:"min_score,omitempty" jsonschema:"minimum relevance between 0 and 1"`
	Filter   json.RawMessage `json:"filter,omitempty" jsonschema:"metadata filter such as {\"op\":\"eq\",\"key\":\"lang\",\"value\":\"go\"}"`
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, apisearch.Output, error) {
	logger := s.config.Logger

	output, err := apisearch.Search(ctx, apisearch.Input{
		Query:    input.Query,
		TopK:     input.TopK,
		MinScore: input.MinScore,
		Filter:   input.Filter,
	}, s.config.Embedder, s.config.VectorDriver, logger)
	if err != nil {
		logger.Error("MCP search failed", "error", err)
		return toolError(fmt.Sprintf("Search failed: %v", err)), apisearch.Output{}, nil
	}

	// Structured output is mirrored as JSON text for clients that only read
	// text content.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), apisearch.Output{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, *output, nil
}
