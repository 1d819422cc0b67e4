// Package mcp provides an MCP (Model Context Protocol) server exposing
// llmkit's semantic search and cached chat as tools.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
	"github.com/papercomputeco/llmkit/pkg/utils"
	"github.com/papercomputeco/llmkit/pkg/vector"
)

type Config struct {
	// Model answers the chat tool (optional, enables chat)
	Model provider.Provider

	// DefaultModel is used when a chat call does not name a model
	DefaultModel string

	// VectorDriver for semantic search
	VectorDriver vector.Driver

	// Embedder for converting query text to vectors for semantic search with
	// configured VectorDriver
	Embedder embeddings.SingleEmbedder

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server. The search tool is registered when a
// vector driver and embedder are configured, the chat tool when a model is.
func NewServer(c Config) (*Server, error) {
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "llmkit",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		search := c.VectorDriver != nil || c.Embedder != nil
		if search && c.VectorDriver == nil {
			return nil, errors.New("vector driver is required")
		}
		if search && c.Embedder == nil {
			return nil, errors.New("embedder is required")
		}
		if !search && c.Model == nil {
			return nil, errors.New("a model or a vector driver and embedder is required")
		}

		if search {
			mcp.AddTool(mcpServer, &mcp.Tool{
				Name:        searchToolName,
				Description: searchDescription,
			}, s.handleSearch)
		}
		if c.Model != nil {
			mcp.AddTool(mcpServer, &mcp.Tool{
				Name:        chatToolName,
				Description: chatDescription,
			}, s.handleChat)
		}
	}

	s.mcpServer = mcpServer

	// Stateless streamable HTTP: every request gets the same server.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
