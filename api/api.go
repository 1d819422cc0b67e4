package api

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/llmkit/api/mcp"
)

// Server is the llmkit API server.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
	mcp    *mcp.Server
}

// NewServer creates a new API server. Chat, embedding, search and ingest
// routes answer 503 until their backing component is configured.
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	logger = logger.With("component", "api")

	mcpConfig := mcp.Config{
		Model:        config.Model,
		DefaultModel: config.DefaultModel,
		Logger:       logger,
	}
	if config.VectorDriver != nil && config.Embedder != nil {
		mcpConfig.VectorDriver = config.VectorDriver
		mcpConfig.Embedder = config.Embedder
	}
	mcpConfig.Noop = mcpConfig.Model == nil && mcpConfig.VectorDriver == nil

	mcpServer, err := mcp.NewServer(mcpConfig)
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		logger: logger,
		app:    app,
		mcp:    mcpServer,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/v1/providers", s.handleProviders)
	app.Post("/v1/chat", s.handleChat)
	app.Post("/v1/embeddings", s.handleEmbeddings)
	app.Post("/v1/documents", s.handleDocuments)
	app.Post("/v1/search", s.handleSearchEndpoint)
	app.Delete("/v1/cache/:id", s.handleClearCache)
	app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
