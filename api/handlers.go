package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	apisearch "github.com/papercomputeco/llmkit/api/search"
	"github.com/papercomputeco/llmkit/pkg/cache"
	embeddingutils "github.com/papercomputeco/llmkit/pkg/embeddings/utils"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
	"github.com/papercomputeco/llmkit/pkg/sse"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	vectorutils "github.com/papercomputeco/llmkit/pkg/vector/utils"
)

// ChatRequest is the body of POST /v1/chat. CacheID selects the semantic
// cache the request is answered from and stored in.
type ChatRequest struct {
	CacheID string `json:"cache_id,omitempty"`
	llm.ChatRequest
}

// ProvidersResponse lists the backends this build supports.
type ProvidersResponse struct {
	Model        string   `json:"model,omitempty"`
	Providers    []string `json:"providers"`
	Embedders    []string `json:"embedders"`
	VectorStores []string `json:"vector_stores"`
}

// EmbeddingsRequest is the body of POST /v1/embeddings.
type EmbeddingsRequest struct {
	Input []string `json:"input"`
}

// EmbeddingsResponse holds one embedding per input, in input order.
type EmbeddingsResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Count      int         `json:"count"`
}

// statusFor maps an error onto the HTTP status reported to API clients.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apisearch.ErrInvalidInput),
		errors.Is(err, filter.ErrUnsupportedFilter),
		errors.Is(err, llm.ErrUnsupported):
		return fiber.StatusBadRequest
	case errors.Is(err, vector.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, llm.ErrProvider),
		errors.Is(err, vector.ErrEmbedding),
		errors.Is(err, vector.ErrConnection):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return c.Status(status).JSON(llm.ErrorResponse{Error: err.Error()})
}

func unavailable(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: msg})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleProviders lists the supported chat providers, embedders and
// vector stores.
func (s *Server) handleProviders(c *fiber.Ctx) error {
	resp := ProvidersResponse{
		Providers:    provider.SupportedProviders(),
		Embedders:    embeddingutils.SupportedEmbedders(),
		VectorStores: vectorutils.SupportedVectorDrivers(),
	}
	if s.config.Model != nil {
		resp.Model = s.config.Model.Name()
	}
	return c.JSON(resp)
}

// handleChat answers a chat request through the configured model. When the
// request sets stream, chunks are written as SSE data frames followed by
// "[DONE]".
func (s *Server) handleChat(c *fiber.Ctx) error {
	if s.config.Model == nil {
		return unavailable(c, "chat is not configured: a model provider is required")
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages are required")
	}
	if req.Model == "" {
		req.Model = s.config.DefaultModel
	}

	chat := req.ChatRequest
	if chat.Stream != nil && *chat.Stream {
		return s.streamChat(c, req.CacheID, &chat)
	}

	ctx := cache.WithID(c.Context(), req.CacheID)
	resp, err := s.config.Model.Chat(ctx, &chat)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) streamChat(c *fiber.Ctx, cacheID string, req *llm.ChatRequest) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	model := s.config.Model
	logger := s.logger

	// The stream writer runs after the handler returns, so it cannot use the
	// request context.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		out := sse.NewWriter(w)
		ctx := cache.WithID(context.Background(), cacheID)

		_, err := model.Stream(ctx, req, func(chunk *llm.StreamChunk) error {
			data, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			return out.WriteData(string(data))
		})
		if err != nil {
			logger.Warn("chat stream failed", "error", err)
			_ = out.WriteError(err.Error())
			return
		}
		_ = out.WriteDone()
	})
	return nil
}

// handleEmbeddings embeds every input text.
func (s *Server) handleEmbeddings(c *fiber.Ctx) error {
	if s.config.Embedder == nil {
		return unavailable(c, "embeddings are not configured: an embedder is required")
	}

	var req EmbeddingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Input) == 0 {
		return badRequest(c, "input is required")
	}

	embeddings, err := s.config.Embedder.EmbedAll(c.Context(), req.Input)
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: %w", vector.ErrEmbedding, err))
	}

	return c.JSON(EmbeddingsResponse{
		Embeddings: embeddings,
		Count:      len(embeddings),
	})
}

// handleClearCache removes every record stored under a cache id.
func (s *Server) handleClearCache(c *fiber.Ctx) error {
	if s.config.Caches == nil {
		return unavailable(c, "the semantic cache is not configured")
	}

	id, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid cache id")
	}
	if id == "" {
		return badRequest(c, "id parameter required")
	}

	if err := s.config.Caches.Clear(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
