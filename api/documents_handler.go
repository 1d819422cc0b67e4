package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/papercomputeco/llmkit/pkg/worker"
)

// Document is one document posted for ingestion.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocumentsRequest is the body of POST /v1/documents.
type DocumentsRequest struct {
	Documents []Document `json:"documents"`
}

// DocumentsResponse lists the ids of the documents queued for ingestion.
type DocumentsResponse struct {
	IDs []string `json:"ids"`
}

// handleDocuments queues documents for embedding and storage in the vector
// store. It answers 202 once every document is queued.
func (s *Server) handleDocuments(c *fiber.Ctx) error {
	if s.config.Pool == nil {
		return unavailable(c, "ingest is not configured: vector driver and embedder are required")
	}

	var req DocumentsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return badRequest(c, "documents are required")
	}
	for _, doc := range req.Documents {
		if doc.Text == "" {
			return badRequest(c, "every document needs text")
		}
	}

	ids := make([]string, 0, len(req.Documents))
	for _, doc := range req.Documents {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if !s.config.Pool.Enqueue(worker.Job{ID: id, Text: doc.Text, Metadata: doc.Metadata}) {
			s.logger.Warn("ingest queue full",
				"queued", len(ids),
				"rejected", len(req.Documents)-len(ids),
			)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "ingest queue is full",
				"ids":   ids,
			})
		}
		ids = append(ids, id)
	}

	return c.Status(fiber.StatusAccepted).JSON(DocumentsResponse{IDs: ids})
}
