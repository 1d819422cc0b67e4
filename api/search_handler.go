package api

import (
	"github.com/gofiber/fiber/v2"

	apisearch "github.com/papercomputeco/llmkit/api/search"
)

// handleSearchEndpoint handles POST /v1/search requests.
// Body fields:
//   - query (required): the search query text
//   - top_k (optional, default 5): number of results to return
//   - min_score (optional): drop results below this relevance
//   - filter (optional): metadata filter in its JSON form
func (s *Server) handleSearchEndpoint(c *fiber.Ctx) error {
	if s.config.VectorDriver == nil || s.config.Embedder == nil {
		return unavailable(c, "search is not configured: vector driver and embedder are required")
	}

	var in apisearch.Input
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}

	output, err := apisearch.Search(
		c.Context(),
		in,
		s.config.Embedder,
		s.config.VectorDriver,
		s.logger,
	)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(output)
}
