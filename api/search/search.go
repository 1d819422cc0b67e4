// Package search provides the semantic document search shared by the REST
// endpoint, the MCP search tool and the CLI.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

// DefaultTopK is used when a search does not set TopK.
const DefaultTopK = 5

// ErrInvalidInput marks searches rejected before touching any backend.
var ErrInvalidInput = errors.New("invalid search input")

// Input represents the arguments of a search request.
type Input struct {
	Query    string          `json:"query"`
	TopK     int             `json:"top_k,omitempty"`
	MinScore float32         `json:"min_score,omitempty"`
	Filter   json.RawMessage `json:"filter,omitempty"`
}

// Result represents a single matching document.
type Result struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Output represents the output of a search operation.
type Output struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Count   int      `json:"count"`
}

// Search embeds the query text and returns the most similar documents in the
// vector store, best first.
func Search(
	ctx context.Context,
	in Input,
	embedder embeddings.SingleEmbedder,
	vectorDriver vector.Driver,
	logger *slog.Logger,
) (*Output, error) {
	if in.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if in.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be a positive integer", ErrInvalidInput)
	}

	topK := in.TopK
	if topK == 0 {
		topK = DefaultTopK
	}

	f, err := filter.Parse(in.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	logger.Debug("search request",
		"query", in.Query,
		"top_k", topK,
		"min_score", in.MinScore,
		"filtered", f != nil,
	)

	queryEmbedding, err := embedder.Embed(ctx, in.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %w", vector.ErrEmbedding, err)
	}

	results, err := vectorDriver.Query(ctx, vector.QueryRequest{
		Embedding: queryEmbedding,
		TopK:      topK,
		MinScore:  in.MinScore,
		Filter:    f,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	out := &Output{
		Query:   in.Query,
		Results: make([]Result, 0, len(results)),
	}
	for _, r := range results {
		out.Results = append(out.Results, Result{
			ID:       r.ID,
			Score:    r.Score,
			Text:     r.Text,
			Metadata: r.Metadata,
		})
	}
	out.Count = len(out.Results)

	return out, nil
}
