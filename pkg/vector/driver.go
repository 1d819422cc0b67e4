// Package vector provides the driver contract for vector stores and the
// types shared by its implementations.
package vector

import (
	"context"
	"sort"

	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

// DefaultTopK is used when a query does not set TopK.
const DefaultTopK = 10

// Document represents a stored item with its embedding and metadata.
type Document struct {
	// ID is a unique identifier for the document.
	ID string

	// Text is the embedded content.
	Text string

	// Embedding is the vector representation of the document content.
	Embedding []float32

	// Metadata holds scalar attributes filters can refer to.
	Metadata map[string]any
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the relevance in [0, 1] (higher = more similar).
	Score float32
}

// QueryRequest describes a similarity search.
type QueryRequest struct {
	Embedding []float32

	// TopK bounds the number of results. Defaults to DefaultTopK.
	TopK int

	// MinScore drops results below this relevance.
	MinScore float32

	// Filter restricts the candidates by metadata. Nil matches everything.
	Filter filter.Filter
}

// Limit returns TopK or DefaultTopK when it is not set.
func (q QueryRequest) Limit() int {
	if q.TopK <= 0 {
		return DefaultTopK
	}
	return q.TopK
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should update
	// the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the most similar documents to the request embedding,
	// best first.
	Query(ctx context.Context, req QueryRequest) ([]QueryResult, error)

	// Get retrieves documents by their IDs. Unknown IDs are skipped.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// DeleteAll removes every document the driver manages.
	DeleteAll(ctx context.Context) error

	// Close releases any resources held by the driver.
	Close() error
}

// Finalize drops results below minScore, sorts the rest best first and
// truncates them to limit. Drivers that post-filter share it.
func Finalize(results []QueryResult, minScore float32, limit int) []QueryResult {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// DistanceScore maps a cosine distance in [0, 2] to relevance in [0, 1].
func DistanceScore(distance float64) float32 {
	return float32(1 - distance/2)
}

// CosineScore maps a cosine similarity in [-1, 1] to relevance in [0, 1].
func CosineScore(similarity float64) float32 {
	return float32((similarity + 1) / 2)
}
