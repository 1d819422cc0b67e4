// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const (
	// DefaultCollectionName is the default collection name for storing llmkit embeddings.
	DefaultCollectionName = "llmkit"

	DefaultTenant   = "default_tenant"
	DefaultDatabase = "default_database"

	DefaultMaxRetries    = 5
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 10 * time.Second
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	rest           *restclient.Client
	collectionsURL string
	collectionName string
	collectionID   string
	logger         *slog.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	Tenant   string
	Database string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds the attempts to reach Chroma at startup. The delay
	// doubles after each failed attempt up to MaxRetryDelay.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Timeout time.Duration

	HTTPClient *http.Client
}

// NewDriver creates a new Chroma vector driver. It gets or creates the
// collection, retrying while the server is still starting up.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	if c.Tenant == "" {
		c.Tenant = DefaultTenant
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "chroma")

	d := &Driver{
		rest: restclient.New(restclient.Config{
			BaseURL:    c.URL,
			Timeout:    c.Timeout,
			HTTPClient: c.HTTPClient,
		}, log),
		collectionsURL: fmt.Sprintf("/api/v2/tenants/%s/databases/%s/collections",
			url.PathEscape(c.Tenant), url.PathEscape(c.Database)),
		collectionName: c.CollectionName,
		logger:         log,
	}

	var (
		lastErr error
		delay   = c.RetryDelay
	)
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		id, err := d.getOrCreateCollection(context.Background())
		if err == nil {
			d.collectionID = id
			log.Info("connected to Chroma",
				"url", c.URL,
				"collection", c.CollectionName,
				"collection_id", id,
				"attempts", attempt,
			)
			return d, nil
		}

		lastErr = err
		if attempt == c.MaxRetries {
			break
		}
		log.Warn("chroma not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
		time.Sleep(delay)
		delay = min(delay*2, c.MaxRetryDelay)
	}

	return nil, fmt.Errorf("%w: getting or creating collection %q after %d attempts: %v",
		vector.ErrConnection, c.CollectionName, c.MaxRetries, lastErr)
}

// getOrCreateCollection gets an existing collection or creates a new one.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	err := d.rest.DoJSON(ctx, http.MethodGet, d.collectionsURL+"/"+url.PathEscape(d.collectionName), nil, &collection)
	if err == nil {
		return collection.ID, nil
	}

	body := chromaCreateRequest{
		Name:        d.collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}
	if err := d.rest.DoJSON(ctx, http.MethodPost, d.collectionsURL, body, &collection); err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}
	if collection.ID == "" {
		return "", errors.New("chroma returned a collection without an id")
	}
	return collection.ID, nil
}

func (d *Driver) collectionPath(op string) string {
	return d.collectionsURL + "/" + url.PathEscape(d.collectionID) + "/" + op
}

// Add upserts documents with their embeddings, text and metadata.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
		Documents:  make([]string, len(docs)),
	}
	for i, doc := range docs {
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Documents[i] = doc.Text
		// Chroma rejects empty metadata objects.
		if len(doc.Metadata) > 0 {
			req.Metadatas[i] = doc.Metadata
		}
	}

	if err := d.rest.DoJSON(ctx, http.MethodPost, d.collectionPath("upsert"), req, nil); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	d.logger.Debug("added documents to chroma", "count", len(docs))
	return nil
}

// Query finds the most similar documents. Chroma reports cosine distances,
// mapped to relevance as 1 - d/2.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	where, err := filter.ToChroma(q.Filter)
	if err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{q.Embedding},
		NResults:        q.Limit(),
		Include:         []string{"metadatas", "documents", "distances", "embeddings"},
		Where:           where,
	}

	var resp chromaQueryResponse
	if err := d.rest.DoJSON(ctx, http.MethodPost, d.collectionPath("query"), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	// Process first group (we only query with one embedding)
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return nil, nil
	}

	results := make([]vector.QueryResult, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		result := vector.QueryResult{Document: vector.Document{ID: id}}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			result.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			result.Text = *resp.Documents[0][i]
		}
		if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
			result.Embedding = resp.Embeddings[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			result.Score = vector.DistanceScore(resp.Distances[0][i])
		}
		results = append(results, result)
	}

	results = vector.Finalize(results, q.MinScore, q.Limit())
	d.logger.Debug("queried chroma", "results", len(results))
	return results, nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req := chromaGetRequest{
		IDs:     ids,
		Include: []string{"metadatas", "documents", "embeddings"},
	}

	var resp chromaGetResponse
	if err := d.rest.DoJSON(ctx, http.MethodPost, d.collectionPath("get"), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	docs := make([]vector.Document, len(resp.IDs))
	for i, id := range resp.IDs {
		docs[i].ID = id
		if i < len(resp.Metadatas) {
			docs[i].Metadata = resp.Metadatas[i]
		}
		if i < len(resp.Documents) && resp.Documents[i] != nil {
			docs[i].Text = *resp.Documents[i]
		}
		if i < len(resp.Embeddings) {
			docs[i].Embedding = resp.Embeddings[i]
		}
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := d.rest.DoJSON(ctx, http.MethodPost, d.collectionPath("delete"), chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	d.logger.Debug("deleted documents from chroma", "count", len(ids))
	return nil
}

// DeleteAll drops the collection and creates it again.
func (d *Driver) DeleteAll(ctx context.Context) error {
	path := d.collectionsURL + "/" + url.PathEscape(d.collectionName)
	if err := d.rest.DoJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}

	id, err := d.getOrCreateCollection(ctx)
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	d.collectionID = id
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

var _ vector.Driver = (*Driver)(nil)
