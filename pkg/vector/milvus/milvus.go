// Package milvus provides a Milvus vector driver over the RESTful v2 API.
package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const (
	DefaultCollection = "llmkit"
	DefaultMaxIDLen   = 512
	DefaultMaxTextLen = 65535

	fieldID       = "id"
	fieldVector   = "vector"
	fieldText     = "text"
	fieldMetadata = "metadata"

	filteredOversample = 10
	maxCandidates      = 16384
)

// ErrMilvus wraps non-zero codes in Milvus response envelopes.
var ErrMilvus = errors.New("milvus error")

// Config holds configuration for the Milvus driver.
type Config struct {
	// URL is the Milvus endpoint, e.g. "http://localhost:19530".
	URL string

	// Token is "user:password" or an API key.
	Token    string
	Database string

	Collection string
	Dimensions uint

	HTTPClient *http.Client
}

// Driver implements vector.Driver using Milvus.
type Driver struct {
	rest       *restclient.Client
	collection string
	database   string
	logger     *slog.Logger
}

// envelope is the common v2 response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NewDriver creates the collection on demand.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("milvus URL is required")
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("milvus embedding dimensions cannot be 0, must be configured")
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "milvus")

	cfg := restclient.Config{BaseURL: c.URL, HTTPClient: c.HTTPClient}
	if c.Token != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + c.Token}
	}
	d := &Driver{
		rest:       restclient.New(cfg, log),
		collection: c.Collection,
		database:   c.Database,
		logger:     log,
	}

	if err := d.ensureCollection(ctx, c.Dimensions); err != nil {
		return nil, err
	}
	return d, nil
}

// call posts to a v2 endpoint and decodes the data field into out.
func (d *Driver) call(ctx context.Context, path string, body map[string]any, out any) error {
	body["collectionName"] = d.collection
	if d.database != "" {
		body["dbName"] = d.database
	}

	var env envelope
	if err := d.rest.DoJSON(ctx, http.MethodPost, "/v2/vectordb"+path, body, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %s: code %d: %s", ErrMilvus, path, env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (d *Driver) ensureCollection(ctx context.Context, dims uint) error {
	var has struct {
		Has bool `json:"has"`
	}
	if err := d.call(ctx, "/collections/has", map[string]any{}, &has); err != nil {
		return fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}
	if has.Has {
		return nil
	}

	schema := map[string]any{
		"autoId":             false,
		"enableDynamicField": false,
		"fields": []map[string]any{
			{"fieldName": fieldID, "dataType": "VarChar", "isPrimary": true, "elementTypeParams": map[string]any{"max_length": DefaultMaxIDLen}},
			{"fieldName": fieldVector, "dataType": "FloatVector", "elementTypeParams": map[string]any{"dim": dims}},
			{"fieldName": fieldText, "dataType": "VarChar", "elementTypeParams": map[string]any{"max_length": DefaultMaxTextLen}},
			{"fieldName": fieldMetadata, "dataType": "JSON"},
		},
	}
	body := map[string]any{
		"schema": schema,
		"indexParams": []map[string]any{
			{"fieldName": fieldVector, "metricType": "COSINE", "indexName": fieldVector + "_idx", "params": map[string]any{"index_type": "AUTOINDEX"}},
		},
	}
	if err := d.call(ctx, "/collections/create", body, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", d.collection, err)
	}
	d.logger.Info("created milvus collection", "collection", d.collection, "dimensions", dims)
	return nil
}

// Add upserts documents.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(docs))
	for i, doc := range docs {
		meta := doc.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		rows[i] = map[string]any{
			fieldID:       doc.ID,
			fieldVector:   doc.Embedding,
			fieldText:     doc.Text,
			fieldMetadata: meta,
		}
	}
	if err := d.call(ctx, "/entities/upsert", map[string]any{"data": rows}, nil); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	d.logger.Debug("added documents to milvus", "count", len(docs))
	return nil
}

type entity struct {
	ID       string         `json:"id"`
	Distance float64        `json:"distance"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

func (e entity) document() vector.Document {
	doc := vector.Document{ID: e.ID, Text: e.Text, Embedding: e.Vector}
	if len(e.Metadata) > 0 {
		doc.Metadata = e.Metadata
	}
	return doc
}

// Query searches with the COSINE metric, whose score is the similarity,
// mapped to relevance as (s+1)/2. Metadata filters are applied to the hits.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	limit := q.Limit()
	if q.Filter != nil {
		limit = min(limit*filteredOversample, maxCandidates)
	}

	body := map[string]any{
		"data":         [][]float32{q.Embedding},
		"annsField":    fieldVector,
		"limit":        limit,
		"outputFields": []string{fieldText, fieldVector, fieldMetadata},
	}
	var hits []entity
	if err := d.call(ctx, "/entities/search", body, &hits); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	var results []vector.QueryResult
	for _, h := range hits {
		doc := h.document()
		ok, err := filter.Match(q.Filter, doc.Metadata)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, vector.QueryResult{Document: doc, Score: vector.CosineScore(h.Distance)})
		}
	}
	return vector.Finalize(results, q.MinScore, q.Limit()), nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"id":           ids,
		"outputFields": []string{fieldID, fieldText, fieldVector, fieldMetadata},
	}
	var found []entity
	if err := d.call(ctx, "/entities/get", body, &found); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	docs := make([]vector.Document, len(found))
	for i, e := range found {
		docs[i] = e.document()
	}
	return docs, nil
}

// idFilter renders a boolean expression selecting the ids.
func idFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ","))
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.call(ctx, "/entities/delete", map[string]any{"filter": idFilter(ids)}, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// DeleteAll deletes every entity with a non-empty primary key.
func (d *Driver) DeleteAll(ctx context.Context) error {
	if err := d.call(ctx, "/entities/delete", map[string]any{"filter": fieldID + ` != ""`}, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
