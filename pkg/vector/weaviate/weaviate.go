// Package weaviate provides a Weaviate vector driver using the REST API for
// writes and GraphQL nearVector queries for search.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const (
	DefaultClass = "LlmkitDocument"

	// filteredOversample widens the candidate set when metadata filters are
	// evaluated after the search.
	filteredOversample = 10
	maxCandidates      = 1000

	propText     = "text"
	propDocID    = "docId"
	propMetadata = "metadata"
)

var idNamespace = uuid.MustParse("1d7c1d0e-8a5b-4f7e-b3c2-5e9a0f4d6b21")

// Config holds configuration for the Weaviate driver.
type Config struct {
	// URL is the Weaviate endpoint, e.g. "http://localhost:8080".
	URL    string
	APIKey string

	// Class must start with an upper case letter.
	Class string

	HTTPClient *http.Client
}

// Driver implements vector.Driver using Weaviate.
type Driver struct {
	rest   *restclient.Client
	class  string
	logger *slog.Logger
}

// NewDriver creates the class when it is missing.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("weaviate URL is required")
	}
	if c.Class == "" {
		c.Class = DefaultClass
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "weaviate")

	cfg := restclient.Config{BaseURL: c.URL, HTTPClient: c.HTTPClient}
	if c.APIKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + c.APIKey}
	}

	d := &Driver{
		rest:   restclient.New(cfg, log),
		class:  c.Class,
		logger: log,
	}
	if err := d.ensureClass(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func isNotFound(err error) bool {
	var se *restclient.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

func (d *Driver) ensureClass(ctx context.Context) error {
	err := d.rest.DoJSON(ctx, http.MethodGet, "/v1/schema/"+url.PathEscape(d.class), nil, nil)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("%w: reading schema: %v", vector.ErrConnection, err)
	}

	class := map[string]any{
		"class":             d.class,
		"vectorizer":        "none",
		"vectorIndexConfig": map[string]any{"distance": "cosine"},
		"properties": []map[string]any{
			{"name": propText, "dataType": []string{"text"}},
			{"name": propDocID, "dataType": []string{"text"}},
			{"name": propMetadata, "dataType": []string{"text"}},
		},
	}
	if err := d.rest.DoJSON(ctx, http.MethodPost, "/v1/schema", class, nil); err != nil {
		return fmt.Errorf("creating class %s: %w", d.class, err)
	}
	d.logger.Info("created weaviate class", "class", d.class)
	return nil
}

// ObjectID maps a document id to the UUID Weaviate stores it under.
func ObjectID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String()
}

type object struct {
	Class      string         `json:"class"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Vector     []float32      `json:"vector,omitempty"`
}

type batchResult struct {
	ID     string `json:"id"`
	Result struct {
		Errors *struct {
			Error []struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

// Add upserts documents through the batch endpoint.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	objects := make([]object, len(docs))
	for i, doc := range docs {
		meta := "{}"
		if len(doc.Metadata) > 0 {
			raw, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata for doc %s: %w", doc.ID, err)
			}
			meta = string(raw)
		}
		objects[i] = object{
			Class: d.class,
			ID:    ObjectID(doc.ID),
			Properties: map[string]any{
				propText:     doc.Text,
				propDocID:    doc.ID,
				propMetadata: meta,
			},
			Vector: doc.Embedding,
		}
	}

	var results []batchResult
	if err := d.rest.DoJSON(ctx, http.MethodPost, "/v1/batch/objects", map[string]any{"objects": objects}, &results); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	for _, r := range results {
		if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("failed to add object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}

	d.logger.Debug("added documents to weaviate", "count", len(docs))
	return nil
}

type graphQLResponse struct {
	Data struct {
		Get map[string][]hit `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type hit struct {
	Text       string `json:"text"`
	DocID      string `json:"docId"`
	Metadata   string `json:"metadata"`
	Additional struct {
		ID        string    `json:"id"`
		Certainty float64   `json:"certainty"`
		Vector    []float32 `json:"vector"`
	} `json:"_additional"`
}

// nearVectorQuery renders the GraphQL search.
func (d *Driver) nearVectorQuery(embedding []float32, certainty float32, limit int) string {
	vec, _ := json.Marshal(embedding)
	return fmt.Sprintf(
		`{ Get { %s(nearVector: {vector: %s, certainty: %g}, limit: %d) { %s %s %s _additional { id certainty vector } } } }`,
		d.class, vec, certainty, limit, propText, propDocID, propMetadata,
	)
}

// Query runs a nearVector search. Weaviate's certainty is already the
// (1 + cos)/2 relevance. Metadata filters are applied to the returned hits.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	limit := q.Limit()
	if q.Filter != nil {
		limit = min(limit*filteredOversample, maxCandidates)
	}

	body := map[string]string{"query": d.nearVectorQuery(q.Embedding, q.MinScore, limit)}
	var resp graphQLResponse
	if err := d.rest.DoJSON(ctx, http.MethodPost, "/v1/graphql", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("failed to query: %s", strings.Join(msgs, "; "))
	}

	var results []vector.QueryResult
	for _, h := range resp.Data.Get[d.class] {
		doc := vector.Document{
			ID:        h.DocID,
			Text:      h.Text,
			Embedding: h.Additional.Vector,
			Metadata:  decodeMetadata(h.Metadata),
		}
		ok, err := filter.Match(q.Filter, doc.Metadata)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, vector.QueryResult{Document: doc, Score: float32(h.Additional.Certainty)})
		}
	}
	return vector.Finalize(results, q.MinScore, q.Limit()), nil
}

func decodeMetadata(raw string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func (d *Driver) objectPath(id string) string {
	return "/v1/objects/" + url.PathEscape(d.class) + "/" + ObjectID(id)
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	var docs []vector.Document
	for _, id := range ids {
		var obj object
		err := d.rest.DoJSON(ctx, http.MethodGet, d.objectPath(id)+"?include=vector", nil, &obj)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get document %s: %w", id, err)
		}

		doc := vector.Document{ID: id, Embedding: obj.Vector}
		doc.Text, _ = obj.Properties[propText].(string)
		if meta, ok := obj.Properties[propMetadata].(string); ok {
			doc.Metadata = decodeMetadata(meta)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := d.rest.DoJSON(ctx, http.MethodDelete, d.objectPath(id), nil, nil)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return nil
}

// DeleteAll drops the class and creates it again.
func (d *Driver) DeleteAll(ctx context.Context) error {
	err := d.rest.DoJSON(ctx, http.MethodDelete, "/v1/schema/"+url.PathEscape(d.class), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting class: %w", err)
	}
	return d.ensureClass(ctx)
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
