// Package pinecone provides a Pinecone vector driver over its REST API.
package pinecone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const (
	DefaultControllerURL = "https://api.pinecone.io"
	DefaultTextField     = "text"
	DefaultCloud         = "aws"
	DefaultRegion        = "us-east-1"
	DefaultReadyTimeout  = time.Minute
	DefaultPollInterval  = time.Second
)

// Config holds configuration for the Pinecone driver.
type Config struct {
	APIKey    string
	IndexName string
	Namespace string

	// TextField is the metadata key holding the document text.
	TextField string

	// Dimensions sizes the index when it has to be created.
	Dimensions uint

	// Environment and PodType select a pod-based index. Otherwise a
	// serverless index is created in Cloud/Region.
	Environment string
	PodType     string
	Cloud       string
	Region      string

	// ControllerURL overrides the control plane endpoint.
	ControllerURL string

	ReadyTimeout time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Driver implements vector.Driver using Pinecone. The index is checked,
// and created if needed, on first use.
type Driver struct {
	cfg     Config
	control *restclient.Client
	logger  *slog.Logger

	mu   sync.Mutex
	data *restclient.Client
}

// NewDriver creates a Pinecone driver.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("pinecone API key is required")
	}
	if c.IndexName == "" {
		return nil, fmt.Errorf("pinecone index name is required")
	}
	if c.TextField == "" {
		c.TextField = DefaultTextField
	}
	if c.Cloud == "" {
		c.Cloud = DefaultCloud
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.ControllerURL == "" {
		c.ControllerURL = DefaultControllerURL
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "pinecone")

	return &Driver{
		cfg:     c,
		control: restclient.New(c.restConfig(c.ControllerURL), log),
		logger:  log,
	}, nil
}

func (c Config) restConfig(baseURL string) restclient.Config {
	return restclient.Config{
		BaseURL:    baseURL,
		Timeout:    c.Timeout,
		Headers:    map[string]string{"Api-Key": c.APIKey},
		HTTPClient: c.HTTPClient,
	}
}

// index returns the data plane client, creating the index and waiting for
// it to become ready the first time.
func (d *Driver) index(ctx context.Context) (*restclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != nil {
		return d.data, nil
	}

	var list indexList
	if err := d.control.DoJSON(ctx, http.MethodGet, "/indexes", nil, &list); err != nil {
		return nil, fmt.Errorf("%w: listing indexes: %v", vector.ErrConnection, err)
	}

	var desc *indexDescription
	for i := range list.Indexes {
		if list.Indexes[i].Name == d.cfg.IndexName {
			desc = &list.Indexes[i]
			break
		}
	}

	if desc == nil {
		created, err := d.createIndex(ctx)
		if err != nil {
			return nil, err
		}
		desc = created
	} else {
		d.logger.Info("pinecone index already exists", "index", d.cfg.IndexName)
	}

	host := desc.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	d.data = restclient.New(d.cfg.restConfig(host), d.logger)
	return d.data, nil
}

func (d *Driver) createIndex(ctx context.Context) (*indexDescription, error) {
	if d.cfg.Dimensions == 0 {
		return nil, fmt.Errorf("pinecone dimensions must be configured to create index %q", d.cfg.IndexName)
	}

	req := createIndexRequest{
		Name:      d.cfg.IndexName,
		Dimension: d.cfg.Dimensions,
		Metric:    "cosine",
	}
	if d.cfg.Environment != "" && d.cfg.PodType != "" {
		req.Spec.Pod = &podSpec{Environment: d.cfg.Environment, PodType: d.cfg.PodType}
	} else {
		req.Spec.Serverless = &serverlessSpec{Cloud: d.cfg.Cloud, Region: d.cfg.Region}
	}
	if err := d.control.DoJSON(ctx, http.MethodPost, "/indexes", req, nil); err != nil {
		return nil, fmt.Errorf("creating index %s: %w", d.cfg.IndexName, err)
	}
	d.logger.Info("created pinecone index, waiting for it to become ready",
		"index", d.cfg.IndexName,
		"dimensions", d.cfg.Dimensions,
	)

	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	path := "/indexes/" + url.PathEscape(d.cfg.IndexName)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.PollInterval):
		}

		var desc indexDescription
		if err := d.control.DoJSON(ctx, http.MethodGet, path, nil, &desc); err != nil {
			return nil, fmt.Errorf("describing index %s: %w", d.cfg.IndexName, err)
		}
		if desc.Status.Ready {
			d.logger.Info("pinecone index is ready", "index", d.cfg.IndexName)
			return &desc, nil
		}
	}
	return nil, fmt.Errorf("index %s did not become ready within %s", d.cfg.IndexName, d.cfg.ReadyTimeout)
}

// Add upserts documents, storing the text under the text metadata field.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	data, err := d.index(ctx)
	if err != nil {
		return err
	}

	req := upsertRequest{Namespace: d.cfg.Namespace, Vectors: make([]upsertVector, len(docs))}
	for i, doc := range docs {
		meta := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[d.cfg.TextField] = doc.Text
		req.Vectors[i] = upsertVector{ID: doc.ID, Values: doc.Embedding, Metadata: meta}
	}

	if err := data.DoJSON(ctx, http.MethodPost, "/vectors/upsert", req, nil); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	d.logger.Debug("added documents to pinecone", "count", len(docs))
	return nil
}

// Query searches the namespace. Pinecone reports cosine similarity, mapped
// to relevance as (s+1)/2.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	where, err := filter.ToPinecone(q.Filter)
	if err != nil {
		return nil, err
	}
	data, err := d.index(ctx)
	if err != nil {
		return nil, err
	}

	req := queryRequest{
		Vector:          q.Embedding,
		TopK:            q.Limit(),
		Namespace:       d.cfg.Namespace,
		Filter:          where,
		IncludeValues:   true,
		IncludeMetadata: true,
	}
	var resp queryResponse
	if err := data.DoJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		results = append(results, vector.QueryResult{
			Document: d.toDocument(m),
			Score:    vector.CosineScore(m.Score),
		})
	}
	return vector.Finalize(results, q.MinScore, q.Limit()), nil
}

func (d *Driver) toDocument(m match) vector.Document {
	doc := vector.Document{ID: m.ID, Embedding: m.Values}
	for k, v := range m.Metadata {
		if k == d.cfg.TextField {
			doc.Text, _ = v.(string)
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[k] = v
	}
	return doc
}

// Get fetches documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := d.index(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{"ids": ids}
	if d.cfg.Namespace != "" {
		query.Set("namespace", d.cfg.Namespace)
	}
	var resp fetchResponse
	if err := data.DoJSON(ctx, http.MethodGet, "/vectors/fetch?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	var docs []vector.Document
	for _, id := range ids {
		if m, ok := resp.Vectors[id]; ok {
			if m.ID == "" {
				m.ID = id
			}
			docs = append(docs, d.toDocument(m))
		}
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return d.delete(ctx, deleteRequest{IDs: ids, Namespace: d.cfg.Namespace})
}

// DeleteAll clears the namespace.
func (d *Driver) DeleteAll(ctx context.Context) error {
	return d.delete(ctx, deleteRequest{DeleteAll: true, Namespace: d.cfg.Namespace})
}

func (d *Driver) delete(ctx context.Context, req deleteRequest) error {
	data, err := d.index(ctx)
	if err != nil {
		return err
	}
	if err := data.DoJSON(ctx, http.MethodPost, "/vectors/delete", req, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
