// Package qdrant provides a Qdrant vector driver over the gRPC API.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const (
	DefaultHost       = "localhost"
	DefaultPort       = 6334
	DefaultCollection = "llmkit"

	// Payload keys holding the caller's id and text. Metadata keys live
	// beside them at the top level so filters can address them.
	payloadID   = "_llmkit_id"
	payloadText = "_llmkit_text"
)

// idNamespace derives stable point UUIDs from arbitrary document ids.
var idNamespace = uuid.MustParse("6f1c2e8a-3b5d-4c7e-9a10-2d4f6b8c0e12")

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions sizes the collection when it has to be created.
	Dimensions uint
}

// Driver implements vector.Driver using Qdrant.
type Driver struct {
	client     *qc.Client
	collection string
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and creates the collection if it is missing.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "qdrant")

	client, err := qc.NewClient(&qc.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	d := &Driver{client: client, collection: c.Collection, logger: log}
	if err := d.ensureCollection(ctx, uint64(c.Dimensions)); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("connected to Qdrant", "host", c.Host, "port", c.Port, "collection", c.Collection)
	return d, nil
}

func (d *Driver) ensureCollection(ctx context.Context, size uint64) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}
	if exists {
		return nil
	}

	err = d.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     size,
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", d.collection, err)
	}
	d.logger.Info("created qdrant collection", "collection", d.collection, "size", size)
	return nil
}

// PointID maps a document id onto the UUID Qdrant stores it under.
func PointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String()
}

func pointIDs(ids []string) []*qc.PointId {
	out := make([]*qc.PointId, len(ids))
	for i, id := range ids {
		out[i] = qc.NewID(PointID(id))
	}
	return out
}

// Add upserts documents and waits for the write to be applied.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qc.PointStruct, len(docs))
	for i, doc := range docs {
		payload := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		payload[payloadID] = doc.ID
		payload[payloadText] = doc.Text

		values, err := qc.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("encoding payload for doc %s: %w", doc.ID, err)
		}
		points[i] = &qc.PointStruct{
			Id:      qc.NewID(PointID(doc.ID)),
			Vectors: qc.NewVectors(doc.Embedding...),
			Payload: values,
		}
	}

	_, err := d.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	d.logger.Debug("added documents to qdrant", "count", len(docs))
	return nil
}

// Query runs a nearest neighbour search. Qdrant scores cosine similarity,
// mapped to relevance as (s+1)/2.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	f, err := filter.ToQdrant(q.Filter)
	if err != nil {
		return nil, err
	}

	req := &qc.QueryPoints{
		CollectionName: d.collection,
		Query:          qc.NewQuery(q.Embedding...),
		Filter:         f,
		Limit:          qc.PtrOf(uint64(q.Limit())),
		WithPayload:    qc.NewWithPayload(true),
		WithVectors:    qc.NewWithVectors(true),
	}
	if q.MinScore > 0 {
		req.ScoreThreshold = qc.PtrOf(2*q.MinScore - 1)
	}

	points, err := d.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		doc := fromPayload(p.GetPayload())
		doc.Embedding = p.GetVectors().GetVector().GetData()
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    vector.CosineScore(float64(p.GetScore())),
		})
	}
	return vector.Finalize(results, q.MinScore, q.Limit()), nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	points, err := d.client.Get(ctx, &qc.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs(ids),
		WithPayload:    qc.NewWithPayload(true),
		WithVectors:    qc.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		doc := fromPayload(p.GetPayload())
		doc.Embedding = p.GetVectors().GetVector().GetData()
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := d.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelector(pointIDs(ids)...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// DeleteAll drops the collection and recreates it with the same vector size.
func (d *Driver) DeleteAll(ctx context.Context) error {
	info, err := d.client.GetCollectionInfo(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("reading collection info: %w", err)
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()

	if err := d.client.DeleteCollection(ctx, d.collection); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return d.ensureCollection(ctx, size)
}

// Close releases the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

// fromPayload splits a point payload back into id, text and metadata.
func fromPayload(payload map[string]*qc.Value) vector.Document {
	var doc vector.Document
	for k, v := range payload {
		switch k {
		case payloadID:
			doc.ID = v.GetStringValue()
		case payloadText:
			doc.Text = v.GetStringValue()
		default:
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			doc.Metadata[k] = fromValue(v)
		}
	}
	return doc
}

func fromValue(v *qc.Value) any {
	switch kind := v.GetKind().(type) {
	case *qc.Value_StringValue:
		return kind.StringValue
	case *qc.Value_IntegerValue:
		return kind.IntegerValue
	case *qc.Value_DoubleValue:
		return kind.DoubleValue
	case *qc.Value_BoolValue:
		return kind.BoolValue
	case *qc.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = fromValue(item)
		}
		return out
	case *qc.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

var _ vector.Driver = (*Driver)(nil)
