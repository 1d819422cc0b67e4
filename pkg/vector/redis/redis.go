// Package redis provides a vector driver on Redis Stack, storing documents
// with RedisJSON and searching them with RediSearch KNN queries.
package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

// Config holds configuration for the Redis driver.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	Schema Schema
}

// Driver implements vector.Driver on Redis Stack.
type Driver struct {
	client       *goredis.Client
	schema       Schema
	indexCreated bool
	warned       atomic.Bool
	logger       *slog.Logger
}

// NewDriver connects and creates the index unless it already exists.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if c.Schema.Dimensions == 0 {
		return nil, fmt.Errorf("redis embedding dimensions cannot be 0, must be configured")
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("vector_store", "redis")

	opts, err := goredis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	// Search replies are decoded in their RESP2 array form.
	opts.Protocol = 2

	d := &Driver{
		client: goredis.NewClient(opts),
		schema: c.Schema,
		logger: log,
	}
	d.schema.withDefaults()

	if err := d.client.Ping(ctx).Err(); err != nil {
		d.client.Close()
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	if d.indexCreated, err = d.createIndexIfMissing(ctx); err != nil {
		d.client.Close()
		return nil, err
	}
	return d, nil
}

func (d *Driver) createIndexIfMissing(ctx context.Context) (bool, error) {
	indexes, err := d.client.Do(ctx, "FT._LIST").StringSlice()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			d.logger.Error("the Redis server does not support RediSearch, use a redis-stack image")
		}
		return false, fmt.Errorf("listing indexes: %w", err)
	}
	if slices.Contains(indexes, d.schema.IndexName) {
		d.logger.Debug("redis index already exists", "index", d.schema.IndexName)
		return false, nil
	}

	args := d.schema.createArgs()
	d.logger.Debug("creating redis index", "index", d.schema.IndexName, "args", args)
	if err := d.client.Do(ctx, args...).Err(); err != nil {
		return false, fmt.Errorf("creating index %s: %w", d.schema.IndexName, err)
	}
	return true, nil
}

func (d *Driver) key(id string) string {
	return d.schema.Prefix + id
}

// Add writes each document as one JSON value in a single pipeline.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	pipe := d.client.Pipeline()
	for _, doc := range docs {
		if d.indexCreated && uint(len(doc.Embedding)) != d.schema.Dimensions && d.warned.CompareAndSwap(false, true) {
			d.logger.Warn("embedding dimension differs from the index dimension, documents may not be found; this warning is shown once",
				"embedding_dimension", len(doc.Embedding),
				"index_dimension", d.schema.Dimensions,
			)
		}

		fields := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			fields[k] = v
		}
		fields[d.schema.VectorField] = doc.Embedding
		fields[d.schema.TextField] = doc.Text

		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encoding doc %s: %w", doc.ID, err)
		}
		pipe.Do(ctx, "JSON.SET", d.key(doc.ID), "$", string(raw))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	d.logger.Debug("added documents to redis", "count", len(docs))
	return nil
}

func blob(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// Query runs a KNN search prefiltered by the numeric filter. Redis reports
// cosine distance, mapped to relevance as (2 - d)/2.
func (d *Driver) Query(ctx context.Context, q vector.QueryRequest) ([]vector.QueryResult, error) {
	prefilter, err := filter.ToRedis(q.Filter)
	if err != nil {
		return nil, err
	}

	k := q.Limit()
	reply, err := d.client.Do(ctx,
		"FT.SEARCH", d.schema.IndexName, d.schema.knnQuery(prefilter, k),
		"PARAMS", 2, "BLOB", blob(q.Embedding),
		"SORTBY", scoreField, "ASC",
		"LIMIT", 0, k,
		"DIALECT", 2,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	results, err := d.parseSearchReply(reply)
	if err != nil {
		return nil, err
	}
	return vector.Finalize(results, q.MinScore, k), nil
}

// parseSearchReply decodes [total, key, [field, value, ...], key, ...].
func (d *Driver) parseSearchReply(reply any) ([]vector.QueryResult, error) {
	items, ok := reply.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("unexpected FT.SEARCH reply %T", reply)
	}

	var results []vector.QueryResult
	for i := 1; i+1 < len(items); i += 2 {
		key, _ := items[i].(string)
		props, _ := items[i+1].([]any)

		var (
			doc   vector.Document
			score float64
			err   error
		)
		for j := 0; j+1 < len(props); j += 2 {
			name, _ := props[j].(string)
			value, _ := props[j+1].(string)
			switch name {
			case scoreField:
				if score, err = strconv.ParseFloat(value, 64); err != nil {
					return nil, fmt.Errorf("parsing score for %s: %w", key, err)
				}
			case "$":
				if doc, err = d.decode(value); err != nil {
					return nil, fmt.Errorf("decoding %s: %w", key, err)
				}
			}
		}
		doc.ID = strings.TrimPrefix(key, d.schema.Prefix)
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    float32((2 - score) / 2),
		})
	}
	return results, nil
}

// decode splits a stored JSON value into text, embedding and metadata.
func (d *Driver) decode(raw string) (vector.Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return vector.Document{}, err
	}

	var doc vector.Document
	for name, value := range fields {
		var err error
		switch name {
		case d.schema.TextField:
			err = json.Unmarshal(value, &doc.Text)
		case d.schema.VectorField:
			err = json.Unmarshal(value, &doc.Embedding)
		default:
			var v any
			if err = json.Unmarshal(value, &v); err == nil {
				if doc.Metadata == nil {
					doc.Metadata = make(map[string]any)
				}
				doc.Metadata[name] = v
			}
		}
		if err != nil {
			return vector.Document{}, fmt.Errorf("field %s: %w", name, err)
		}
	}
	return doc, nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := d.client.Pipeline()
	cmds := make([]*goredis.Cmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Do(ctx, "JSON.GET", d.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	var docs []vector.Document
	for i, cmd := range cmds {
		raw, err := cmd.Text()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting %s: %w", ids[i], err)
		}
		doc, err := d.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", ids[i], err)
		}
		doc.ID = ids[i]
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = d.key(id)
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// DeleteAll deletes every key under the prefix.
func (d *Driver) DeleteAll(ctx context.Context) error {
	var keys []string
	iter := d.client.Scan(ctx, 0, d.schema.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	d.logger.Debug("deleted keys", "count", len(keys))
	return nil
}

// Close closes the client.
func (d *Driver) Close() error {
	return d.client.Close()
}

var _ vector.Driver = (*Driver)(nil)
