// Package vectorutils builds vector drivers from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/chroma"
	"github.com/papercomputeco/llmkit/pkg/vector/milvus"
	"github.com/papercomputeco/llmkit/pkg/vector/pgvector"
	"github.com/papercomputeco/llmkit/pkg/vector/pinecone"
	"github.com/papercomputeco/llmkit/pkg/vector/qdrant"
	"github.com/papercomputeco/llmkit/pkg/vector/redis"
	"github.com/papercomputeco/llmkit/pkg/vector/sqlitevec"
	"github.com/papercomputeco/llmkit/pkg/vector/weaviate"
)

const (
	Chroma    = "chroma"
	SQLiteVec = "sqlite"
	Qdrant    = "qdrant"
	PgVector  = "pgvector"
	Redis     = "redis"
	Pinecone  = "pinecone"
	Weaviate  = "weaviate"
	Milvus    = "milvus"
)

// SupportedVectorDrivers lists the driver names NewVectorDriver accepts.
func SupportedVectorDrivers() []string {
	return []string{Chroma, SQLiteVec, Qdrant, PgVector, Redis, Pinecone, Weaviate, Milvus}
}

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the server URL, the DSN for pgvector or the database
	// path for sqlite.
	TargetURL string
	APIKey    string

	// Collection names the collection, index, class or table.
	Collection string
	Namespace  string
	Dimensions uint

	Logger *slog.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	log := o.Logger
	if log == nil {
		log = logger.Nop()
	}

	switch o.ProviderType {
	case Chroma:
		return chroma.NewDriver(chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
		}, log)
	case SQLiteVec:
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, log)
	case Qdrant:
		host, port, tls, err := hostPort(o.TargetURL)
		if err != nil {
			return nil, err
		}
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:       host,
			Port:       port,
			UseTLS:     tls,
			APIKey:     o.APIKey,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
		}, log)
	case PgVector:
		return pgvector.NewDriver(ctx, pgvector.Config{
			ConnString: o.TargetURL,
			Table:      o.Collection,
			Dimensions: o.Dimensions,
		}, log)
	case Redis:
		schema := redis.Schema{Dimensions: o.Dimensions}
		if o.Collection != "" {
			schema.IndexName = o.Collection + "-index"
			schema.Prefix = o.Collection
		}
		return redis.NewDriver(ctx, redis.Config{URL: o.TargetURL, Schema: schema}, log)
	case Pinecone:
		return pinecone.NewDriver(pinecone.Config{
			APIKey:        o.APIKey,
			IndexName:     o.Collection,
			Namespace:     o.Namespace,
			Dimensions:    o.Dimensions,
			ControllerURL: o.TargetURL,
		}, log)
	case Weaviate:
		return weaviate.NewDriver(ctx, weaviate.Config{
			URL:    o.TargetURL,
			APIKey: o.APIKey,
			Class:  className(o.Collection),
		}, log)
	case Milvus:
		return milvus.NewDriver(ctx, milvus.Config{
			URL:        o.TargetURL,
			Token:      o.APIKey,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

// hostPort accepts "host:port" or a URL. https URLs enable TLS.
func hostPort(target string) (string, int, bool, error) {
	if target == "" {
		return "", 0, false, nil
	}

	useTLS := false
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", 0, false, fmt.Errorf("parsing %q: %w", target, err)
		}
		useTLS = u.Scheme == "https"
		target = u.Host
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port.
		return target, 0, useTLS, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid port in %q: %w", target, err)
	}
	return host, port, useTLS, nil
}

// className upper-cases the first letter, as Weaviate requires.
func className(name string) string {
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
