// Package client is a typed HTTP client for a running llmkit API server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/llmkit/api"
	apisearch "github.com/papercomputeco/llmkit/api/search"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/restclient"
)

// ErrQueueFull is returned by Ingest when the server's ingest queue rejects
// documents.
var ErrQueueFull = errors.New("ingest queue is full")

// APIError is a non-2xx answer from the API server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llmkit API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client calls the llmkit API.
type Client struct {
	rest *restclient.Client
}

// New creates a Client for the server at target, e.g. "http://localhost:8081".
func New(target string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL: %q", target)
	}
	return &Client{
		rest: restclient.New(restclient.Config{
			BaseURL:     target,
			Timeout:     timeout,
			DecodeError: decodeError,
		}, log),
	}, nil
}

func decodeError(status int, body []byte) error {
	var resp llm.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return &APIError{StatusCode: status, Message: string(body)}
	}
	apiErr := &APIError{StatusCode: status, Message: resp.Error}
	if status == http.StatusServiceUnavailable && resp.Error == ErrQueueFull.Error() {
		return fmt.Errorf("%w: %w", ErrQueueFull, apiErr)
	}
	return apiErr
}

// Search runs a semantic search.
func (c *Client) Search(ctx context.Context, in apisearch.Input) (*apisearch.Output, error) {
	var out apisearch.Output
	if err := c.rest.DoJSON(ctx, http.MethodPost, "/v1/search", in, &out); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return &out, nil
}

// Ingest queues documents and returns their ids.
func (c *Client) Ingest(ctx context.Context, docs []api.Document) ([]string, error) {
	var out api.DocumentsResponse
	if err := c.rest.DoJSON(ctx, http.MethodPost, "/v1/documents", api.DocumentsRequest{Documents: docs}, &out); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return out.IDs, nil
}

// ClearCache removes every record stored under the cache id.
func (c *Client) ClearCache(ctx context.Context, id string) error {
	if err := c.rest.DoJSON(ctx, http.MethodDelete, "/v1/cache/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("clearing cache %q: %w", id, err)
	}
	return nil
}

// Providers lists the backends the server supports.
func (c *Client) Providers(ctx context.Context) (*api.ProvidersResponse, error) {
	var out api.ProvidersResponse
	if err := c.rest.DoJSON(ctx, http.MethodGet, "/v1/providers", nil, &out); err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	return &out, nil
}
