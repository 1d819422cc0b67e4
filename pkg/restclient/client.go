// Package restclient is the small JSON-over-HTTP layer shared by the
// provider clients and the REST-based vector drivers.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/llmkit/pkg/logger"
)

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// ErrorDecoder turns a non-2xx response into an error. body holds the full
// response body.
type ErrorDecoder func(statusCode int, body []byte) error

// HeaderFunc decorates an outgoing request, typically with auth headers. It
// may fail, for example when a bearer token cannot be refreshed.
type HeaderFunc func(ctx context.Context, h http.Header) error

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Timeout bounds each non-streaming request. Streaming requests are
	// bounded by their context only.
	Timeout time.Duration

	// Headers are static headers added to every request.
	Headers map[string]string

	// HeaderFunc runs after static headers are set.
	HeaderFunc HeaderFunc

	// Query parameters added to every request (e.g. "version").
	Query url.Values

	// DecodeError maps error bodies to typed errors. Defaults to a generic
	// *StatusError.
	DecodeError ErrorDecoder

	// LogRequests and LogResponses emit debug lines with masked auth
	// headers.
	LogRequests  bool
	LogResponses bool

	// HTTPClient overrides the underlying transport, mostly for tests.
	HTTPClient *http.Client
}

// Client performs JSON requests against one base URL.
type Client struct {
	cfg    Config
	http   *http.Client
	stream *http.Client
	logger *slog.Logger
}

// StatusError is the default error for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// New creates a Client.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{cfg: cfg, logger: log}
	if cfg.HTTPClient != nil {
		c.http = cfg.HTTPClient
		c.stream = cfg.HTTPClient
	} else {
		c.http = &http.Client{Timeout: cfg.Timeout}
		c.stream = &http.Client{}
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// DoJSON sends body (JSON-encoded when non-nil) and decodes a 2xx response
// into out (skipped when out is nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, c.http, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if c.cfg.LogResponses {
		c.logger.Debug("response",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"body", string(raw),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Stream sends body and returns the open response for the caller to consume.
// The caller must close the body. Non-2xx responses are turned into errors
// and closed here.
func (c *Client) Stream(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	resp, err := c.send(ctx, c.stream, method, path, body, accept)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, c.decodeError(resp.StatusCode, raw)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target, err := c.url(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.HeaderFunc != nil {
		if err := c.cfg.HeaderFunc(ctx, req.Header); err != nil {
			return nil, err
		}
	}

	if c.cfg.LogRequests {
		c.logger.Debug("request",
			"method", method,
			"url", target,
			"headers", MaskHeaders(req.Header),
			"body", string(payload),
		)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

func (c *Client) url(path string) (string, error) {
	target := c.cfg.BaseURL + path
	if len(c.cfg.Query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", target, err)
	}
	q := u.Query()
	for k, vs := range c.cfg.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) decodeError(status int, body []byte) error {
	if c.cfg.DecodeError != nil {
		return c.cfg.DecodeError(status, body)
	}
	return &StatusError{StatusCode: status, Body: string(body)}
}

// sensitiveHeaders are masked by MaskHeaders.
var sensitiveHeaders = []string{"Authorization", "X-Api-Key", "Api-Key", "X-Goog-Api-Key"}

// MaskHeaders renders headers for logging with credentials masked.
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	for _, name := range sensitiveHeaders {
		v := h.Get(name)
		if v == "" {
			continue
		}
		if scheme, token, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "bearer") {
			out[http.CanonicalHeaderKey(name)] = scheme + " " + logger.Mask(token)
			continue
		}
		out[http.CanonicalHeaderKey(name)] = logger.Mask(v)
	}
	return out
}
