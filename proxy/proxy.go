// Package proxy provides an LLM inference proxy that answers repeated
// prompts from the semantic cache.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/sse"
	"github.com/papercomputeco/llmkit/pkg/utils"
	"github.com/papercomputeco/llmkit/proxy/header"
	"github.com/papercomputeco/llmkit/proxy/worker"
)

const (
	cachePathPrefix    = "/caches/"
	providerPathPrefix = "/providers/"

	defaultTimeout = 5 * time.Minute
	previewLen     = 80

	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

// Proxy is a transparent LLM inference proxy. Chat requests whose prompt
// matches a cached one are answered without calling the upstream; every
// other request is forwarded verbatim, and upstream chat answers are
// enqueued for caching.
type Proxy struct {
	config        Config
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
}

// New creates a new Proxy. It returns an error when the upstream dialect is
// not one the proxy can read.
func New(config Config, log *slog.Logger) (*Proxy, error) {
	if config.ProviderType == "" {
		return nil, errors.New("provider type is required")
	}
	if !slices.Contains(SupportedDialects(), config.ProviderType) {
		return nil, fmt.Errorf("unsupported provider type %q, expected one of %s",
			config.ProviderType, strings.Join(SupportedDialects(), ", "))
	}
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if config.Caches == nil {
		return nil, errors.New("proxy requires a cache provider")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "proxy")

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})
	app.Use(compress.New())

	wp, err := worker.NewPool(&worker.Config{
		Caches:     config.Caches,
		Publisher:  config.Publisher,
		NumWorkers: config.Workers,
		QueueSize:  config.QueueSize,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	p := &Proxy{
		config:        config,
		workerPool:    wp,
		logger:        log,
		server:        app,
		headerHandler: header.NewHandler(),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}

	app.All("/*", p.handleProxy)

	return p, nil
}

// Run starts the proxy server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
		"provider", p.config.ProviderType,
	)
	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
		"provider", p.config.ProviderType,
	)
	return p.server.Listener(listener)
}

// Close stops the server, then waits for queued answers to be cached.
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.workerPool.Close()
	return err
}

// route is where a client request goes and which cache serves it.
type route struct {
	cacheID  string
	dialect  string
	upstream string
	path     string
}

func (p *Proxy) handleProxy(c *fiber.Ctx) error {
	startTime := time.Now()
	rt, err := p.resolveRoute(c.Path(), header.CacheID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: err.Error()})
	}
	body := c.Body()

	if c.Method() != fiber.MethodPost || !isChatPath(rt.dialect, rt.path) {
		return p.forward(c, rt, body, nil)
	}

	pr, err := parsePrompt(rt.dialect, body)
	if err != nil {
		if !errors.Is(err, errNotCacheable) {
			p.logger.Warn("failed to parse request", "dialect", rt.dialect, "error", err)
		}
		c.Set(header.CacheStatusHeader, cacheBypass)
		return p.forward(c, rt, body, nil)
	}

	if header.Bypass(c) {
		c.Set(header.CacheStatusHeader, cacheBypass)
		return p.forward(c, rt, body, nil)
	}

	job := worker.Job{
		CacheID:  rt.cacheID,
		Provider: rt.dialect,
		Model:    pr.Model,
		System:   pr.System,
		User:     pr.User,
	}

	if answer, ok := p.lookup(c.Context(), job); ok {
		job.Response = answer
		worker.Publish(c.Context(), p.config.Publisher, eventstream.EventTypeCacheHit, job, p.logger)
		p.logger.Debug("cache hit",
			"cache_id", rt.cacheID,
			"prompt", utils.Truncate(pr.User, previewLen),
			"duration", time.Since(startTime),
		)
		return p.serveCached(c, rt.dialect, pr, answer)
	}

	worker.Publish(c.Context(), p.config.Publisher, eventstream.EventTypeCacheMiss, job, p.logger)
	c.Set(header.CacheStatusHeader, cacheMiss)
	return p.forward(c, rt, body, &pending{job: job, stream: pr.Stream, start: startTime})
}

// lookup searches the cache for the job's prompt. Cache failures are logged
// and read as a miss so the upstream still answers.
func (p *Proxy) lookup(ctx context.Context, job worker.Job) (string, bool) {
	ac, err := p.config.Caches.Get(job.CacheID)
	if err != nil {
		p.logger.Warn("cache unavailable", "cache_id", job.CacheID, "error", err)
		return "", false
	}

	answer, ok, err := ac.Search(ctx, job.System, job.User)
	if err != nil {
		p.logger.Warn("cache search failed", "cache_id", job.CacheID, "error", err)
		return "", false
	}
	return answer, ok
}

func (p *Proxy) serveCached(c *fiber.Ctx, dialect string, pr *prompt, answer string) error {
	c.Set(header.CacheStatusHeader, cacheHit)

	if !pr.Stream {
		out, err := cachedResponse(dialect, pr.Model, answer)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(out)
	}

	var buf bytes.Buffer
	if err := writeCachedStream(&buf, dialect, pr.Model, answer); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}
	if dialect == dialectOllama {
		c.Set(fiber.HeaderContentType, "application/x-ndjson")
	} else {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
	}
	return c.Send(buf.Bytes())
}

// pending is a cache miss waiting for the upstream answer.
type pending struct {
	job    worker.Job
	stream bool
	start  time.Time
}

// forward sends the request upstream and relays the answer. When miss is
// set, the answer text is enqueued for caching.
func (p *Proxy) forward(c *fiber.Ctx, rt route, body []byte, miss *pending) error {
	upstreamURL := rt.upstream + rt.path
	if q := c.Request().URI().QueryString(); len(q) > 0 {
		upstreamURL += "?" + string(q)
	}

	if miss != nil && miss.stream {
		return p.forwardStream(c, upstreamURL, body, miss)
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(c.Context(), c.Method(), upstreamURL, reqBody)
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}
	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	p.logger.Debug("forwarding request to upstream", "method", c.Method(), "url", upstreamURL)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("upstream request failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		p.logger.Error("failed to read upstream response", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "failed to read upstream response"})
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)

	if miss != nil && httpResp.StatusCode == http.StatusOK {
		text, err := responseText(rt.dialect, respBody)
		switch {
		case errors.Is(err, errNotCacheable):
			p.logger.Debug("response not cached", "cache_id", miss.job.CacheID)
		case err != nil:
			p.logger.Warn("failed to parse response", "dialect", rt.dialect, "error", err)
		default:
			p.enqueue(miss, text)
		}
	}

	return c.Status(httpResp.StatusCode).Send(respBody)
}

func (p *Proxy) forwardStream(c *fiber.Ctx, upstreamURL string, body []byte, miss *pending) error {
	// fasthttp recycles the request context once the handler returns, while
	// the stream is relayed from another goroutine.
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}
	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	p.logger.Debug("forwarding streaming request to upstream", "url", upstreamURL)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("upstream request failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		p.logger.Error("upstream returned error",
			"status", httpResp.StatusCode,
			"body", utils.Truncate(string(respBody), 512),
		)
		p.headerHandler.SetClientResponseHeaders(c, httpResp)
		return c.Status(httpResp.StatusCode).Send(respBody)
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)

	// io.Pipe blocks each write until fasthttp has flushed the previous
	// chunk to the client, so chunks are relayed as they arrive rather than
	// buffered by SetBodyStreamWriter.
	pr, pw := io.Pipe()
	go p.relay(httpResp, pw, miss)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (p *Proxy) relay(httpResp *http.Response, pw *io.PipeWriter, miss *pending) {
	defer httpResp.Body.Close()

	var (
		text string
		err  error
	)
	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		text, err = p.relaySSE(httpResp.Body, pw, miss.job.Provider)
	} else {
		text, err = p.relayNDJSON(httpResp.Body, pw, miss.job.Provider)
	}
	pw.CloseWithError(err)

	switch {
	case errors.Is(err, errNotCacheable):
		p.logger.Debug("streamed response not cached", "cache_id", miss.job.CacheID)
	case err != nil:
		p.logger.Error("error relaying stream", "error", err)
	default:
		p.enqueue(miss, text)
	}
}

// relaySSE copies an SSE stream (OpenAI, Anthropic) verbatim to w and
// returns the accumulated answer text.
func (p *Proxy) relaySSE(src io.Reader, w io.Writer, dialect string) (string, error) {
	var (
		content  strings.Builder
		toolCall bool
	)

	tr := sse.NewTeeReader(src, w)
	for {
		ev, err := tr.Next()
		if err != nil {
			return "", err
		}
		if ev == nil {
			break
		}
		if ev.IsDone() {
			continue
		}

		delta, tool := chunkText(dialect, []byte(ev.Data))
		content.WriteString(delta)
		toolCall = toolCall || tool
	}

	if toolCall {
		return "", errNotCacheable
	}
	return content.String(), nil
}

// relayNDJSON copies a newline-delimited JSON stream (Ollama) line by line
// to w and returns the accumulated answer text.
func (p *Proxy) relayNDJSON(src io.Reader, w io.Writer, dialect string) (string, error) {
	var (
		content  strings.Builder
		toolCall bool
	)

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		delta, tool := chunkText(dialect, line)
		content.WriteString(delta)
		toolCall = toolCall || tool

		if _, err := w.Write(line); err != nil {
			return "", err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if toolCall {
		return "", errNotCacheable
	}
	return content.String(), nil
}

func (p *Proxy) enqueue(miss *pending, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	miss.job.Response = text

	p.logger.Debug("upstream answered",
		"cache_id", miss.job.CacheID,
		"model", miss.job.Model,
		"answer", utils.Truncate(text, previewLen),
		"duration", time.Since(miss.start),
	)
	p.workerPool.Enqueue(miss.job)
}

// resolveRoute reads the cache id and provider override of a request path:
//
//	/caches/<id>/providers/<name>/<upstream path>
//
// Both segments are optional. A cache id header wins over the path. An
// unknown provider name is an error.
func (p *Proxy) resolveRoute(path, headerID string) (route, error) {
	id, path := splitPrefix(path, cachePathPrefix)
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	if headerID != "" {
		id = headerID
	}
	if id == "" {
		id = cache.DefaultID
	}

	providerName, path := splitPrefix(path, providerPathPrefix)
	dialect, upstream, ok := p.resolveUpstream(providerName)
	if !ok {
		return route{}, fmt.Errorf("unknown provider %q (supported: %s)",
			providerName, strings.Join(SupportedDialects(), ", "))
	}

	return route{
		cacheID:  id,
		dialect:  dialect,
		upstream: strings.TrimSuffix(upstream, "/"),
		path:     path,
	}, nil
}

func (p *Proxy) resolveUpstream(providerName string) (string, string, bool) {
	switch providerName {
	case "", p.config.ProviderType:
		return p.config.ProviderType, p.providerUpstream(providerName, p.config.UpstreamURL), true
	case dialectOpenAI:
		return dialectOpenAI, p.providerUpstream(providerName, "https://api.openai.com/v1"), true
	case dialectAnthropic:
		return dialectAnthropic, p.providerUpstream(providerName, "https://api.anthropic.com"), true
	case dialectOllama:
		return dialectOllama, p.providerUpstream(providerName, "http://localhost:11434"), true
	}
	return "", "", false
}

func (p *Proxy) providerUpstream(providerName, fallback string) string {
	if providerName == "" || p.config.ProviderUpstreams == nil {
		return fallback
	}
	if upstream := strings.TrimSpace(p.config.ProviderUpstreams[providerName]); upstream != "" {
		return upstream
	}
	return fallback
}

// splitPrefix strips "<prefix><name>" from path and returns the name and the
// remaining path. Paths without the prefix are returned unchanged.
func splitPrefix(path, prefix string) (string, string) {
	if !strings.HasPrefix(path, prefix) {
		return "", path
	}

	remainder := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(remainder, "/", 2)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return "", path
	}

	if len(parts) == 1 {
		return name, "/"
	}
	return name, "/" + parts[1]
}
