// Package header provides header filtering for the llmkit caching proxy.
//
// The proxy sits between a client and an upstream LLM provider:
//
//	Client <--> Proxy <--> Upstream LLM Provider
//
// and each leg negotiates compression, hops and encoding independently.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// CacheIDHeader selects the semantic cache a request is answered from.
	CacheIDHeader = "X-LLMKit-Cache-ID"

	// CacheBypassHeader, set to "true", forwards a request without looking
	// it up or storing the answer.
	CacheBypassHeader = "X-LLMKit-Cache-Bypass"

	// CacheStatusHeader reports "hit", "miss" or "bypass" to the client.
	CacheStatusHeader = "X-LLMKit-Cache"
)

// Handler manages headers between proxy connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest holds the client headers never forwarded upstream.
var skipRequest = map[string]struct{}{
	// Hop-by-hop.
	"Connection": {},

	// Rewritten by http.Transport to match the upstream URL.
	"Host": {},

	// Dropped so http.Transport negotiates gzip itself and decompresses the
	// body the proxy reads.
	"Accept-Encoding": {},

	// The body may be re-encoded; the transport computes the length.
	"Content-Length": {},

	CacheIDHeader:     {},
	CacheBypassHeader: {},
}

// skipResponse holds the upstream headers never copied back to the client.
var skipResponse = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},

	// The body was decompressed by http.Transport; the compress middleware
	// sets its own encoding and length on the way down.
	"Content-Encoding": {},
	"Content-Length":   {},
}

// SetUpstreamRequestHeaders copies request headers from the Fiber context to
// the outgoing http.Request, leaving out those the upstream must not see.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})
}

// SetClientResponseHeaders copies upstream response headers to the Fiber
// context, leaving out those the client must not see.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[http.CanonicalHeaderKey(k)]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}

// CacheID returns the trimmed cache id header of the request, if any.
func CacheID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(CacheIDHeader))
}

// Bypass reports whether the client asked to skip the cache.
func Bypass(c *fiber.Ctx) bool {
	return strings.EqualFold(strings.TrimSpace(c.Get(CacheBypassHeader)), "true")
}
