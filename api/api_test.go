package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apisearch "github.com/papercomputeco/llmkit/api/search"
	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/cache/inmemory"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	testutils "github.com/papercomputeco/llmkit/pkg/utils/test"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/worker"
)

func doJSON(server *Server, method, path string, body any) *http.Response {
	GinkgoHelper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decode[T any](resp *http.Response) T {
	GinkgoHelper()
	var out T
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("Server", func() {
	var (
		server       *Server
		model        *testutils.MockProvider
		caches       *cache.Provider
		embedder     *testutils.MockEmbedder
		vectorDriver *testutils.MockVectorDriver
		pool         *worker.Pool
	)

	BeforeEach(func() {
		model = testutils.NewMockProvider("Goroutines are cheap.")
		embedder = testutils.NewMockEmbedder()
		vectorDriver = testutils.NewMockVectorDriver()

		var err error
		caches, err = cache.NewProvider(cache.Config{
			Embedder:  embedder,
			Store:     inmemory.NewStore(),
			MaxSize:   8,
			Threshold: 0.99,
		}, cache.PolicyMessageWindow)
		Expect(err).NotTo(HaveOccurred())

		pool, err = worker.NewPool(&worker.Config{
			VectorDriver: vectorDriver,
			Embedder:     embedder,
			NumWorkers:   1,
			Logger:       logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		server, err = NewServer(Config{
			ListenAddr:   ":0",
			Model:        cache.NewCachedModel(model, caches, nil, logger.Nop()),
			DefaultModel: "llama3.2",
			Caches:       caches,
			Embedder:     embedder,
			VectorDriver: vectorDriver,
			Pool:         pool,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("GET /ping", func() {
		It("answers pong", func() {
			resp := doJSON(server, http.MethodGet, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(decode[string](resp)).To(Equal("pong"))
		})
	})

	Describe("GET /v1/providers", func() {
		It("lists the supported backends", func() {
			resp := doJSON(server, http.MethodGet, "/v1/providers", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decode[ProvidersResponse](resp)
			Expect(out.Model).To(Equal("mock"))
			Expect(out.Providers).To(ContainElements("anthropic", "watsonx", "bam"))
			Expect(out.Embedders).NotTo(BeEmpty())
			Expect(out.VectorStores).To(ContainElement("qdrant"))
		})
	})

	Describe("POST /v1/chat", func() {
		chat := func(cacheID, text string) map[string]any {
			return map[string]any{
				"cache_id": cacheID,
				"system":   "Answer in one line.",
				"messages": []llm.Message{llm.NewTextMessage(llm.RoleUser, text)},
			}
		}

		It("answers through the model and fills in the default model", func() {
			resp := doJSON(server, http.MethodPost, "/v1/chat", chat("team", "Why goroutines?"))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decode[llm.ChatResponse](resp)
			Expect(out.Text()).To(Equal("Goroutines are cheap."))
			Expect(model.Requests[0].Model).To(Equal("llama3.2"))
			Expect(model.Requests[0].System).To(Equal("Answer in one line."))
		})

		It("serves a repeated prompt from the cache", func() {
			Expect(doJSON(server, http.MethodPost, "/v1/chat", chat("team", "Why goroutines?")).StatusCode).To(Equal(fiber.StatusOK))

			resp := doJSON(server, http.MethodPost, "/v1/chat", chat("team", "Why goroutines?"))
			out := decode[llm.ChatResponse](resp)
			Expect(out.Extra).To(HaveKeyWithValue(cache.ExtraCacheHit, true))
			Expect(model.Calls()).To(Equal(1))
		})

		It("keeps cache ids apart", func() {
			doJSON(server, http.MethodPost, "/v1/chat", chat("team-a", "Why goroutines?"))
			doJSON(server, http.MethodPost, "/v1/chat", chat("team-b", "Why goroutines?"))
			Expect(model.Calls()).To(Equal(2))
		})

		It("streams SSE frames ending with [DONE]", func() {
			body := chat("stream", "Why goroutines?")
			body["stream"] = true

			resp := doJSON(server, http.MethodPost, "/v1/chat", body)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

			raw, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring("Goroutines are cheap."))
			Expect(strings.TrimSpace(string(raw))).To(HaveSuffix("data: [DONE]"))
		})

		It("rejects a request without messages", func() {
			resp := doJSON(server, http.MethodPost, "/v1/chat", map[string]any{"model": "x"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(decode[llm.ErrorResponse](resp).Error).To(Equal("messages are required"))
		})

		It("maps provider errors to 502", func() {
			model.Err = &llm.HTTPError{Provider: "mock", StatusCode: 429, Body: "slow down"}
			resp := doJSON(server, http.MethodPost, "/v1/chat", chat("team", "Why goroutines?"))
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadGateway))
			Expect(decode[llm.ErrorResponse](resp).Error).To(ContainSubstring("slow down"))
		})
	})

	Describe("POST /v1/embeddings", func() {
		It("embeds every input in order", func() {
			embedder.Set("a", 1, 0)
			embedder.Set("b", 0, 1)

			resp := doJSON(server, http.MethodPost, "/v1/embeddings", EmbeddingsRequest{Input: []string{"a", "b"}})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decode[EmbeddingsResponse](resp)
			Expect(out.Count).To(Equal(2))
			Expect(out.Embeddings).To(Equal([][]float32{{1, 0}, {0, 1}}))
		})

		It("rejects empty input", func() {
			resp := doJSON(server, http.MethodPost, "/v1/embeddings", EmbeddingsRequest{})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("maps embedder failures to 502", func() {
			embedder.FailOn = "bad"
			resp := doJSON(server, http.MethodPost, "/v1/embeddings", EmbeddingsRequest{Input: []string{"bad"}})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadGateway))
		})
	})

	Describe("POST /v1/documents", func() {
		It("queues documents and generates missing ids", func() {
			resp := doJSON(server, http.MethodPost, "/v1/documents", DocumentsRequest{Documents: []Document{
				{ID: "doc-1", Text: "select is a switch for channels", Metadata: map[string]any{"lang": "go"}},
				{Text: "defer runs at function exit"},
			}})
			Expect(resp.StatusCode).To(Equal(fiber.StatusAccepted))

			out := decode[DocumentsResponse](resp)
			Expect(out.IDs).To(HaveLen(2))
			Expect(out.IDs[0]).To(Equal("doc-1"))
			Expect(out.IDs[1]).NotTo(BeEmpty())

			Eventually(vectorDriver.Stored, 2*time.Second).Should(HaveLen(2))
		})

		It("rejects documents without text", func() {
			resp := doJSON(server, http.MethodPost, "/v1/documents", DocumentsRequest{Documents: []Document{{ID: "x"}}})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("rejects an empty batch", func() {
			resp := doJSON(server, http.MethodPost, "/v1/documents", DocumentsRequest{})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("POST /v1/search", func() {
		BeforeEach(func() {
			vectorDriver.Results = []vector.QueryResult{
				{Document: vector.Document{ID: "doc-1", Text: "select is a switch for channels"}, Score: 0.88},
			}
		})

		It("returns matching documents", func() {
			resp := doJSON(server, http.MethodPost, "/v1/search", apisearch.Input{Query: "channels", TopK: 2})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decode[apisearch.Output](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].ID).To(Equal("doc-1"))
		})

		It("returns 400 without a query", func() {
			resp := doJSON(server, http.MethodPost, "/v1/search", apisearch.Input{})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(decode[llm.ErrorResponse](resp).Error).To(ContainSubstring("query is required"))
		})

		It("returns 400 for an unsupported filter", func() {
			resp := doJSON(server, http.MethodPost, "/v1/search", apisearch.Input{
				Query:  "channels",
				Filter: json.RawMessage(`{"op":"regex","key":"lang"}`),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("maps vector store connection failures to 502", func() {
			vectorDriver.Err = vector.ErrConnection
			resp := doJSON(server, http.MethodPost, "/v1/search", apisearch.Input{Query: "channels"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadGateway))
		})

		It("maps missing documents to 404", func() {
			vectorDriver.Err = vector.ErrNotFound
			resp := doJSON(server, http.MethodPost, "/v1/search", apisearch.Input{Query: "channels"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("DELETE /v1/cache/:id", func() {
		It("clears one cache id", func() {
			body := map[string]any{
				"cache_id": "team",
				"messages": []llm.Message{llm.NewTextMessage(llm.RoleUser, "Why goroutines?")},
			}
			doJSON(server, http.MethodPost, "/v1/chat", body)

			resp := doJSON(server, http.MethodDelete, "/v1/cache/team", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

			doJSON(server, http.MethodPost, "/v1/chat", body)
			Expect(model.Calls()).To(Equal(2))
		})

		DescribeTable("unescapes the cache id from the path",
			func(id string) {
				body := map[string]any{
					"cache_id": id,
					"messages": []llm.Message{llm.NewTextMessage(llm.RoleUser, "Why goroutines?")},
				}
				doJSON(server, http.MethodPost, "/v1/chat", body)

				resp := doJSON(server, http.MethodDelete, "/v1/cache/"+url.PathEscape(id), nil)
				Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

				doJSON(server, http.MethodPost, "/v1/chat", body)
				Expect(model.Calls()).To(Equal(2))
			},
			Entry("the default id", cache.DefaultID),
			Entry("reserved characters", "team/a b?"),
		)
	})

	Context("when nothing is configured", func() {
		It("answers 503 on every backed route", func() {
			bare, err := NewServer(Config{ListenAddr: ":0"}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())

			Expect(doJSON(bare, http.MethodPost, "/v1/chat", map[string]any{}).StatusCode).To(Equal(fiber.StatusServiceUnavailable))
			Expect(doJSON(bare, http.MethodPost, "/v1/embeddings", EmbeddingsRequest{}).StatusCode).To(Equal(fiber.StatusServiceUnavailable))
			Expect(doJSON(bare, http.MethodPost, "/v1/documents", DocumentsRequest{}).StatusCode).To(Equal(fiber.StatusServiceUnavailable))
			Expect(doJSON(bare, http.MethodPost, "/v1/search", apisearch.Input{}).StatusCode).To(Equal(fiber.StatusServiceUnavailable))
			Expect(doJSON(bare, http.MethodDelete, "/v1/cache/x", nil).StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})
})
