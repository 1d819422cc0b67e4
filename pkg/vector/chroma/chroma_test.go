package chroma_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	llmkitlogger "github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/chroma"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

const collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

// fakeChroma records request bodies by operation and answers with canned
// responses.
type fakeChroma struct {
	mu        sync.Mutex
	bodies    map[string]map[string]any
	deletes   int
	creates   int
	queryResp map[string]any
	getResp   map[string]any
}

func (f *fakeChroma) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer GinkgoRecover()
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == collectionsPath+"/llmkit":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "llmkit"})
		case r.Method == http.MethodDelete && r.URL.Path == collectionsPath+"/llmkit":
			f.deletes++
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == collectionsPath:
			f.creates++
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-2", "name": "llmkit"})
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, collectionsPath+"/"):
			op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			var body map[string]any
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			f.bodies[op] = body
			switch op {
			case "query":
				_ = json.NewEncoder(w).Encode(f.queryResp)
			case "get":
				_ = json.NewEncoder(w).Encode(f.getResp)
			default:
				w.WriteHeader(http.StatusOK)
			}
		default:
			http.NotFound(w, r)
		}
	}
}

var _ = Describe("Driver", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = llmkitlogger.Nop()
	})

	Describe("NewDriver", func() {
		It("should return an error when URL is empty", func() {
			_, err := chroma.NewDriver(chroma.Config{URL: ""}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("chroma URL is required"))
		})

		It("should succeed after retrying when Chroma becomes available", func() {
			var attempts atomic.Int32

			// Each attempt issues a GET and then a POST. Failing the first
			// four requests means success on the third attempt.
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if attempts.Add(1) <= 4 {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{"id": "test-collection-id", "name": "llmkit"})
			}))
			defer server.Close()

			driver, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    5,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).NotTo(BeNil())
			Expect(attempts.Load()).To(BeNumerically(">=", int32(5)))
		})

		It("should return an error after exhausting all retries", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    3,
				RetryDelay:    5 * time.Millisecond,
				MaxRetryDelay: 10 * time.Millisecond,
			}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err).To(MatchError(vector.ErrConnection))
			Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
		})
	})

	Describe("operations", func() {
		var (
			fake   *fakeChroma
			server *httptest.Server
			driver *chroma.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			fake = &fakeChroma{bodies: map[string]map[string]any{}}
			server = httptest.NewServer(fake.handler())

			var err error
			driver, err = chroma.NewDriver(chroma.Config{URL: server.URL}, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
			server.Close()
		})

		It("sends documents and metadata on Add", func() {
			err := driver.Add(ctx, []vector.Document{
				{ID: "a", Text: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]any{"lang": "en"}},
				{ID: "b", Text: "beta", Embedding: []float32{0, 1}},
			})
			Expect(err).NotTo(HaveOccurred())

			body := fake.bodies["upsert"]
			Expect(body["ids"]).To(Equal([]any{"a", "b"}))
			Expect(body["documents"]).To(Equal([]any{"alpha", "beta"}))
			Expect(body["metadatas"]).To(Equal([]any{map[string]any{"lang": "en"}, nil}))
		})

		It("is a no-op for empty input", func() {
			Expect(driver.Add(ctx, nil)).To(Succeed())
			Expect(driver.Delete(ctx, nil)).To(Succeed())
			Expect(fake.bodies).To(BeEmpty())
		})

		It("maps distances to scores and applies the threshold", func() {
			fake.queryResp = map[string]any{
				"ids":       [][]string{{"near", "far"}},
				"distances": [][]float64{{0.2, 1.6}},
				"documents": [][]string{{"near text", "far text"}},
				"metadatas": [][]map[string]any{{{"k": "v"}, nil}},
			}

			results, err := driver.Query(ctx, vector.QueryRequest{
				Embedding: []float32{1, 0},
				TopK:      2,
				MinScore:  0.5,
				Filter:    filter.Eq("k", "v"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("near"))
			Expect(results[0].Text).To(Equal("near text"))
			Expect(results[0].Score).To(BeNumerically("~", 0.9, 1e-6))

			body := fake.bodies["query"]
			Expect(body["n_results"]).To(BeNumerically("==", 2))
			Expect(body["where"]).To(Equal(map[string]any{"k": map[string]any{"$eq": "v"}}))
		})

		It("returns nothing for an empty result set", func() {
			fake.queryResp = map[string]any{"ids": [][]string{}}
			results, err := driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("gets documents by id", func() {
			fake.getResp = map[string]any{
				"ids":        []string{"a"},
				"documents":  []string{"alpha"},
				"embeddings": [][]float32{{1, 0}},
			}

			docs, err := driver.Get(ctx, []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Text).To(Equal("alpha"))
			Expect(docs[0].Embedding).To(Equal([]float32{1, 0}))
		})

		It("recreates the collection on DeleteAll", func() {
			Expect(driver.DeleteAll(ctx)).To(Succeed())
			Expect(fake.deletes).To(Equal(1))

			Expect(driver.Delete(ctx, []string{"x"})).To(Succeed())
			Expect(fake.bodies["delete"]["ids"]).To(Equal([]any{"x"}))
		})
	})
})
