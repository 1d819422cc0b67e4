package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/api"
	"github.com/papercomputeco/llmkit/api/client"
	apisearch "github.com/papercomputeco/llmkit/api/search"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		lastReq  *http.Request
		lastBody map[string]any
		c        *client.Client
	)

	BeforeEach(func() {
		lastReq = nil
		lastBody = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastReq = r
			_ = json.NewDecoder(r.Body).Decode(&lastBody)
			handler(w, r)
		}))
		DeferCleanup(server.Close)

		var err error
		c, err = client.New(server.URL, 5*time.Second, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a target without scheme", func() {
		_, err := client.New("localhost:8081", time.Second, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	It("posts searches", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(apisearch.Output{
				Query:   "q",
				Results: []apisearch.Result{{ID: "a", Score: 0.9}},
				Count:   1,
			})
		}

		out, err := c.Search(context.Background(), apisearch.Input{Query: "q", TopK: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Results[0].ID).To(Equal("a"))
		Expect(lastReq.Method).To(Equal(http.MethodPost))
		Expect(lastReq.URL.Path).To(Equal("/v1/search"))
		Expect(lastBody).To(HaveKeyWithValue("top_k", BeNumerically("==", 3)))
	})

	It("surfaces the API error message", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"query is required"}`))
		}

		_, err := c.Search(context.Background(), apisearch.Input{})
		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(apiErr.Message).To(Equal("query is required"))
	})

	It("reports a full ingest queue", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"ingest queue is full","ids":[]}`))
		}

		_, err := c.Ingest(context.Background(), []api.Document{{Text: "x"}})
		Expect(errors.Is(err, client.ErrQueueFull)).To(BeTrue())
	})

	It("returns ingested ids", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ids":["a","b"]}`))
		}

		ids, err := c.Ingest(context.Background(), []api.Document{{ID: "a", Text: "x"}, {Text: "y"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"a", "b"}))
		Expect(lastReq.URL.Path).To(Equal("/v1/documents"))
	})

	It("deletes a cache id", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}

		Expect(c.ClearCache(context.Background(), "team a")).To(Succeed())
		Expect(lastReq.Method).To(Equal(http.MethodDelete))
		Expect(lastReq.URL.EscapedPath()).To(Equal("/v1/cache/team%20a"))
	})
})
