package milvus_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	"github.com/papercomputeco/llmkit/pkg/vector/milvus"
)

type fakeMilvus struct {
	mu     sync.Mutex
	has    bool
	bodies map[string]map[string]any
	auth   string
}

func (f *fakeMilvus) serve(w http.ResponseWriter, r *http.Request) {
	defer GinkgoRecover()
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = r.Header.Get("Authorization")
	var body map[string]any
	Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
	f.bodies[r.URL.Path] = body

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v2/vectordb/collections/has":
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"has": f.has}})
	case "/v2/vectordb/entities/search":
		_, _ = w.Write([]byte(`{"code":0,"data":[
			{"id":"a","distance":0.6,"text":"alpha","metadata":{"year":2020}},
			{"id":"b","distance":0.2,"text":"beta","metadata":{"year":2024}}
		]}`))
	case "/v2/vectordb/entities/get":
		_, _ = w.Write([]byte(`{"code":0,"data":[{"id":"a","text":"alpha","vector":[1,0],"metadata":{}}]}`))
	case "/v2/vectordb/entities/upsert":
		_, _ = w.Write([]byte(`{"code":1100,"message":"invalid dimension"}`))
	default:
		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	}
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		fake   *fakeMilvus
		server *httptest.Server
	)

	newDriver := func() *milvus.Driver {
		d, err := milvus.NewDriver(ctx, milvus.Config{
			URL:        server.URL,
			Token:      "root:Milvus",
			Database:   "default",
			Dimensions: 2,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeMilvus{bodies: map[string]map[string]any{}}
		server = httptest.NewServer(http.HandlerFunc(fake.serve))
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates a missing collection with a cosine index", func() {
		newDriver()

		create := fake.bodies["/v2/vectordb/collections/create"]
		Expect(create["collectionName"]).To(Equal("llmkit"))
		Expect(create["dbName"]).To(Equal("default"))
		Expect(create["indexParams"]).To(ContainElement(HaveKeyWithValue("metricType", "COSINE")))
		Expect(fake.auth).To(Equal("Bearer root:Milvus"))
	})

	It("keeps an existing collection", func() {
		fake.has = true
		newDriver()
		Expect(fake.bodies).NotTo(HaveKey("/v2/vectordb/collections/create"))
	})

	It("maps similarity to relevance and post-filters metadata", func() {
		fake.has = true
		driver := newDriver()

		results, err := driver.Query(ctx, vector.QueryRequest{
			Embedding: []float32{1, 0},
			TopK:      1,
			Filter:    filter.Lt("year", 2022),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("a"))
		Expect(results[0].Score).To(BeNumerically("~", 0.8, 1e-6))
		Expect(fake.bodies["/v2/vectordb/entities/search"]["limit"]).To(BeNumerically("==", 10))
	})

	It("surfaces envelope errors", func() {
		fake.has = true
		driver := newDriver()

		err := driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1}}})
		Expect(err).To(MatchError(milvus.ErrMilvus))
		Expect(err.Error()).To(ContainSubstring("invalid dimension"))
	})

	It("gets and deletes by id", func() {
		fake.has = true
		driver := newDriver()

		docs, err := driver.Get(ctx, []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Metadata).To(BeNil())
		Expect(docs[0].Embedding).To(Equal([]float32{1, 0}))

		Expect(driver.Delete(ctx, []string{"a", `b"c`})).To(Succeed())
		Expect(fake.bodies["/v2/vectordb/entities/delete"]["filter"]).To(Equal(`id in ["a","b\"c"]`))

		Expect(driver.DeleteAll(ctx)).To(Succeed())
		Expect(fake.bodies["/v2/vectordb/entities/delete"]["filter"]).To(Equal(`id != ""`))
		Expect(driver.Close()).To(Succeed())
	})
})
