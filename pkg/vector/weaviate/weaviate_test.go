package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	"github.com/papercomputeco/llmkit/pkg/vector/weaviate"
)

type fakeWeaviate struct {
	mu          sync.Mutex
	classExists bool
	createdBody map[string]any
	batch       map[string]any
	graphQL     string
	deleted     []string
	auth        string
}

func (f *fakeWeaviate) serve(w http.ResponseWriter, r *http.Request) {
	defer GinkgoRecover()
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/schema/LlmkitDocument" && r.Method == http.MethodGet:
		if !f.classExists {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"class":"LlmkitDocument"}`))
	case r.URL.Path == "/v1/schema/LlmkitDocument" && r.Method == http.MethodDelete:
		f.classExists = false
	case r.URL.Path == "/v1/schema" && r.Method == http.MethodPost:
		Expect(json.NewDecoder(r.Body).Decode(&f.createdBody)).To(Succeed())
		f.classExists = true
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Path == "/v1/batch/objects":
		Expect(json.NewDecoder(r.Body).Decode(&f.batch)).To(Succeed())
		_, _ = w.Write([]byte(`[{"id":"x","result":{}}]`))
	case r.URL.Path == "/v1/graphql":
		var body map[string]string
		Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
		f.graphQL = body["query"]
		_, _ = w.Write([]byte(`{"data":{"Get":{"LlmkitDocument":[
			{"text":"alpha","docId":"a","metadata":"{\"lang\":\"en\"}","_additional":{"id":"u1","certainty":0.95,"vector":[1,0]}},
			{"text":"beta","docId":"b","metadata":"{\"lang\":\"fr\"}","_additional":{"id":"u2","certainty":0.9}}
		]}}}`))
	case strings.HasPrefix(r.URL.Path, "/v1/objects/LlmkitDocument/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/objects/LlmkitDocument/")
		if r.Method == http.MethodDelete {
			f.deleted = append(f.deleted, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if id != weaviate.ObjectID("a") {
			http.NotFound(w, r)
			return
		}
		Expect(r.URL.Query().Get("include")).To(Equal("vector"))
		_, _ = w.Write([]byte(`{"class":"LlmkitDocument","id":"u1","properties":{"text":"alpha","docId":"a","metadata":"{}"},"vector":[1,0]}`))
	default:
		http.NotFound(w, r)
	}
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		fake   *fakeWeaviate
		server *httptest.Server
		driver *weaviate.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeWeaviate{}
		server = httptest.NewServer(http.HandlerFunc(fake.serve))

		var err error
		driver, err = weaviate.NewDriver(ctx, weaviate.Config{URL: server.URL, APIKey: "wv-key"}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
		server.Close()
	})

	It("creates the class without a vectorizer", func() {
		Expect(fake.createdBody).To(HaveKeyWithValue("class", "LlmkitDocument"))
		Expect(fake.createdBody).To(HaveKeyWithValue("vectorizer", "none"))
		Expect(fake.auth).To(Equal("Bearer wv-key"))
	})

	It("derives stable object ids", func() {
		Expect(weaviate.ObjectID("a")).To(Equal(weaviate.ObjectID("a")))
		Expect(weaviate.ObjectID("a")).NotTo(Equal(weaviate.ObjectID("b")))
		id := "0b7d6f1e-2c3a-4b5d-8e9f-0a1b2c3d4e5f"
		Expect(weaviate.ObjectID(id)).To(Equal(id))
	})

	It("batches objects with the original id and metadata", func() {
		Expect(driver.Add(ctx, []vector.Document{
			{ID: "a", Text: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]any{"lang": "en"}},
		})).To(Succeed())

		objects := fake.batch["objects"].([]any)
		Expect(objects).To(HaveLen(1))
		obj := objects[0].(map[string]any)
		Expect(obj["id"]).To(Equal(weaviate.ObjectID("a")))
		Expect(obj["properties"]).To(Equal(map[string]any{
			"text":     "alpha",
			"docId":    "a",
			"metadata": `{"lang":"en"}`,
		}))
	})

	It("queries with nearVector and filters hits in process", func() {
		results, err := driver.Query(ctx, vector.QueryRequest{
			Embedding: []float32{1, 0},
			TopK:      2,
			MinScore:  0.5,
			Filter:    filter.Eq("lang", "fr"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("b"))
		Expect(results[0].Score).To(BeNumerically("~", 0.9, 1e-6))

		Expect(fake.graphQL).To(ContainSubstring("LlmkitDocument(nearVector: {vector: [1,0], certainty: 0.5}, limit: 20)"))
	})

	It("gets and deletes objects, skipping unknown ids", func() {
		docs, err := driver.Get(ctx, []string{"a", "missing"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Text).To(Equal("alpha"))
		Expect(docs[0].Metadata).To(BeNil())

		Expect(driver.Delete(ctx, []string{"a"})).To(Succeed())
		Expect(fake.deleted).To(Equal([]string{weaviate.ObjectID("a")}))
	})

	It("recreates the class on DeleteAll", func() {
		fake.createdBody = nil
		Expect(driver.DeleteAll(ctx)).To(Succeed())
		Expect(fake.createdBody).NotTo(BeNil())
	})
})
