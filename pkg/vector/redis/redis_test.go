package redis_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	"github.com/papercomputeco/llmkit/pkg/vector/redis"
)

var _ = Describe("Schema", func() {
	It("applies defaults and the key prefix convention", func() {
		s := redis.NewSchema(redis.Schema{Prefix: "docs", Dimensions: 3, Algorithm: "flat"})
		Expect(s.Prefix).To(Equal("docs:"))
		Expect(s.IndexName).To(Equal(redis.DefaultIndexName))
		Expect(s.Algorithm).To(Equal("FLAT"))
		Expect(s.Metric).To(Equal("COSINE"))
	})

	It("renders FT.CREATE on JSON with typed metadata fields", func() {
		s := redis.NewSchema(redis.Schema{
			Dimensions:            3,
			TextualMetadataFields: []string{"lang"},
			NumericMetadataFields: []string{"year"},
		})
		Expect(s.CreateArgs()).To(Equal([]any{
			"FT.CREATE", "embedding-index",
			"ON", "JSON",
			"PREFIX", 1, "embedding:",
			"SCHEMA",
			"$.text", "AS", "text", "TEXT", "WEIGHT", "1.0",
			"$.vector", "AS", "vector", "VECTOR", "HNSW", 6,
			"TYPE", "FLOAT32",
			"DIM", uint(3),
			"DISTANCE_METRIC", "COSINE",
			"$.lang", "AS", "lang", "TEXT", "WEIGHT", "1.0",
			"$.year", "AS", "year", "NUMERIC",
		}))
	})

	It("renders the KNN query", func() {
		s := redis.NewSchema(redis.Schema{Dimensions: 3})
		Expect(s.KNNQuery("(@year:[2020 2020])", 5)).
			To(Equal("(@year:[2020 2020])=>[ KNN 5 @vector $BLOB AS vector_score ]"))
	})
})

var _ = Describe("search replies", func() {
	It("maps keys, documents and distances", func() {
		s := redis.NewSchema(redis.Schema{Dimensions: 2})
		results, err := redis.ParseSearchReply(s, []any{
			int64(2),
			"embedding:a", []any{"vector_score", "0.2", "$", `{"text":"alpha","vector":[1,0],"year":2020}`},
			"embedding:b", []any{"vector_score", "1", "$", `{"text":"beta","vector":[0,1]}`},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].ID).To(Equal("a"))
		Expect(results[0].Text).To(Equal("alpha"))
		Expect(results[0].Embedding).To(Equal([]float32{1, 0}))
		Expect(results[0].Metadata).To(Equal(map[string]any{"year": float64(2020)}))
		Expect(results[0].Score).To(BeNumerically("~", 0.9, 1e-6))
		Expect(results[1].Score).To(BeNumerically("~", 0.5, 1e-6))
	})

	It("rejects malformed replies", func() {
		_, err := redis.ParseSearchReply(redis.NewSchema(redis.Schema{}), "nope")
		Expect(err).To(HaveOccurred())
	})

	It("encodes query vectors as little-endian float32", func() {
		Expect([]byte(redis.Blob([]float32{1}))).To(Equal([]byte{0, 0, 0x80, 0x3f}))
	})
})

// Runs against Redis Stack when LLMKIT_TEST_REDIS_URL is set.
var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *redis.Driver
	)

	BeforeEach(func() {
		url := os.Getenv("LLMKIT_TEST_REDIS_URL")
		if url == "" {
			Skip("LLMKIT_TEST_REDIS_URL not set")
		}
		ctx = context.Background()
		var err error
		driver, err = redis.NewDriver(ctx, redis.Config{
			URL: url,
			Schema: redis.Schema{
				IndexName:             "llmkit-test-index",
				Prefix:                "llmkit-test",
				Dimensions:            2,
				NumericMetadataFields: []string{"year"},
			},
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.DeleteAll(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	It("stores, filters and deletes documents", func() {
		Expect(driver.Add(ctx, []vector.Document{
			{ID: "a", Text: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]any{"year": 2020}},
			{ID: "b", Text: "beta", Embedding: []float32{0, 1}, Metadata: map[string]any{"year": 2024}},
		})).To(Succeed())

		Eventually(func() ([]vector.QueryResult, error) {
			return driver.Query(ctx, vector.QueryRequest{
				Embedding: []float32{1, 0},
				Filter:    filter.Gt("year", 2021),
			})
		}).Should(HaveLen(1))

		Expect(driver.Delete(ctx, []string{"b"})).To(Succeed())
		docs, err := driver.Get(ctx, []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Text).To(Equal("alpha"))
	})
})
