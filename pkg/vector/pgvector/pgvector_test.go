package pgvector_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	"github.com/papercomputeco/llmkit/pkg/vector/pgvector"
)

var _ = Describe("vector text format", func() {
	It("encodes compactly", func() {
		Expect(pgvector.EncodeVector([]float32{1, 0.5, -2})).To(Equal("[1,0.5,-2]"))
		Expect(pgvector.EncodeVector(nil)).To(Equal("[]"))
	})

	It("decodes what it encodes", func() {
		v, err := pgvector.DecodeVector(" [1, 0.25,-3] ")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]float32{1, 0.25, -3}))
	})

	It("rejects malformed input", func() {
		_, err := pgvector.DecodeVector("1,2")
		Expect(err).To(HaveOccurred())
		_, err = pgvector.DecodeVector("[1,x]")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NewDriver", func() {
	ctx := context.Background()

	It("requires a connection string", func() {
		_, err := pgvector.NewDriver(ctx, pgvector.Config{Dimensions: 2}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("connection string is required")))
	})

	It("rejects table names that are not identifiers", func() {
		_, err := pgvector.NewDriver(ctx, pgvector.Config{
			ConnString: "postgres://localhost/x",
			Table:      "docs; DROP TABLE users",
			Dimensions: 2,
		}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("invalid table name")))
	})
})

// Runs against a live database when LLMKIT_TEST_POSTGRES_DSN is set.
var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *pgvector.Driver
	)

	BeforeEach(func() {
		dsn := os.Getenv("LLMKIT_TEST_POSTGRES_DSN")
		if dsn == "" {
			Skip("LLMKIT_TEST_POSTGRES_DSN not set")
		}
		ctx = context.Background()
		var err error
		driver, err = pgvector.NewDriver(ctx, pgvector.Config{
			ConnString: dsn,
			Table:      "llmkit_test_embeddings",
			Dimensions: 2,
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

		results, err := driver.Query(ctx, vector.QueryRequest{
			Embedding: []float32{1, 0},
			Filter:    filter.Gt("year", 2021),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("b"))
		Expect(results[0].Score).To(BeNumerically("~", 0.5, 1e-5))

		Expect(driver.Delete(ctx, []string{"b"})).To(Succeed())
		docs, err := driver.Get(ctx, []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].Embedding).To(Equal([]float32{1, 0}))
	})
})
