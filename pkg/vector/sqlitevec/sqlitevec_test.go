package sqlitevec_test

import (
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
	"github.com/papercomputeco/llmkit/pkg/vector/filter"
	"github.com/papercomputeco/llmkit/pkg/vector/sqlitevec"
)

var _ = Describe("Driver", func() {
	var (
		log    *slog.Logger
		ctx    context.Context
		driver *sqlitevec.Driver
	)

	newDriver := func() *sqlitevec.Driver {
		d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4}, log)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	seed := func() {
		Expect(driver.Add(ctx, []vector.Document{
			{ID: "x", Text: "east", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"lang": "en", "year": 2020}},
			{ID: "y", Text: "north", Embedding: []float32{0, 1, 0, 0}, Metadata: map[string]any{"lang": "fr", "year": 2023}},
			{ID: "xy", Text: "between", Embedding: []float32{1, 1, 0, 0}, Metadata: map[string]any{"lang": "en", "year": 2024}},
		})).To(Succeed())
	}

	BeforeEach(func() {
		log = logger.Nop()
		ctx = context.Background()
	})

	Describe("NewDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{Dimensions: 4}, log)
			Expect(err).To(MatchError(ContainSubstring("database path is required")))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, log)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with documents", func() {
		BeforeEach(func() {
			driver = newDriver()
			seed()
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
		})

		It("returns the closest documents first with cosine relevance", func() {
			results, err := driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1, 0, 0, 0}, TopK: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ID).To(Equal("x"))
			Expect(results[0].Text).To(Equal("east"))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-5))
			Expect(results[1].ID).To(Equal("xy"))
			Expect(results[2].Score).To(BeNumerically("~", 0.5, 1e-5))
		})

		It("respects topK and the minimum score", func() {
			results, err := driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1, 0, 0, 0}, TopK: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))

			results, err = driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1, 0, 0, 0}, MinScore: 0.8})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("applies metadata filters", func() {
			results, err := driver.Query(ctx, vector.QueryRequest{
				Embedding: []float32{0, 1, 0, 0},
				TopK:      1,
				Filter:    filter.And(filter.Eq("lang", "en"), filter.Gte("year", 2021)),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("xy"))
			Expect(results[0].Metadata).To(HaveKeyWithValue("lang", "en"))
		})

		It("updates an existing document", func() {
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "x", Text: "west", Embedding: []float32{0, 0, 1, 0}},
			})).To(Succeed())

			docs, err := driver.Get(ctx, []string{"x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Text).To(Equal("west"))
			Expect(docs[0].Metadata).To(BeNil())
			Expect(docs[0].Embedding).To(Equal([]float32{0, 0, 1, 0}))
		})

		It("skips unknown ids on Get", func() {
			docs, err := driver.Get(ctx, []string{"x", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
		})

		It("removes deleted documents from query results", func() {
			Expect(driver.Delete(ctx, []string{"x", "missing"})).To(Succeed())

			results, err := driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1, 0, 0, 0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.ID).NotTo(Equal("x"))
			}
		})

		It("clears everything on DeleteAll", func() {
			Expect(driver.DeleteAll(ctx)).To(Succeed())

			results, err := driver.Query(ctx, vector.QueryRequest{Embedding: []float32{1, 0, 0, 0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("treats empty input as a no-op", func() {
			Expect(driver.Add(ctx, nil)).To(Succeed())
			Expect(driver.Delete(ctx, nil)).To(Succeed())
			docs, err := driver.Get(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeNil())
		})
	})
})
