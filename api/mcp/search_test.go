package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/logger"
	testutils "github.com/papercomputeco/llmkit/pkg/utils/test"
	"github.com/papercomputeco/llmkit/pkg/vector"
)

var _ = Describe("Search tool", func() {
	var (
		server       *Server
		vectorDriver *testutils.MockVectorDriver
		embedder     *testutils.MockEmbedder
		ctx          context.Context
	)

	BeforeEach(func() {
		vectorDriver = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder()
		ctx = context.TODO()

		vectorDriver.Results = []vector.QueryResult{
			{Document: vector.Document{ID: "doc-1", Text: "channels are typed conduits"}, Score: 0.92},
		}

		var err error
		server, err = NewServer(Config{
			VectorDriver: vectorDriver,
			Embedder:     embedder,
			Logger:       logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns structured results mirrored as JSON text", func() {
		result, output, err := server.handleSearch(ctx, nil, SearchInput{Query: "channels", TopK: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsError).To(BeFalse())
		Expect(output.Count).To(Equal(1))
		Expect(output.Results[0].ID).To(Equal("doc-1"))

		Expect(result.Content).To(HaveLen(1))
		text, ok := result.Content[0].(*mcp.TextContent)
		Expect(ok).To(BeTrue())
		Expect(text.Text).To(ContainSubstring(`"id":"doc-1"`))

		Expect(vectorDriver.Requests[0].TopK).To(Equal(3))
	})

	It("forwards the filter", func() {
		_, _, err := server.handleSearch(ctx, nil, SearchInput{
			Query:  "channels",
			Filter: json.RawMessage(`{"op":"eq","key":"lang","value":"go"}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(vectorDriver.Requests[0].Filter).NotTo(BeNil())
	})

	It("reports an empty query as a tool error", func() {
		result, _, err := server.handleSearch(ctx, nil, SearchInput{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsError).To(BeTrue())
	})

	It("reports embedding failures as a tool error", func() {
		embedder.FailOn = "channels"
		result, _, err := server.handleSearch(ctx, nil, SearchInput{Query: "channels"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsError).To(BeTrue())
		Expect(result.Content[0].(*mcp.TextContent).Text).To(ContainSubstring("Search failed"))
	})
})
