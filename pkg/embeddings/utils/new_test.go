package embeddingutils_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	embeddingutils "github.com/papercomputeco/llmkit/pkg/embeddings/utils"
)

var _ = Describe("NewEmbedder", func() {
	It("builds an ollama embedder that talks to the target", func() {
		var path string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.5, 0.5}}})
		}))
		DeferCleanup(server.Close)

		embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
			ProviderType: "ollama",
			TargetURL:    server.URL,
			Model:        "nomic-embed-text",
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(embedder.Close)

		vec, err := embedder.Embed(context.Background(), "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.5, 0.5}))
		Expect(path).To(Equal("/api/embed"))
	})

	It("builds an openai embedder without contacting it", func() {
		embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
			ProviderType: "openai",
			TargetURL:    "http://localhost:1/v1",
			APIKey:       "sk-test",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(embedder).NotTo(BeNil())
	})

	It("passes constructor errors through", func() {
		_, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{ProviderType: "mistral"})
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})

	It("rejects unknown providers and lists the supported ones", func() {
		_, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{ProviderType: "word2vec"})
		Expect(err).To(MatchError(ContainSubstring("unsupported embedding provider: word2vec")))
		Expect(embeddingutils.SupportedEmbedders()).To(ContainElements("ollama", "openai", "watsonx"))
	})
})
