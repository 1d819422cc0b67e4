package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/embeddings/openai"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
)

var _ = Describe("OpenAI-compatible Embedder", func() {
	var (
		server   *httptest.Server
		lastPath string
		lastAuth string
		lastBody map[string]any
		status   int
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastPath = r.URL.Path
			lastAuth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			lastBody = map[string]any{}
			_ = json.Unmarshal(raw, &lastBody)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = io.WriteString(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
				return
			}
			_, _ = io.WriteString(w, `{
				"object": "list",
				"model": "text-embedding-3-small",
				"data": [
					{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]},
					{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]}
				],
				"usage": {"prompt_tokens": 4, "total_tokens": 4}
			}`)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("embeds documents through the embeddings endpoint", func() {
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL, APIKey: "sk-test"}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		out, err := e.EmbedAll(context.Background(), []string{"first\nline", "second"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
		Expect(out[1]).To(Equal([]float32{0.3, 0.4}))

		Expect(lastPath).To(HaveSuffix("/embeddings"))
		Expect(lastAuth).To(Equal("Bearer sk-test"))
		Expect(lastBody).To(HaveKeyWithValue("model", "text-embedding-3-small"))
	})

	It("wraps failures as embedding errors", func() {
		status = http.StatusUnauthorized
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		_, err = e.EmbedAll(context.Background(), []string{"a", "b"})
		Expect(errors.Is(err, vector.ErrEmbedding)).To(BeTrue())
	})
})
