package bam_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/bam"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

var _ = Describe("BAM Provider", func() {
	var (
		server      *httptest.Server
		cfg         bam.Config
		lastPath    string
		lastVersion string
		lastBody    map[string]any
		status      int
		contentType string
		payload     string
	)

	newProvider := func() *bam.Provider {
		cfg.BaseURL = server.URL
		p, err := bam.New(cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	BeforeEach(func() {
		cfg = bam.Config{APIKey: "bam-key-123456"}
		status = http.StatusOK
		contentType = "application/json"
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer bam-key-123456"))
			lastPath = r.URL.Path
			lastVersion = r.URL.Query().Get("version")
			raw, _ := io.ReadAll(r.Body)
			lastBody = map[string]any{}
			_ = json.Unmarshal(raw, &lastBody)
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(status)
			_, _ = io.WriteString(w, payload)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Chat", func() {
		It("sends defaults and maps the first result", func() {
			payload = `{
				"id": "05a245ad",
				"model_id": "meta-llama/llama-2-70b-chat",
				"created_at": "2023-09-01T09:28:29.378Z",
				"results": [{"generated_token_count": 20, "input_token_count": 146, "stop_reason": "max_tokens", "generated_text": "Hello!"}],
				"conversation_id": "cd3a9bca"
			}`

			resp, err := newProvider().Chat(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello how are you?")},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(lastPath).To(Equal("/v2/text/chat"))
			Expect(lastVersion).To(Equal(bam.DefaultVersion))
			Expect(lastBody["model_id"]).To(Equal(bam.DefaultModel))
			params := lastBody["parameters"].(map[string]any)
			Expect(params["decoding_method"]).To(Equal("greedy"))
			Expect(params["min_new_tokens"]).To(BeNumerically("==", 0))
			Expect(params["max_new_tokens"]).To(BeNumerically("==", 200))

			Expect(resp.Text()).To(Equal("Hello!"))
			Expect(resp.FinishReason).To(Equal(llm.FinishLength))
			Expect(resp.Usage.PromptTokens).To(Equal(146))
			Expect(resp.Usage.CompletionTokens).To(Equal(20))
		})

		It("rejects tool messages", func() {
			_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{
					{Type: llm.BlockToolResult, ToolResultID: "1", ToolOutput: "x"},
				}}},
			})
			Expect(errors.Is(err, llm.ErrUnsupported)).To(BeTrue())
		})

		It("rejects unknown stop reasons", func() {
			payload = `{"results": [{"generated_text": "x", "stop_reason": "cancelled"}]}`

			_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{})
			Expect(err).To(MatchError(ContainSubstring("cancelled")))
		})
	})

	Describe("Stream", func() {
		It("takes input tokens from the first event and the rest from the last", func() {
			contentType = "text/event-stream"
			payload = "data: {\"model_id\":\"m\",\"results\":[{\"generated_text\":\"Hel\",\"input_token_count\":7,\"generated_token_count\":1,\"stop_reason\":\"not_finished\"}]}\n\n" +
				"data: \n\n" +
				"data: {\"results\":[{\"generated_text\":\"lo\",\"input_token_count\":0,\"generated_token_count\":2,\"stop_reason\":\"eos_token\"}]}\n\n"

			var parts []string
			resp, err := newProvider().Stream(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			}, func(c *llm.StreamChunk) error {
				if !c.Done {
					parts = append(parts, c.Text)
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(lastPath).To(Equal("/v2/text/chat_stream"))
			Expect(parts).To(Equal([]string{"Hel", "lo"}))
			Expect(resp.Text()).To(Equal("Hello"))
			Expect(resp.FinishReason).To(Equal(llm.FinishStop))
			Expect(resp.Usage.PromptTokens).To(Equal(7))
			Expect(resp.Usage.CompletionTokens).To(Equal(2))
		})
	})

	Describe("errors", func() {
		It("decodes a JSON error document", func() {
			status = http.StatusUnauthorized
			payload = `{"status_code": 401, "error": "Unauthorized", "message": "API key not found",
				"extensions": {"code": "AUTH_ERROR", "reason": "INVALID_AUTHORIZATION"}}`

			_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{})
			var bErr *bam.Error
			Expect(errors.As(err, &bErr)).To(BeTrue())
			Expect(bErr.StatusCode).To(Equal(401))
			Expect(bErr.Kind).To(Equal("Unauthorized"))
			Expect(bErr.Message).To(Equal("API key not found"))
			Expect(bErr.Extensions.Code).To(Equal("AUTH_ERROR"))
			Expect(bErr.Extensions.Reason).To(Equal("INVALID_AUTHORIZATION"))
			Expect(errors.Is(err, llm.ErrProvider)).To(BeTrue())
		})

		It("normalizes a state array", func() {
			status = http.StatusBadRequest
			payload = `{"status_code": 400, "error": "Bad Request", "message": "Parameters -> top_p must be <= 1",
				"extensions": {"code": "INVALID_INPUT", "state": [{"instancePath": "/parameters/top_p", "params": {"comparison": "<=", "limit": 1}}]}}`

			_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{})
			var bErr *bam.Error
			Expect(errors.As(err, &bErr)).To(BeTrue())
			Expect(bErr.Extensions.Reason).To(BeEmpty())
			Expect(bErr.Extensions.State).To(HaveLen(1))
			Expect(bErr.Extensions.State[0]["instancePath"]).To(Equal("/parameters/top_p"))
		})

		It("normalizes a state object", func() {
			status = http.StatusTooManyRequests
			payload = `{"status_code": 429, "error": "Too Many Requests", "message": "Exceeded 5 requests per second",
				"extensions": {"code": "TOO_MANY_REQUESTS", "state": {"expires_in_ms": 2774}}}`

			_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{})
			var bErr *bam.Error
			Expect(errors.As(err, &bErr)).To(BeTrue())
			Expect(bErr.Extensions.State).To(HaveLen(1))
			Expect(bErr.Extensions.State[0]["expires_in_ms"]).To(BeNumerically("==", 2774))
		})

		DescribeTable("non-JSON bodies",
			func(body, message string) {
				status = http.StatusInternalServerError
				contentType = "text/plain"
				payload = body

				_, err := newProvider().Chat(context.Background(), &llm.ChatRequest{})
				var bErr *bam.Error
				Expect(errors.As(err, &bErr)).To(BeTrue())
				Expect(bErr.StatusCode).To(Equal(500))
				Expect(bErr.Message).To(Equal(message))
				Expect(bErr.Kind).To(BeEmpty())
				Expect(bErr.Extensions).To(BeNil())
			},
			Entry("plain text", "How do you handle me?", "How do you handle me?"),
			Entry("empty body", "", ""),
			Entry("unexpected JSON", `{"foo": 1}`, "Unchecked error, see log for details"),
		)
	})

	Describe("Moderate", func() {
		It("flags texts when any detector flags", func() {
			hap, bias := 0.7, 0.6
			cfg.HAP = &hap
			cfg.SocialBias = &bias
			payload = `{"results": [{"hap": [{"score": 0.8, "flagged": true, "success": true}],
				"social_bias": [{"score": 0.0001, "flagged": false, "success": true}]}]}`

			out, err := newProvider().Moderate(context.Background(), []string{"I want to kill you!"})
			Expect(err).NotTo(HaveOccurred())
			Expect(lastPath).To(Equal("/v2/text/moderations"))
			Expect(lastBody["hap"]).To(HaveKeyWithValue("threshold", 0.7))
			Expect(lastBody["social_bias"]).To(HaveKeyWithValue("threshold", 0.6))
			Expect(out[0].Flagged).To(BeTrue())
			Expect(out[0].Categories).To(HaveKeyWithValue("hap", 0.8))
		})

		It("is unsupported without thresholds", func() {
			_, err := newProvider().Moderate(context.Background(), []string{"x"})
			Expect(errors.Is(err, llm.ErrUnsupported)).To(BeTrue())
		})
	})

	It("embeds texts", func() {
		payload = `{"results": [[0.1, 0.2], [0.3, 0.4]]}`

		out, err := newProvider().EmbedAll(context.Background(), []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(lastPath).To(Equal("/v2/text/embeddings"))
		Expect(lastBody["model_id"]).To(Equal(bam.DefaultEmbeddingModel))
		Expect(out).To(HaveLen(2))
		Expect(out[1][0]).To(BeNumerically("~", 0.3, 1e-6))
	})

	It("counts tokens over joined message text", func() {
		payload = `{"results": [{"token_count": 11}]}`

		n, err := newProvider().CountTokens(context.Background(), &llm.ChatRequest{
			System:   "sys",
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello there")},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(lastBody["input"]).To(Equal("sys hello there"))
		Expect(n).To(Equal(11))
	})

	DescribeTable("FinishReason",
		func(in string, want llm.FinishReason) {
			got, err := bam.FinishReason(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("max_tokens", "max_tokens", llm.FinishLength),
		Entry("eos_token", "eos_token", llm.FinishStop),
		Entry("stop_sequence", "stop_sequence", llm.FinishStop),
	)
})
