package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/openai"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

var _ = Describe("OpenAI Provider", func() {
	var (
		server  *httptest.Server
		path    string
		auth    string
		body    map[string]any
		p       *openai.Provider
		respond func(w http.ResponseWriter)
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			auth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			body = map[string]any{}
			_ = json.Unmarshal(raw, &body)
			respond(w)
		}))

		var err error
		p, err = openai.New(openai.Config{BaseURL: server.URL, APIKey: "sk-test-123456"}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	reply := func(status int, payload string) func(http.ResponseWriter) {
		return func(w http.ResponseWriter) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, payload)
		}
	}

	Describe("Chat", func() {
		It("sends a bearer token and maps the first choice", func() {
			respond = reply(http.StatusOK, `{
				"id": "chatcmpl-1",
				"created": 1700000000,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
			}`)

			resp, err := p.Chat(context.Background(), &llm.ChatRequest{
				System:   "be nice",
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello")},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(path).To(Equal("/chat/completions"))
			Expect(auth).To(Equal("Bearer sk-test-123456"))
			Expect(body["model"]).To(Equal(openai.DefaultModel))
			messages := body["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))

			Expect(resp.Text()).To(Equal("Hi there"))
			Expect(resp.FinishReason).To(Equal(llm.FinishStop))
			Expect(resp.Usage.TotalTokens).To(Equal(12))
			Expect(resp.Extra["id"]).To(Equal("chatcmpl-1"))
		})

		It("splits tool results into tool role messages", func() {
			respond = reply(http.StatusOK, `{"choices": [{"message": {"role": "assistant", "content": "sunny"}, "finish_reason": "stop"}]}`)

			_, err := p.Chat(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{
					llm.NewTextMessage(llm.RoleUser, "weather?"),
					{Role: llm.RoleAssistant, Content: []llm.ContentBlock{
						{Type: llm.BlockToolUse, ToolUseID: "call_1", ToolName: "weather", ToolInput: map[string]any{"city": "Oslo"}},
					}},
					{Role: llm.RoleUser, Content: []llm.ContentBlock{
						{Type: llm.BlockToolResult, ToolResultID: "call_1", ToolOutput: "12C"},
					}},
				},
			})
			Expect(err).NotTo(HaveOccurred())

			messages := body["messages"].([]any)
			Expect(messages).To(HaveLen(3))
			assistant := messages[1].(map[string]any)
			call := assistant["tool_calls"].([]any)[0].(map[string]any)
			Expect(call["function"].(map[string]any)["arguments"]).To(MatchJSON(`{"city":"Oslo"}`))
			tool := messages[2].(map[string]any)
			Expect(tool["role"]).To(Equal("tool"))
			Expect(tool["tool_call_id"]).To(Equal("call_1"))
		})

		It("maps tool calls in the response", func() {
			respond = reply(http.StatusOK, `{"choices": [{"message": {"role": "assistant", "content": null,
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}]},
				"finish_reason": "tool_calls"}]}`)

			resp, err := p.Chat(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "find go")}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.FinishReason).To(Equal(llm.FinishToolExecution))
			calls := resp.Message.ToolCalls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].ID).To(Equal("call_9"))
			Expect(calls[0].Arguments).To(MatchJSON(`{"q":"go"}`))
		})

		It("fails on an empty choice list", func() {
			respond = reply(http.StatusOK, `{"choices": []}`)

			_, err := p.Chat(context.Background(), &llm.ChatRequest{})
			Expect(errors.Is(err, llm.ErrEmptyResponse)).To(BeTrue())
		})

		It("decodes error envelopes", func() {
			respond = reply(http.StatusUnauthorized, `{"error": {"message": "Incorrect API key", "type": "invalid_request_error", "code": "invalid_api_key"}}`)

			_, err := p.Chat(context.Background(), &llm.ChatRequest{})
			var oErr *openai.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(oErr.Code).To(Equal("invalid_api_key"))
			Expect(errors.Is(err, llm.ErrProvider)).To(BeTrue())
		})

		It("falls back to an HTTP error for non-JSON bodies", func() {
			respond = reply(http.StatusBadGateway, "upstream down")

			_, err := p.Chat(context.Background(), &llm.ChatRequest{})
			var httpErr *llm.HTTPError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.Body).To(Equal("upstream down"))
		})
	})

	Describe("Stream", func() {
		It("assembles text and tool call deltas", func() {
			respond = reply(http.StatusOK, strings.Join([]string{
				`data: {"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
				``,
				`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
				``,
				`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\""}}]}}]}`,
				``,
				`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"go\"}"}}]}}]}`,
				``,
				`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
				``,
				`data: {"id":"c1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`,
				``,
				`data: [DONE]`,
				``,
			}, "\n"))

			var texts []string
			var last *llm.StreamChunk
			resp, err := p.Stream(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			}, func(c *llm.StreamChunk) error {
				if c.Text != "" {
					texts = append(texts, c.Text)
				}
				last = c
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(body["stream"]).To(BeTrue())
			Expect(body["stream_options"]).To(HaveKeyWithValue("include_usage", true))
			Expect(texts).To(Equal([]string{"Hel", "lo"}))
			Expect(last.Done).To(BeTrue())

			Expect(resp.Text()).To(Equal("Hello"))
			Expect(resp.FinishReason).To(Equal(llm.FinishToolExecution))
			Expect(resp.Usage.TotalTokens).To(Equal(12))
			Expect(resp.Message.ToolCalls()[0].Arguments).To(MatchJSON(`{"q":"go"}`))
		})

		It("fails when [DONE] never arrives", func() {
			respond = reply(http.StatusOK, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")

			_, err := p.Stream(context.Background(), &llm.ChatRequest{}, func(*llm.StreamChunk) error { return nil })
			Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
		})

		It("stops when the handler fails", func() {
			respond = reply(http.StatusOK, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n")
			boom := errors.New("boom")

			_, err := p.Stream(context.Background(), &llm.ChatRequest{}, func(*llm.StreamChunk) error { return boom })
			Expect(err).To(MatchError(boom))
		})
	})

	Describe("Moderate", func() {
		It("returns the category scores per input", func() {
			respond = reply(http.StatusOK, `{"results": [
				{"flagged": true, "categories": {"violence": true}, "category_scores": {"violence": 0.91, "hate": 0.02}},
				{"flagged": false, "categories": {"violence": false}, "category_scores": {"violence": 0.01}}
			]}`)

			out, err := p.Moderate(context.Background(), []string{"bad", "good"})
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("/moderations"))
			Expect(body["model"]).To(Equal(openai.DefaultModerationModel))
			Expect(out[0].Flagged).To(BeTrue())
			Expect(out[0].Categories).To(HaveKeyWithValue("violence", 0.91))
			Expect(out[1].Flagged).To(BeFalse())
			Expect(out[1].Text).To(Equal("good"))
		})
	})

	It("requires a model for compatible endpoints", func() {
		_, err := openai.NewCompatible("local", openai.Config{BaseURL: "http://localhost:1"}, nil)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("FinishReason",
		func(in string, want llm.FinishReason) {
			Expect(openai.FinishReason(in)).To(Equal(want))
		},
		Entry("stop", "stop", llm.FinishStop),
		Entry("length", "length", llm.FinishLength),
		Entry("tool_calls", "tool_calls", llm.FinishToolExecution),
		Entry("content_filter", "content_filter", llm.FinishContentFilter),
		Entry("unknown", "weird", llm.FinishOther),
	)
})
