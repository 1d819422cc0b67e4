package watsonx_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/watsonx"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

const generation = `{
	"model_id": "ibm/granite-13b-chat-v2",
	"created_at": "2024-05-01T10:00:00Z",
	"results": [{
		"generated_text": "Hello Bob",
		"generated_token_count": 3,
		"input_token_count": 7,
		"stop_reason": "eos_token"
	}]
}`

var _ = Describe("watsonx Provider", func() {
	var (
		server     *httptest.Server
		iamCalls   atomic.Int32
		tokenTTL   int64
		lastPath   string
		lastQuery  string
		lastAuth   string
		lastBody   map[string]any
		handleAPI  func(w http.ResponseWriter, r *http.Request)
		newWatsonx func(mutate func(*watsonx.Config)) *watsonx.Provider
	)

	BeforeEach(func() {
		iamCalls.Store(0)
		tokenTTL = 3600
		handleAPI = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, generation)
		}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			if r.URL.Path == "/identity/token" {
				n := iamCalls.Add(1)
				Expect(r.ParseForm()).To(Succeed())
				Expect(r.PostForm.Get("grant_type")).To(Equal("urn:ibm:params:oauth:grant-type:apikey"))
				Expect(r.PostForm.Get("apikey")).To(Equal("ibm-key"))
				_, _ = fmt.Fprintf(w, `{"access_token": "token-%d", "token_type": "Bearer", "expires_in": %d}`, n, tokenTTL)
				return
			}

			lastPath = r.URL.Path
			lastQuery = r.URL.RawQuery
			lastAuth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			lastBody = map[string]any{}
			_ = json.Unmarshal(raw, &lastBody)
			handleAPI(w, r)
		}))

		newWatsonx = func(mutate func(*watsonx.Config)) *watsonx.Provider {
			cfg := watsonx.Config{
				BaseURL:   server.URL,
				IAMURL:    server.URL + "/identity/token",
				APIKey:    "ibm-key",
				ProjectID: "project-1",
			}
			if mutate != nil {
				mutate(&cfg)
			}
			p, err := watsonx.New(cfg, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			return p
		}
	})

	AfterEach(func() {
		server.Close()
	})

	chat := func(p *watsonx.Provider) (*llm.ChatResponse, error) {
		return p.Chat(context.Background(), &llm.ChatRequest{
			Messages: []llm.Message{
				llm.NewTextMessage(llm.RoleSystem, "You are a poet"),
				llm.NewTextMessage(llm.RoleUser, "I am Bob"),
			},
		})
	}

	Describe("New", func() {
		It("requires a project, space or deployment", func() {
			_, err := watsonx.New(watsonx.Config{BaseURL: "http://x", APIKey: "k"}, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Chat", func() {
		It("sends the rendered prompt with the version and bearer token", func() {
			p := newWatsonx(nil)

			resp, err := chat(p)
			Expect(err).NotTo(HaveOccurred())

			Expect(lastPath).To(Equal("/ml/v1/text/generation"))
			Expect(lastQuery).To(Equal("version=2024-03-14"))
			Expect(lastAuth).To(Equal("Bearer token-1"))
			Expect(lastBody).To(HaveKeyWithValue("model_id", "ibm/granite-13b-chat-v2"))
			Expect(lastBody).To(HaveKeyWithValue("project_id", "project-1"))
			Expect(lastBody).To(HaveKeyWithValue("input", "You are a poet\nI am Bob"))
			Expect(lastBody["parameters"]).To(HaveKeyWithValue("decoding_method", "greedy"))

			Expect(resp.Text()).To(Equal("Hello Bob"))
			Expect(resp.FinishReason).To(Equal(llm.FinishStop))
			Expect(resp.Usage.TotalTokens).To(Equal(10))
		})

		It("targets a deployment without model or project", func() {
			p := newWatsonx(func(c *watsonx.Config) { c.DeploymentID = "dep-1" })

			_, err := chat(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(lastPath).To(Equal("/ml/v1/deployments/dep-1/text/generation"))
			Expect(lastBody).NotTo(HaveKey("model_id"))
			Expect(lastBody).NotTo(HaveKey("project_id"))
		})

		It("rejects unknown stop reasons", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"results": [{"generated_text": "x", "stop_reason": "mystery"}]}`)
			}
			_, err := chat(newWatsonx(nil))
			Expect(err).To(MatchError(ContainSubstring("mystery")))
		})
	})

	Describe("IAM tokens", func() {
		It("reuses a token until it expires", func() {
			p := newWatsonx(nil)
			for range 3 {
				_, err := chat(p)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(iamCalls.Load()).To(BeEquivalentTo(1))
		})

		It("refreshes a token that is about to expire", func() {
			tokenTTL = 1
			p := newWatsonx(nil)
			_, err := chat(p)
			Expect(err).NotTo(HaveOccurred())
			time.Sleep(1100 * time.Millisecond)
			_, err = chat(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(iamCalls.Load()).To(BeEquivalentTo(2))
			Expect(lastAuth).To(Equal("Bearer token-2"))
		})

		It("retries once when the server reports an expired token", func() {
			var apiCalls atomic.Int32
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				if apiCalls.Add(1) == 1 {
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = io.WriteString(w, `{"errors": [{"code": "authentication_token_expired", "message": "Failed to authenticate the request due to an expired token"}], "trace": "t", "status_code": 401}`)
					return
				}
				_, _ = io.WriteString(w, generation)
			}

			_, err := chat(newWatsonx(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(apiCalls.Load()).To(BeEquivalentTo(2))
			Expect(iamCalls.Load()).To(BeEquivalentTo(2))
		})
	})

	Describe("errors", func() {
		It("joins error details", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{
					"errors": [
						{"code": "json_type_error", "message": "Json field type error: model_id must be of type string"},
						{"code": "invalid_input_argument", "message": "Invalid input argument for Model"}
					],
					"trace": "abc",
					"status_code": 400
				}`)
			}

			_, err := chat(newWatsonx(nil))
			var wErr *watsonx.Error
			Expect(errors.As(err, &wErr)).To(BeTrue())
			Expect(wErr.Details).To(HaveLen(2))
			Expect(wErr.Error()).To(ContainSubstring(
				"json_type_error: Json field type error: model_id must be of type string\ninvalid_input_argument: Invalid input argument for Model"))
			Expect(errors.Is(err, llm.ErrProvider)).To(BeTrue())
		})

		It("falls back to an HTTP error for non-JSON bodies", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = io.WriteString(w, "bad gateway")
			}

			_, err := chat(newWatsonx(nil))
			var hErr *llm.HTTPError
			Expect(errors.As(err, &hErr)).To(BeTrue())
			Expect(hErr.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("Stream", func() {
		It("skips empty fragments and takes usage from the first and last", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, "id: 1\nevent: message\ndata: {\"model_id\":\"m\",\"results\":[{\"generated_text\":\"\",\"input_token_count\":9}]}\n\n")
				_, _ = io.WriteString(w, "id: 2\nevent: message\ndata: {\"model_id\":\"m\",\"results\":[{\"generated_text\":\"Hel\",\"input_token_count\":9,\"generated_token_count\":1}]}\n\n")
				_, _ = io.WriteString(w, "id: 3\nevent: message\ndata: {\"model_id\":\"m\",\"results\":[{\"generated_text\":\"lo\",\"generated_token_count\":2,\"stop_reason\":\"max_tokens\"}]}\n\n")
			}

			var parts []string
			resp, err := newWatsonx(nil).Stream(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			}, func(c *llm.StreamChunk) error {
				if !c.Done {
					parts = append(parts, c.Text)
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(lastPath).To(Equal("/ml/v1/text/generation_stream"))
			Expect(parts).To(Equal([]string{"Hel", "lo"}))
			Expect(resp.Text()).To(Equal("Hello"))
			Expect(resp.FinishReason).To(Equal(llm.FinishLength))
			Expect(resp.Usage.PromptTokens).To(Equal(9))
			Expect(resp.Usage.CompletionTokens).To(Equal(2))
		})
	})

	Describe("tokenization and embeddings", func() {
		It("counts tokens of the rendered prompt", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"model_id": "m", "result": {"token_count": 11}}`)
			}
			n, err := newWatsonx(nil).CountTokens(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "count me")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(11))
			Expect(lastPath).To(Equal("/ml/v1/text/tokenization"))
			Expect(lastBody).To(HaveKeyWithValue("input", "count me"))
		})

		It("embeds texts in one call", func() {
			handleAPI = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"results": [{"embedding": [0.1, 0.2]}, {"embedding": [0.3, 0.4]}]}`)
			}
			out, err := newWatsonx(nil).EmbedAll(context.Background(), []string{"a", "b"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(2))
			Expect(lastBody).To(HaveKeyWithValue("model_id", "ibm/slate-125m-english-rtrvr"))
		})
	})
})

var _ = Describe("Prompt formatters", func() {
	messages := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "Hi"),
		llm.NewTextMessage(llm.RoleAssistant, "Hello"),
		llm.NewTextMessage(llm.RoleUser, "Bye"),
	}

	It("tags and joins with the plain formatter", func() {
		f := watsonx.PlainFormatter{System: "<s>", User: "<u>", Assistant: "<a>", EndOf: "</>", Joiner: " "}
		Expect(f.Format("sys", messages)).To(Equal("<s>sys</> <u>Hi</> <a>Hello</> <u>Bye</>"))
	})

	It("renders the Llama 3.1 template with an open assistant header", func() {
		out := watsonx.Llama31Formatter{}.Format("sys", messages)
		Expect(out).To(HavePrefix("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\nsys<|eot_id|>"))
		Expect(out).To(HaveSuffix("Bye<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n"))
	})

	It("leaves the prompt closed when the assistant spoke last", func() {
		out := watsonx.Llama31Formatter{}.Format("", messages[:2])
		Expect(out).To(HaveSuffix("Hello<|eot_id|>"))
	})

	It("looks formatters up by name", func() {
		Expect(watsonx.FormatterByName("llama3.1")).To(Equal(watsonx.Llama31Formatter{}))
		Expect(watsonx.FormatterByName("unknown")).To(Equal(watsonx.DefaultFormatter))
	})
})
