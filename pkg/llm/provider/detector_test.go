package provider_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/llm/provider"
)

var _ = Describe("Detect", func() {
	DescribeTable("base URLs",
		func(baseURL, expected string) {
			got, ok := provider.Detect(baseURL, "")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(expected))
		},
		Entry("anthropic", "https://api.anthropic.com/v1", provider.Anthropic),
		Entry("openai", "https://api.openai.com/v1", provider.OpenAI),
		Entry("mistral", "https://api.mistral.ai/v1", provider.Mistral),
		Entry("bam", "https://bam-api.res.ibm.com", provider.BAM),
		Entry("watsonx", "https://us-south.ml.cloud.ibm.com", provider.Watsonx),
		Entry("gemini", "https://generativelanguage.googleapis.com/v1beta", provider.Gemini),
		Entry("vertex", "https://us-central1-aiplatform.googleapis.com/v1", provider.Gemini),
		Entry("huggingface", "https://api-inference.huggingface.co/models/x", provider.HuggingFace),
		Entry("bedrock", "https://bedrock-runtime.eu-west-1.amazonaws.com", provider.Bedrock),
		Entry("ollama", "http://localhost:11434", provider.Ollama),
	)

	DescribeTable("model names",
		func(model, expected string) {
			got, ok := provider.Detect("", model)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(expected))
		},
		Entry("Claude", "claude-3-sonnet-20240229", provider.Anthropic),
		Entry("Bedrock model ids", "anthropic.claude-3-haiku-20240307-v1:0", provider.Bedrock),
		Entry("GPT", "gpt-4o-mini", provider.OpenAI),
		Entry("o1", "o1-preview", provider.OpenAI),
		Entry("Mistral", "mistral-small-latest", provider.Mistral),
		Entry("Gemini", "gemini-1.5-flash", provider.Gemini),
		Entry("IBM", "ibm/granite-13b-chat-v2", provider.Watsonx),
		Entry("Llama", "llama3.2", provider.Ollama),
	)

	It("prefers the base URL over the model", func() {
		got, ok := provider.Detect("http://localhost:11434", "mistral")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(provider.Ollama))
	})

	It("reports unknown inputs", func() {
		_, ok := provider.Detect("http://my-gateway.internal", "house-model")
		Expect(ok).To(BeFalse())
	})
})
