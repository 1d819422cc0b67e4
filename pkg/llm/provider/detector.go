package provider

import (
	"strings"
)

// hostMarkers map substrings of a base URL to the provider serving it.
// Checked in order.
var hostMarkers = []struct {
	marker   string
	provider string
}{
	{"api.anthropic.com", Anthropic},
	{"api.openai.com", OpenAI},
	{"api.mistral.ai", Mistral},
	{"bam-api.res.ibm.com", BAM},
	{"ml.cloud.ibm.com", Watsonx},
	{"generativelanguage.googleapis.com", Gemini},
	{"aiplatform.googleapis.com", Gemini},
	{"huggingface.co", HuggingFace},
	{"bedrock-runtime.", Bedrock},
	{":11434", Ollama},
}

// modelPrefixes map model name prefixes to providers when the base URL is
// not conclusive.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude", Anthropic},
	{"anthropic.", Bedrock},
	{"gpt-", OpenAI},
	{"o1", OpenAI},
	{"o3", OpenAI},
	{"text-embedding-", OpenAI},
	{"mistral", Mistral},
	{"mixtral", Mistral},
	{"codestral", Mistral},
	{"gemini", Gemini},
	{"ibm/", Watsonx},
	{"meta-llama/", Watsonx},
	{"llama", Ollama},
	{"qwen", Ollama},
	{"phi", Ollama},
}

// Detect infers the provider type from a base URL and a model name. The URL
// wins over the model. It reports false when neither is recognized.
func Detect(baseURL, model string) (string, bool) {
	u := strings.ToLower(baseURL)
	for _, h := range hostMarkers {
		if u != "" && strings.Contains(u, h.marker) {
			return h.provider, true
		}
	}

	m := strings.ToLower(model)
	for _, p := range modelPrefixes {
		if m != "" && strings.HasPrefix(m, p.prefix) {
			return p.provider, true
		}
	}
	return "", false
}
