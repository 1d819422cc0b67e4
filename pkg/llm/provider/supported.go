package provider

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/bam"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/bedrock"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/gemini"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/huggingface"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/mistral"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/ollama"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/openai"
	"github.com/papercomputeco/llmkit/pkg/llm/provider/watsonx"
)

// Supported provider type constants
const (
	Anthropic   = "anthropic"
	OpenAI      = "openai"
	Mistral     = "mistral"
	Ollama      = "ollama"
	BAM         = "bam"
	Watsonx     = "watsonx"
	Gemini      = "gemini"
	HuggingFace = "huggingface"
	Bedrock     = "bedrock"
)

// ProviderConfig is the provider-agnostic configuration New maps onto each
// provider's own Config. Fields a provider has no use for are ignored.
type ProviderConfig struct {
	// Type selects the provider. When empty it is inferred from BaseURL
	// and Model with Detect.
	Type string

	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	// Version is the API version for anthropic, bam and watsonx.
	Version string

	// Organization is the OpenAI organization header.
	Organization string

	// ProjectID, SpaceID and DeploymentID address watsonx resources.
	// ProjectID and Location also select Gemini on Vertex AI.
	ProjectID    string
	SpaceID      string
	DeploymentID string
	Location     string

	// Region is the AWS region for bedrock.
	Region string

	// PromptFormat names the watsonx prompt formatter.
	PromptFormat string

	LogRequests  bool
	LogResponses bool
}

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI, Mistral, Ollama, BAM, Watsonx, Gemini, HuggingFace, Bedrock}
}

// New creates a new Provider instance for the configured provider type.
// Returns an error if the provider type is not recognized.
func New(cfg ProviderConfig, log *slog.Logger) (Provider, error) {
	providerType := cfg.Type
	if providerType == "" {
		detected, ok := Detect(cfg.BaseURL, cfg.Model)
		if !ok {
			return nil, fmt.Errorf("provider type is not set and could not be detected from %q", cfg.BaseURL)
		}
		providerType = detected
	}

	switch providerType {
	case Anthropic:
		return anthropic.New(anthropic.Config{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Version:      cfg.Version,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
		}, log)
	case OpenAI:
		return openai.New(openai.Config{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Organization: cfg.Organization,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
		}, log)
	case Mistral:
		return mistral.New(mistral.Config{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			LogRequests:    cfg.LogRequests,
			LogResponses:   cfg.LogResponses,
		}, log)
	case Ollama:
		return ollama.New(ollama.Config{
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
		}, log), nil
	case BAM:
		return bam.New(bam.Config{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Version:        cfg.Version,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			LogRequests:    cfg.LogRequests,
			LogResponses:   cfg.LogResponses,
		}, log)
	case Watsonx:
		return watsonx.New(watsonx.Config{
			BaseURL:         cfg.BaseURL,
			APIKey:          cfg.APIKey,
			Version:         cfg.Version,
			ProjectID:       cfg.ProjectID,
			SpaceID:         cfg.SpaceID,
			DeploymentID:    cfg.DeploymentID,
			Model:           cfg.Model,
			EmbeddingModel:  cfg.EmbeddingModel,
			Timeout:         cfg.Timeout,
			PromptFormatter: watsonx.FormatterByName(cfg.PromptFormat),
			LogRequests:     cfg.LogRequests,
			LogResponses:    cfg.LogResponses,
		}, log)
	case Gemini:
		// On Vertex AI the configured key is an OAuth access token.
		return gemini.New(gemini.Config{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			AccessToken:    cfg.APIKey,
			ProjectID:      cfg.ProjectID,
			Location:       cfg.Location,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			LogRequests:    cfg.LogRequests,
			LogResponses:   cfg.LogResponses,
		}, log)
	case HuggingFace:
		return huggingface.New(huggingface.Config{
			APIKey:       cfg.APIKey,
			ChatURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
		}, log)
	case Bedrock:
		return bedrock.New(bedrock.Config{
			Region:       cfg.Region,
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			LogRequests:  cfg.LogRequests,
			LogResponses: cfg.LogResponses,
		}, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", providerType, SupportedProviders())
	}
}
