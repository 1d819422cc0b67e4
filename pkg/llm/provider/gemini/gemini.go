// Package gemini is a client for Google's Gemini models, served either by
// Google AI Studio (API key) or by Vertex AI (OAuth2 bearer token).
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/restclient"
	"github.com/papercomputeco/llmkit/pkg/sse"
)

const (
	providerName = "gemini"

	DefaultAIStudioURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultLocation       = "us-central1"
)

// Config configures the Gemini client. Setting ProjectID selects Vertex AI;
// otherwise APIKey is used against AI Studio.
type Config struct {
	BaseURL string
	APIKey  string

	// Vertex AI settings. AccessToken is used as a static bearer token when
	// TokenSource is nil.
	ProjectID   string
	Location    string
	AccessToken string
	TokenSource oauth2.TokenSource

	Model          string
	EmbeddingModel string
	Timeout        time.Duration

	LogRequests  bool
	LogResponses bool

	HTTPClient *http.Client
}

// Error wraps a Google API error: {"error": {"code", "message", "status"}}.
type Error struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gemini: status %d: %s: %s", e.StatusCode, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return llm.ErrProvider
}

// Provider is a Gemini chat and embedding client.
type Provider struct {
	cfg    Config
	vertex bool
	rest   *restclient.Client
	logger *slog.Logger
}

// New creates a Gemini client.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	vertex := cfg.ProjectID != ""
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", providerName)

	restCfg := restclient.Config{
		Timeout:      cfg.Timeout,
		DecodeError:  decodeError,
		LogRequests:  cfg.LogRequests,
		LogResponses: cfg.LogResponses,
		HTTPClient:   cfg.HTTPClient,
	}

	if vertex {
		if cfg.Location == "" {
			cfg.Location = DefaultLocation
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", cfg.Location)
		}
		ts := cfg.TokenSource
		if ts == nil {
			if cfg.AccessToken == "" {
				return nil, errors.New("gemini: vertex requires an access token or token source")
			}
			ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		}
		restCfg.BaseURL = fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google",
			strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.ProjectID), url.PathEscape(cfg.Location))
		restCfg.HeaderFunc = func(_ context.Context, h http.Header) error {
			tok, err := ts.Token()
			if err != nil {
				return fmt.Errorf("gemini: obtaining token: %w", err)
			}
			h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
			return nil
		}
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("gemini: api key is required")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultAIStudioURL
		}
		restCfg.BaseURL = cfg.BaseURL
		restCfg.Headers = map[string]string{"X-Goog-Api-Key": cfg.APIKey}
		log.Debug("using api key", "api_key", logger.Mask(cfg.APIKey))
	}

	return &Provider{
		cfg:    cfg,
		vertex: vertex,
		rest:   restclient.New(restCfg, log),
		logger: log,
	}, nil
}

// Name returns "gemini".
func (p *Provider) Name() string {
	return providerName
}

// Chat calls models/{model}:generateContent.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := p.rest.DoJSON(ctx, http.MethodPost, p.modelPath(req.Model, "generateContent"), body, &resp); err != nil {
		return nil, err
	}

	b := &responseBuilder{}
	b.append(&resp)
	return b.build(), nil
}

// Stream calls models/{model}:streamGenerateContent with alt=sse.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	body, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.rest.Stream(ctx, http.MethodPost, p.modelPath(req.Model, "streamGenerateContent")+"?alt=sse", body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b := &responseBuilder{}
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading gemini stream: %w", err)
		}
		if ev == nil {
			break
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding gemini stream event: %w", err)
		}

		text, calls := b.append(&chunk)
		if text != "" {
			if err := handler(&llm.StreamChunk{Model: b.model, Text: text}); err != nil {
				return nil, err
			}
		}
		for i := range calls {
			if err := handler(&llm.StreamChunk{Model: b.model, ToolCall: &calls[i], Index: calls[i].Index}); err != nil {
				return nil, err
			}
		}
	}

	out := b.build()
	if err := handler(&llm.StreamChunk{Model: out.Model, Done: true, StopReason: out.StopReason, Usage: out.Usage}); err != nil {
		return nil, err
	}
	return out, nil
}

// Embed embeds one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.vertex {
		out, err := p.EmbedAll(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return out[0], nil
	}

	var resp embedResponse
	body := embedRequest{Content: content{Parts: []part{{Text: text}}}}
	if err := p.rest.DoJSON(ctx, http.MethodPost, p.modelPath(p.cfg.EmbeddingModel, "embedContent"), body, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding.Values, nil
}

// EmbedAll embeds texts with batchEmbedContents (AI Studio) or predict
// (Vertex).
func (p *Provider) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	if p.vertex {
		body := predictRequest{Instances: make([]predictInstance, len(texts))}
		for i, t := range texts {
			body.Instances[i] = predictInstance{Content: t}
		}
		var resp predictResponse
		if err := p.rest.DoJSON(ctx, http.MethodPost, p.modelPath(p.cfg.EmbeddingModel, "predict"), body, &resp); err != nil {
			return nil, err
		}
		for _, pred := range resp.Predictions {
			out = append(out, pred.Embeddings.Values)
		}
	} else {
		model := "models/" + p.cfg.EmbeddingModel
		body := batchEmbedRequest{Requests: make([]embedRequest, len(texts))}
		for i, t := range texts {
			body.Requests[i] = embedRequest{Model: model, Content: content{Parts: []part{{Text: t}}}}
		}
		var resp batchEmbedResponse
		if err := p.rest.DoJSON(ctx, http.MethodPost, p.modelPath(p.cfg.EmbeddingModel, "batchEmbedContents"), body, &resp); err != nil {
			return nil, err
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(out))
	}
	return out, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) modelPath(model, method string) string {
	if model == "" {
		model = p.cfg.Model
	}
	return "/models/" + url.PathEscape(model) + ":" + method
}

func buildRequest(req *llm.ChatRequest) (*generateRequest, error) {
	body := &generateRequest{
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
			Seed:            req.Seed,
		},
	}

	var system []part
	if req.System != "" {
		system = append(system, part{Text: req.System})
	}

	toolNames := map[string]string{}
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, part{Text: m.GetText()})
			continue
		}

		c := content{Role: "user"}
		if m.Role == llm.RoleAssistant {
			c.Role = "model"
		}

		for _, block := range m.Content {
			switch block.Type {
			case llm.BlockText:
				c.Parts = append(c.Parts, part{Text: block.Text})
			case llm.BlockImage:
				switch {
				case block.ImageBase64 != "":
					c.Parts = append(c.Parts, part{InlineData: &blob{MimeType: block.MediaType, Data: block.ImageBase64}})
				case block.ImageURL != "":
					c.Parts = append(c.Parts, part{FileData: &fileData{MimeType: block.MediaType, FileURI: block.ImageURL}})
				}
			case llm.BlockToolUse:
				toolNames[block.ToolUseID] = block.ToolName
				c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: block.ToolName, Args: block.ToolInput}})
			case llm.BlockToolResult:
				name := toolNames[block.ToolResultID]
				if name == "" {
					name = block.ToolResultID
				}
				c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{
					Name:     name,
					Response: map[string]any{"name": name, "content": block.ToolOutput},
				}})
			case llm.BlockThinking:
			default:
				return nil, fmt.Errorf("gemini: %s content: %w", block.Type, llm.ErrUnsupported)
			}
		}
		if len(c.Parts) > 0 {
			body.Contents = append(body.Contents, c)
		}
	}

	if len(system) > 0 {
		body.SystemInstruction = &content{Parts: system}
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		body.Tools = []tool{{FunctionDeclarations: decls}}
	}
	return body, nil
}

// responseBuilder accumulates candidate parts across one or more responses.
type responseBuilder struct {
	id     string
	model  string
	text   strings.Builder
	calls  []llm.ContentBlock
	finish string
	usage  *llm.Usage
}

// append folds one response into the builder and returns its text and tool
// calls.
func (b *responseBuilder) append(resp *generateResponse) (string, []llm.ToolCall) {
	if resp.ResponseID != "" {
		b.id = resp.ResponseID
	}
	if resp.ModelVersion != "" {
		b.model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		b.usage = llm.NewUsage(resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
		b.usage.TotalTokens = resp.UsageMetadata.TotalTokenCount
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		b.finish = candidate.FinishReason
	}
	if candidate.Content == nil {
		return "", nil
	}

	var texts []string
	var calls []llm.ToolCall
	for _, pt := range candidate.Content.Parts {
		if pt.Text != "" && !pt.Thought {
			texts = append(texts, pt.Text)
		}
		if pt.FunctionCall != nil {
			idx := len(b.calls)
			call := llm.ToolCall{
				Index:     idx,
				ID:        fmt.Sprintf("call_%d", idx),
				Name:      pt.FunctionCall.Name,
				Arguments: llm.EncodeArguments(pt.FunctionCall.Args),
			}
			calls = append(calls, call)
			b.calls = append(b.calls, llm.ContentBlock{
				Type:      llm.BlockToolUse,
				ToolUseID: call.ID,
				ToolName:  call.Name,
				ToolInput: pt.FunctionCall.Args,
			})
		}
	}

	text := strings.Join(texts, "\n\n")
	b.text.WriteString(text)
	return text, calls
}

func (b *responseBuilder) build() *llm.ChatResponse {
	var blocks []llm.ContentBlock
	if b.text.Len() > 0 {
		blocks = append(blocks, llm.ContentBlock{Type: llm.BlockText, Text: b.text.String()})
	}
	blocks = append(blocks, b.calls...)

	finish := FinishReason(b.finish)
	if len(b.calls) > 0 {
		finish = llm.FinishToolExecution
	}

	return &llm.ChatResponse{
		Model:        b.model,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: blocks},
		Done:         true,
		StopReason:   b.finish,
		FinishReason: finish,
		Usage:        b.usage,
		Extra:        map[string]any{"id": b.id},
	}
}

// FinishReason maps a Gemini finishReason.
func FinishReason(reason string) llm.FinishReason {
	switch reason {
	case "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return llm.FinishContentFilter
	default:
		return llm.FinishOther
	}
}

func decodeError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return &Error{StatusCode: status, Status: env.Error.Status, Message: env.Error.Message}
	}

	// Vertex sometimes wraps the error in a one-element array.
	var list []errorEnvelope
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 && list[0].Error != nil {
		return &Error{StatusCode: status, Status: list[0].Error.Status, Message: list[0].Error.Message}
	}
	return &llm.HTTPError{Provider: providerName, StatusCode: status, Body: string(body)}
}
