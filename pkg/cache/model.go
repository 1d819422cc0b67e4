package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

// ExtraCacheHit marks responses served from the cache.
const ExtraCacheHit = "cache_hit"

// CachedModel answers from the semantic cache before calling the wrapped
// model, and caches what the model returns. The cache id comes from the
// request context (see WithID).
type CachedModel struct {
	model     provider.Provider
	caches    *Provider
	publisher eventstream.Publisher
	logger    *slog.Logger
}

// NewCachedModel wraps model. publisher may be nil.
func NewCachedModel(model provider.Provider, caches *Provider, publisher eventstream.Publisher, log *slog.Logger) *CachedModel {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedModel{
		model:     model,
		caches:    caches,
		publisher: publisher,
		logger:    log.With("component", "cached_model", "provider", model.Name()),
	}
}

// Name returns the wrapped provider's name.
func (m *CachedModel) Name() string {
	return m.model.Name()
}

// Chat serves req from the cache when possible.
func (m *CachedModel) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return m.run(ctx, req, func() (*llm.ChatResponse, error) {
		return m.model.Chat(ctx, req)
	}, nil)
}

// Stream serves req from the cache as a single final chunk when possible
// and otherwise streams from the model.
func (m *CachedModel) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	return m.run(ctx, req, func() (*llm.ChatResponse, error) {
		return m.model.Stream(ctx, req, handler)
	}, handler)
}

func (m *CachedModel) run(ctx context.Context, req *llm.ChatRequest, call func() (*llm.ChatResponse, error), handler llm.StreamHandler) (*llm.ChatResponse, error) {
	id := IDFrom(ctx)
	c, err := m.caches.Get(id)
	if err != nil {
		return nil, err
	}

	system, user := req.SystemPrompt(), req.LastUserText()
	cached, hit, err := c.Search(ctx, system, user)
	if err != nil {
		// A broken cache must not take the model down with it.
		m.logger.Warn("cache search failed", "cache_id", id, "error", err)
	}

	if hit {
		resp := &llm.ChatResponse{
			Model:        req.Model,
			CreatedAt:    time.Now(),
			Message:      llm.NewTextMessage(llm.RoleAssistant, cached),
			Done:         true,
			FinishReason: llm.FinishStop,
			Extra:        map[string]any{ExtraCacheHit: true},
		}
		if handler != nil {
			if err := handler(&llm.StreamChunk{Model: req.Model, CreatedAt: resp.CreatedAt, Text: cached, Done: true}); err != nil {
				return nil, err
			}
		}
		m.publish(ctx, eventstream.EventTypeCacheHit, id, req, resp)
		return resp, nil
	}

	m.publish(ctx, eventstream.EventTypeCacheMiss, id, req, nil)

	resp, err := call()
	if err != nil {
		return nil, err
	}
	if resp.Message.HasToolCalls() {
		return resp, nil
	}

	if err := c.Add(ctx, system, user, resp.Text()); err != nil {
		if !errors.Is(err, ErrFull) {
			m.logger.Warn("cache add failed", "cache_id", id, "error", err)
		}
		return resp, nil
	}
	m.publish(ctx, eventstream.EventTypeCacheStore, id, req, resp)
	return resp, nil
}

func (m *CachedModel) publish(ctx context.Context, eventType, id string, req *llm.ChatRequest, resp *llm.ChatResponse) {
	if m.publisher == nil {
		return
	}

	event := eventstream.NewEvent(eventType, eventstream.EventSource{
		Component: "cache",
		Provider:  m.model.Name(),
		Model:     req.Model,
	})
	event.Turn = &llm.ConversationTurn{
		Provider: m.model.Name(),
		CacheID:  id,
		CacheHit: eventType == eventstream.EventTypeCacheHit,
		Request:  req,
		Response: resp,
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("publishing cache event failed", "event_type", eventType, "error", err)
	}
}

var _ provider.Provider = (*CachedModel)(nil)
