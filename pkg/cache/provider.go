package cache

import (
	"context"
	"fmt"
	"sync"
)

// Policy selects the retention policy of the caches a Provider builds.
type Policy string

const (
	PolicyFixed         Policy = "fixed"
	PolicyMessageWindow Policy = "message_window"
)

// Provider lazily builds one cache per id from a shared configuration.
type Provider struct {
	template Config
	policy   Policy

	mu     sync.Mutex
	caches map[string]AiCache
}

// NewProvider validates the template and returns a Provider. The template's
// ID is ignored.
func NewProvider(template Config, policy Policy) (*Provider, error) {
	switch policy {
	case "":
		policy = PolicyMessageWindow
	case PolicyFixed, PolicyMessageWindow:
	default:
		return nil, fmt.Errorf("unknown cache policy %q", policy)
	}

	check := template
	if err := check.validate(); err != nil {
		return nil, err
	}

	return &Provider{
		template: template,
		policy:   policy,
		caches:   make(map[string]AiCache),
	}, nil
}

// Get returns the cache for id, creating it on first use. An empty id is
// DefaultID.
func (p *Provider) Get(id string) (AiCache, error) {
	if id == "" {
		id = DefaultID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.caches[id]; ok {
		return c, nil
	}

	cfg := p.template
	cfg.ID = id

	var (
		c   AiCache
		err error
	)
	switch p.policy {
	case PolicyFixed:
		c, err = NewFixed(cfg)
	default:
		c, err = NewMessageWindow(cfg)
	}
	if err != nil {
		return nil, err
	}
	p.caches[id] = c
	return c, nil
}

// Clear removes every record stored under id.
func (p *Provider) Clear(ctx context.Context, id string) error {
	c, err := p.Get(id)
	if err != nil {
		return err
	}
	return c.Clear(ctx)
}

// Close closes the shared store.
func (p *Provider) Close() error {
	return p.template.Store.Close()
}

type idKey struct{}

// WithID returns a context that routes CachedModel calls to the cache id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// IDFrom returns the cache id carried by ctx, or DefaultID.
func IDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(idKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultID
}
