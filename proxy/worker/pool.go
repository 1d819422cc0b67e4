// Package worker provides the asynchronous pool the caching proxy stores
// upstream answers with.
//
// Storing means embedding the prompt, which can take as long as the chat
// itself; the pool keeps it off the client's response path so a cache miss
// costs the client nothing beyond the upstream round trip.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = time.Minute
)

// Job is one upstream answer to cache.
type Job struct {
	CacheID  string
	Provider string
	Model    string
	System   string
	User     string
	Response string
}

// Turn renders the job as the conversation turn carried by cache events.
// Response is left out of misses.
func (j Job) Turn(hit bool) *llm.ConversationTurn {
	req := &llm.ChatRequest{
		Model:    j.Model,
		System:   j.System,
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, j.User)},
	}
	turn := &llm.ConversationTurn{
		Provider: j.Provider,
		CacheID:  j.CacheID,
		CacheHit: hit,
		Request:  req,
	}
	if j.Response != "" {
		turn.Response = &llm.ChatResponse{
			Model:   j.Model,
			Message: llm.NewTextMessage(llm.RoleAssistant, j.Response),
			Done:    true,
		}
	}
	return turn
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Caches receives the answers. Required.
	Caches *cache.Provider

	// Publisher receives a cache store event per stored answer. Optional.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds one store.
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool stores cache jobs asynchronously.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Caches == nil {
		return nil, errors.New("worker pool requires a cache provider")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger.With("component", "proxy_pool"),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "cache_id", job.CacheID, "model", job.Model)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"cache_id", job.CacheID,
			"model", job.Model,
		)
		return false
	}
}

// Close signals workers to stop and waits for queued jobs to drain.
// Call this during graceful shutdown after the proxy HTTP server has stopped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	if err := Store(ctx, p.config, job); err != nil {
		if errors.Is(err, cache.ErrFull) {
			p.logger.Debug("cache full, answer not stored", "cache_id", job.CacheID)
			return
		}
		p.logger.Error("caching answer failed",
			"cache_id", job.CacheID,
			"provider", job.Provider,
			"error", err,
		)
		return
	}
	p.logger.Info("answer cached", "cache_id", job.CacheID, "provider", job.Provider)
}

// Store adds the job's answer to its cache and publishes a cache store
// event. A full cache returns cache.ErrFull and publishes nothing.
func Store(ctx context.Context, c *Config, job Job) error {
	if job.Response == "" {
		return errors.New("empty response")
	}

	ac, err := c.Caches.Get(job.CacheID)
	if err != nil {
		return err
	}
	if err := ac.Add(ctx, job.System, job.User, job.Response); err != nil {
		return err
	}

	Publish(ctx, c.Publisher, eventstream.EventTypeCacheStore, job, c.Logger)
	return nil
}

// Publish sends a cache event for job. A nil publisher is a no-op and
// publish failures are only logged.
func Publish(ctx context.Context, publisher eventstream.Publisher, eventType string, job Job, log *slog.Logger) {
	if publisher == nil {
		return
	}

	event := eventstream.NewEvent(eventType, eventstream.EventSource{
		Component: "proxy",
		Provider:  job.Provider,
		Model:     job.Model,
	})
	event.Turn = job.Turn(eventType == eventstream.EventTypeCacheHit)

	if err := publisher.Publish(ctx, event); err != nil && log != nil {
		log.Warn("publishing cache event failed", "event_type", eventType, "error", err)
	}
}
