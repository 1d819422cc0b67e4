// Package worker provides an asynchronous worker pool that embeds documents
// and adds them to a vector store.
//
// The pool takes ingestion off the API's request path: handlers enqueue a
// job and answer immediately.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/llmkit/pkg/embeddings"
	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/logger"
	"github.com/papercomputeco/llmkit/pkg/vector"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 2 * time.Minute
)

// Job is one document to ingest.
type Job struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Config is the configuration options for the worker pool.
type Config struct {
	// VectorDriver receives the embedded documents.
	VectorDriver vector.Driver

	// Embedder embeds document text.
	Embedder embeddings.SingleEmbedder

	// Publisher receives a document.ingested event per stored document.
	// Optional.
	Publisher eventstream.Publisher

	// VectorStore names the vector backend in published events.
	VectorStore string

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds the embed and store steps of one job.
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool processes ingest jobs asynchronously.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.VectorDriver == nil {
		return nil, errors.New("worker pool requires a vector driver")
	}
	if c.Embedder == nil {
		return nil, errors.New("worker pool requires an embedder")
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
		logger: c.Logger.With("component", "ingest_pool"),
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
		p.logger.Debug("job queued", "document_id", job.ID)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped", "document_id", job.ID)
		return false
	}
}

// Close signals workers to stop and waits for queued jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
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

	if err := Ingest(ctx, p.config, job); err != nil {
		p.logger.Error("document ingest failed", "document_id", job.ID, "error", err)
		return
	}
	p.logger.Info("document ingested", "document_id", job.ID)
}

// Ingest embeds one document, adds it to the vector store and publishes a
// document.ingested event. The pool calls it for every job; the CLI calls
// it directly.
func Ingest(ctx context.Context, c *Config, job Job) error {
	if job.Text == "" {
		return errors.New("document has no text")
	}
	start := time.Now()

	embedding, err := c.Embedder.Embed(ctx, job.Text)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrEmbedding, err)
	}

	doc := vector.Document{
		ID:        job.ID,
		Text:      job.Text,
		Embedding: embedding,
		Metadata:  job.Metadata,
	}
	if err := c.VectorDriver.Add(ctx, []vector.Document{doc}); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}

	if c.Publisher == nil {
		return nil
	}
	event := eventstream.NewEvent(eventstream.EventTypeDocumentIngested, eventstream.EventSource{
		Component: "ingest",
	})
	event.Document = &eventstream.DocumentMeta{
		ID:          job.ID,
		VectorStore: c.VectorStore,
		Chars:       len(job.Text),
		Dimensions:  len(embedding),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err := c.Publisher.Publish(ctx, event); err != nil && c.Logger != nil {
		c.Logger.Warn("publishing ingest event failed", "document_id", job.ID, "error", err)
	}
	return nil
}
