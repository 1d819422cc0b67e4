// Package kafka publishes llmkit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/logger"
)

const (
	DefaultTopic        = "llmkit.events"
	DefaultBatchTimeout = 50 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// ClientID is sent as the message source header.
	ClientID string

	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events as JSON messages keyed by event type. It is safe
// for concurrent use.
type Publisher struct {
	writer   messageWriter
	clientID string
	logger   *slog.Logger
}

// NewPublisher creates a Kafka publisher. Connections are opened lazily on
// the first write.
func NewPublisher(c Config, log *slog.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: c.BatchTimeout,
		WriteTimeout: c.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
	}

	log.Info("kafka event publisher configured", "brokers", c.Brokers, "topic", c.Topic)
	return newPublisher(w, c.ClientID, log), nil
}

func newPublisher(w messageWriter, clientID string, log *slog.Logger) *Publisher {
	return &Publisher{writer: w, clientID: clientID, logger: log.With("component", "eventstream")}
}

// Publish encodes the event and writes it synchronously.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.EventType),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "schema_version", Value: fmt.Appendf(nil, "%d", event.SchemaVersion)},
		},
	}
	if p.clientID != "" {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: "source", Value: []byte(p.clientID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", event.EventType, err)
	}
	p.logger.Debug("published event", "event_type", event.EventType, "event_id", event.EventID)
	return nil
}

// Close flushes pending writes and closes connections.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
