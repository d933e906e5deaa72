// Package consumer reads dispatch jobs from Kafka and hands them to a
// dispatch handler with manual offset commits.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianpay/webhooks/libs/kafkax"
)

// JobMessage is the queue envelope staged by the receiver and published by
// the outbox publisher.
type JobMessage struct {
	EventID   string          `json:"event_id"`
	AccountID string          `json:"account_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Handler processes one dispatch job. A nil return marks the job done.
type Handler func(ctx context.Context, job JobMessage) error

// messageReader is the slice of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs a Kafka consumer group over the configured dispatch topics.
// An offset commits only after its job is handled: a failed dispatch is
// retried in place with backoff, blocking its partition until it succeeds,
// because committing any later offset would mark the failed one consumed.
// Malformed job values can never succeed and are committed past.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler Handler
	backoff time.Duration
}

// Config carries the Kafka consumer settings for one queue connection.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
	Backoff time.Duration
}

func New(logger *slog.Logger, cfg Config, handler Handler) *Consumer {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger,
		handler: handler,
		backoff: cfg.Backoff,
	}
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(time.Second)
			continue
		}

		meta := kafkax.ExtractEventMeta(msg)
		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("webhook-service").Start(ctxMsg, "webhook.dispatch",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.kafka.topic", msg.Topic),
				attribute.String("webhook.event_id", meta.EventID),
			),
		)

		job, err := DecodeJob(msg.Value)
		if err != nil {
			c.logger.Error("malformed dispatch job, skipping",
				"err", err, "topic", msg.Topic, "event_id", meta.EventID, "job", meta.Job)
			span.RecordError(err)
			span.End()
			c.commit(ctx, msg)
			continue
		}

		if !c.dispatchWithRetry(ctxSpan, span, job) {
			// ctx canceled mid-retry; the offset stays uncommitted so the
			// job is redelivered after restart.
			span.End()
			return
		}
		span.End()
		c.commit(ctx, msg)
	}
}

// dispatchWithRetry runs the handler until it succeeds, sleeping between
// attempts. Returns false when ctx is canceled first.
func (c *Consumer) dispatchWithRetry(ctx context.Context, span trace.Span, job JobMessage) bool {
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, job)
		if err == nil {
			return true
		}
		c.logger.Error("dispatch failed, retrying",
			"err", err, "event_id", job.EventID, "event_type", job.EventType, "attempt", attempt)
		span.RecordError(err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
	}
}

// DecodeJob parses a queue envelope, requiring the fields dispatch needs.
func DecodeJob(value []byte) (JobMessage, error) {
	var job JobMessage
	if err := json.Unmarshal(value, &job); err != nil {
		return JobMessage{}, err
	}
	if job.EventID == "" {
		return JobMessage{}, errors.New("dispatch job missing event_id")
	}
	if job.EventType == "" {
		return JobMessage{}, errors.New("dispatch job missing event_type")
	}
	return job, nil
}
