package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianpay/webhooks/libs/db"
	"github.com/meridianpay/webhooks/libs/kafkax"
	otelx "github.com/meridianpay/webhooks/libs/otel"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/routing"
	"github.com/segmentio/kafka-go"
)

// Publisher relays staged jobs from the outbox table to Kafka. Each job is
// written to the topic named by its queue, on the named connection's brokers.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	writers   map[string]messageWriter
	pollEvery time.Duration
	batchSize int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, routes *routing.Config, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	writers := make(map[string]messageWriter, len(routes.Connections))
	for name, brokers := range routes.Connections {
		writers[name] = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		})
	}

	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		writers:   writers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	defer func() {
		for _, w := range p.writers {
			if closer, ok := w.(*kafka.Writer); ok {
				_ = closer.Close()
			}
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	for _, r := range records {
		writer, ok := p.writers[r.Connection]
		if !ok {
			return fmt.Errorf("outbox record %d references unknown connection %q", r.ID, r.Connection)
		}
		msg, err := buildMessage(r)
		if err != nil {
			return err
		}
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		if err := writer.WriteMessages(ctx, msg); err != nil {
			return err
		}
	}

	var ids []int64
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func buildMessage(r Record) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{
		EventID:   r.EventID,
		AccountID: r.AccountID,
		EventType: r.EventType,
		Payload:   r.Payload,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: r.Queue,
		Key:   []byte(r.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(r.EventID)},
			{Key: "event_type", Value: []byte(r.EventType)},
			{Key: "job", Value: []byte(r.JobName)},
		},
	}, nil
}
