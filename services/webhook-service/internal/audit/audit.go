package audit

import (
	"context"
	"log/slog"

	"github.com/meridianpay/webhooks/libs/db"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/bus"
)

// Entry is one audit row written per delivered notification.
type Entry struct {
	Topic      string
	EventID    string
	EventType  string
	AccountID  string
	DeliveryID string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_audit (topic, event_id, event_type, account_id, delivery_id)
		VALUES ($1, $2, $3, $4, $5)
	`, e.Topic, e.EventID, e.EventType, nullIfEmpty(e.AccountID), e.DeliveryID)
	return err
}

// Listener returns a bus listener that records every delivered notification.
// Subscribed at the bare prefixes so it sees each event exactly once per
// dispatch attempt.
func Listener(repo *Repository, logger *slog.Logger) bus.Listener {
	return func(ctx context.Context, topic string, n bus.Notification) error {
		err := repo.Insert(ctx, Entry{
			Topic:      topic,
			EventID:    n.Event.ID,
			EventType:  n.Event.Type,
			AccountID:  n.Event.AccountID,
			DeliveryID: n.DeliveryID,
		})
		if err != nil {
			logger.Error("audit insert failed", "err", err, "event_id", n.Event.ID)
		}
		return err
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
