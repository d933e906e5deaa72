package receive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/event"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/outbox"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/routing"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
)

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertEvent(ctx context.Context, tx pgx.Tx, rec storage.EventRecord) error
}

type Enqueuer interface {
	Insert(ctx context.Context, tx pgx.Tx, job outbox.Job) error
}

// Receiver is the synchronous ingestion entry point. It persists a
// newly-seen event and stages exactly one dispatch job, both in one
// transaction, then returns so the HTTP layer can acknowledge immediately.
type Receiver struct {
	store  Store
	jobs   Enqueuer
	routes *routing.Config
	logger *slog.Logger
}

func New(store Store, jobs Enqueuer, routes *routing.Config, logger *slog.Logger) *Receiver {
	return &Receiver{
		store:  store,
		jobs:   jobs,
		routes: routes,
		logger: logger,
	}
}

// Receive returns (false, nil) for a duplicate delivery: already-processed
// is success from the provider's point of view, and no second job may be
// staged. Any other persistence failure propagates so the HTTP layer answers
// with a retryable status.
func (rc *Receiver) Receive(ctx context.Context, evt event.Event) (accepted bool, err error) {
	tx, err := rc.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin receive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = rc.store.InsertEvent(ctx, tx, storage.EventRecord{
		ID:        evt.ID,
		AccountID: evt.AccountID,
		EventType: evt.Type,
		Payload:   evt.Payload,
	})
	if errors.Is(err, storage.ErrDuplicateEvent) {
		rc.logger.Info("duplicate webhook event ignored",
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("persist webhook event %s: %w", evt.ID, err)
	}

	settings := rc.routes.Resolve(evt.Type, evt.ConnectScoped())
	if err := rc.jobs.Insert(ctx, tx, outbox.Job{
		EventID:    evt.ID,
		AccountID:  evt.AccountID,
		EventType:  evt.Type,
		Payload:    evt.Payload,
		Connection: settings.Connection,
		Queue:      settings.Queue,
		JobName:    settings.Job,
	}); err != nil {
		return false, fmt.Errorf("stage dispatch job for %s: %w", evt.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit receive tx: %w", err)
	}

	rc.logger.Info("webhook event received",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"connect_scoped", evt.ConnectScoped(),
		"queue", settings.Queue,
		"connection", settings.Connection,
	)
	return true, nil
}

// Replay re-stages a dispatch job for an already-stored event, bypassing
// duplicate detection. Used by the admin replay endpoint to reconcile events
// whose dispatch never completed.
func (rc *Receiver) Replay(ctx context.Context, rec storage.EventRecord) error {
	tx, err := rc.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replay tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	settings := rc.routes.Resolve(rec.EventType, rec.AccountID != "")
	if err := rc.jobs.Insert(ctx, tx, outbox.Job{
		EventID:    rec.ID,
		AccountID:  rec.AccountID,
		EventType:  rec.EventType,
		Payload:    rec.Payload,
		Connection: settings.Connection,
		Queue:      settings.Queue,
		JobName:    settings.Job,
	}); err != nil {
		return fmt.Errorf("stage replay job for %s: %w", rec.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replay tx: %w", err)
	}

	rc.logger.Info("webhook event replayed", "event_id", rec.ID, "event_type", rec.EventType)
	return nil
}
