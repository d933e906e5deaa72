package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridianpay/webhooks/libs/db"
	otelx "github.com/meridianpay/webhooks/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stages a dispatch job in the same transaction that persisted the
// event record, so persistence and enqueue commit or fail as one unit.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO webhook_outbox (event_id, account_id, event_type, payload, connection, queue, job, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.EventID, job.AccountID, job.EventType, job.Payload, job.Connection, job.Queue, job.JobName, traceparent, tracestate)
	return err
}

type Record struct {
	ID          int64
	EventID     string
	AccountID   string
	EventType   string
	Payload     []byte
	Connection  string
	Queue       string
	JobName     string
	Traceparent string
	Tracestate  string
	CreatedAt   time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, COALESCE(account_id, ''), event_type, payload, connection, queue, COALESCE(job, ''), traceparent, tracestate, created_at
		FROM webhook_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AccountID, &rcd.EventType, &rcd.Payload, &rcd.Connection, &rcd.Queue, &rcd.JobName, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE webhook_outbox
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
