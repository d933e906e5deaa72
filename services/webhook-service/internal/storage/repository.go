package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridianpay/webhooks/libs/db"
)

// EventRecord is the persisted snapshot of a received webhook event.
// The primary key is the provider-assigned event id, which is what makes
// duplicate deliveries detectable at the storage layer.
type EventRecord struct {
	ID        string
	AccountID string // empty for platform-level events
	EventType string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

var ErrDuplicateEvent = errors.New("duplicate webhook event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// InsertEvent records a newly received event. The insert is atomic with
// respect to concurrent duplicate deliveries: exactly one insert per event id
// succeeds, every other one returns ErrDuplicateEvent. The payload bytes are
// stored verbatim; the jsonb column validates them on insert.
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, rec EventRecord) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (id, account_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, nullIfEmpty(rec.AccountID), rec.EventType, json.RawMessage(rec.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, id string) (EventRecord, bool, error) {
	var rec EventRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(account_id, ''), event_type, payload, created_at, updated_at
		FROM webhook_events
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.AccountID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EventRecord{}, false, nil
		}
		return EventRecord{}, false, err
	}
	return rec, true, nil
}

// Touch bumps updated_at on the stored record. Called only after a dispatch
// fully completed, so an untouched record is the signal that dispatch did not.
func (r *Repository) Touch(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	} else if limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(account_id, ''), event_type, payload, created_at, updated_at
		FROM webhook_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
