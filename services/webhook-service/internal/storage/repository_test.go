package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execTx embeds pgx.Tx so only Exec needs a stub.
type execTx struct {
	pgx.Tx
	tag  pgconn.CommandTag
	args []any
}

func (t *execTx) Exec(_ context.Context, _ string, arguments ...any) (pgconn.CommandTag, error) {
	t.args = arguments
	return t.tag, nil
}

func TestInsertEvent_StoresPayloadVerbatim(t *testing.T) {
	// Key order and whitespace must survive storage untouched.
	payload := []byte(`{"z": 1, "a": {"nested" :true}}`)
	tx := &execTx{tag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewRepository(nil)

	rec := EventRecord{ID: "evt_1", EventType: "invoice.paid", Payload: payload}
	if err := repo.InsertEvent(context.Background(), tx, rec); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	if len(tx.args) != 4 {
		t.Fatalf("expected 4 insert arguments, got %d", len(tx.args))
	}
	raw, ok := tx.args[3].(json.RawMessage)
	if !ok {
		t.Fatalf("payload argument should be json.RawMessage, got %T", tx.args[3])
	}
	if string(raw) != string(payload) {
		t.Fatalf("payload was not passed through verbatim: %s", raw)
	}
}

func TestInsertEvent_DuplicateID(t *testing.T) {
	tx := &execTx{tag: pgconn.NewCommandTag("INSERT 0 0")}
	repo := NewRepository(nil)

	rec := EventRecord{ID: "evt_1", EventType: "invoice.paid", Payload: []byte(`{}`)}
	err := repo.InsertEvent(context.Background(), tx, rec)
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent when no row was inserted, got %v", err)
	}
}

func TestInsertEvent_NullsEmptyAccount(t *testing.T) {
	tx := &execTx{tag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewRepository(nil)

	rec := EventRecord{ID: "evt_1", EventType: "invoice.paid", Payload: []byte(`{}`)}
	if err := repo.InsertEvent(context.Background(), tx, rec); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if tx.args[1] != nil {
		t.Fatalf("empty account id should be stored as NULL, got %v", tx.args[1])
	}

	tx2 := &execTx{tag: pgconn.NewCommandTag("INSERT 0 1")}
	rec.AccountID = "acct_1"
	if err := repo.InsertEvent(context.Background(), tx2, rec); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if tx2.args[1] != "acct_1" {
		t.Fatalf("account id should be passed through, got %v", tx2.args[1])
	}
}
