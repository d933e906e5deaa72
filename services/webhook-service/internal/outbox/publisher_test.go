package outbox

import (
	"encoding/json"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	rec := Record{
		ID:        7,
		EventID:   "evt_1",
		AccountID: "acct_1",
		EventType: "payout.paid",
		Payload:   []byte(`{"id":"evt_1"}`),
		Queue:     "connect.payouts",
		JobName:   "settle",
	}

	msg, err := buildMessage(rec)
	if err != nil {
		t.Fatalf("buildMessage failed: %v", err)
	}
	if msg.Topic != "connect.payouts" {
		t.Fatalf("message should go to the record's queue, got %q", msg.Topic)
	}
	if string(msg.Key) != "evt_1" {
		t.Fatalf("key should be the event id, got %q", msg.Key)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_id"] != "evt_1" || headers["event_type"] != "payout.paid" || headers["job"] != "settle" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("value is not an envelope: %v", err)
	}
	if env.EventID != "evt_1" || env.AccountID != "acct_1" {
		t.Fatalf("envelope lost event context: %+v", env)
	}
}
