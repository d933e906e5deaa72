package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestDecodeJob(t *testing.T) {
	value := []byte(`{"event_id":"evt_1","account_id":"acct_1","event_type":"payout.paid","payload":{"id":"evt_1"}}`)
	job, err := DecodeJob(value)
	if err != nil {
		t.Fatalf("DecodeJob failed: %v", err)
	}
	if job.EventID != "evt_1" || job.AccountID != "acct_1" || job.EventType != "payout.paid" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Payload) == 0 {
		t.Fatal("payload should be carried through")
	}
}

func TestDecodeJob_RejectsMalformed(t *testing.T) {
	if _, err := DecodeJob([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed value")
	}
}

func TestDecodeJob_RequiresIDAndType(t *testing.T) {
	if _, err := DecodeJob([]byte(`{"event_id":"evt_1"}`)); err == nil {
		t.Fatal("expected error for missing event_type")
	}
	if _, err := DecodeJob([]byte(`{"event_type":"invoice.paid"}`)); err == nil {
		t.Fatal("expected error for missing event_id")
	}
}

// fakeReader scripts a partition: Run fetches the messages in order, and
// once they are exhausted the fake cancels the context so Run returns.
type fakeReader struct {
	msgs    []kafka.Message
	next    int
	commits []int64
	cancel  context.CancelFunc
	closed  bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if r.next >= len(r.msgs) {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := r.msgs[r.next]
	r.next++
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func jobValue(eventID, eventType string) []byte {
	return []byte(fmt.Sprintf(`{"event_id":%q,"event_type":%q,"payload":{"id":%q}}`, eventID, eventType, eventID))
}

func testConsumer(reader *fakeReader, handler Handler) *Consumer {
	return &Consumer{
		reader:  reader,
		logger:  slog.Default(),
		handler: handler,
		backoff: time.Millisecond,
	}
}

func TestRun_RetriesFailedDispatchBeforeCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Topic: "webhook.dispatch", Offset: 5, Value: jobValue("evt_a", "invoice.paid")},
			{Topic: "webhook.dispatch", Offset: 6, Value: jobValue("evt_b", "invoice.paid")},
		},
	}
	attempts := map[string]int{}
	handler := func(_ context.Context, job JobMessage) error {
		attempts[job.EventID]++
		if job.EventID == "evt_a" && attempts["evt_a"] < 3 {
			return errors.New("listener down")
		}
		return nil
	}

	testConsumer(reader, handler).Run(ctx)

	if attempts["evt_a"] != 3 {
		t.Fatalf("expected evt_a to be attempted 3 times, got %d", attempts["evt_a"])
	}
	if attempts["evt_b"] != 1 {
		t.Fatalf("expected evt_b to be attempted once, got %d", attempts["evt_b"])
	}
	if len(reader.commits) != 2 || reader.commits[0] != 5 || reader.commits[1] != 6 {
		t.Fatalf("expected offsets [5 6] committed in order, got %v", reader.commits)
	}
	if !reader.closed {
		t.Fatal("reader should be closed when Run returns")
	}
}

func TestRun_CancelLeavesFailedOffsetUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Topic: "webhook.dispatch", Offset: 9, Value: jobValue("evt_a", "invoice.paid")},
		},
	}
	attempts := 0
	handler := func(_ context.Context, _ JobMessage) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("listener down")
	}

	testConsumer(reader, handler).Run(ctx)

	if attempts != 2 {
		t.Fatalf("expected 2 attempts before cancellation, got %d", attempts)
	}
	if len(reader.commits) != 0 {
		t.Fatalf("failed job must not be committed, got %v", reader.commits)
	}
}

func TestRun_CommitsPastMalformedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Topic: "webhook.dispatch", Offset: 3, Value: []byte(`not json`)},
			{Topic: "webhook.dispatch", Offset: 4, Value: jobValue("evt_b", "invoice.paid")},
		},
	}
	handled := []string{}
	handler := func(_ context.Context, job JobMessage) error {
		handled = append(handled, job.EventID)
		return nil
	}

	testConsumer(reader, handler).Run(ctx)

	if len(handled) != 1 || handled[0] != "evt_b" {
		t.Fatalf("expected only evt_b handled, got %v", handled)
	}
	if len(reader.commits) != 2 || reader.commits[0] != 3 || reader.commits[1] != 4 {
		t.Fatalf("expected offsets [3 4] committed, got %v", reader.commits)
	}
}
