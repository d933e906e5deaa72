package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/meridianpay/webhooks/services/webhook-service/internal/consumer"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/event"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
)

type RecordLoader interface {
	GetEvent(ctx context.Context, id string) (storage.EventRecord, bool, error)
}

// JobHandler adapts a Dispatcher into the queue consumer's handler: it
// re-hydrates the event and its stored record from the job envelope and runs
// the dispatch. A missing record is tolerated (dispatch proceeds without the
// touch) so a replayed job never wedges the queue.
func JobHandler(store RecordLoader, d *Dispatcher, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, job consumer.JobMessage) error {
		evt := event.Event{
			ID:        job.EventID,
			Type:      job.EventType,
			AccountID: job.AccountID,
			Payload:   json.RawMessage(job.Payload),
		}

		rec, ok, err := store.GetEvent(ctx, job.EventID)
		if err != nil {
			return err
		}
		var recPtr *storage.EventRecord
		if ok {
			recPtr = &rec
		} else {
			logger.Warn("dispatch job has no stored record", "event_id", job.EventID)
		}

		return d.Dispatch(ctx, evt, recPtr)
	}
}
