package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/accounts"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/bus"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/event"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/routing"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
)

// Topic prefixes for the two routing scopes.
const (
	PlatformPrefix = "stripe.webhooks"
	ConnectPrefix  = "stripe.connect.webhooks"
)

// Topics returns the three topic names one event fans out under, coarsest
// first: the bare prefix, prefix:type-root, prefix:full-type.
func Topics(prefix, eventType string) []string {
	root, _, _ := strings.Cut(eventType, ".")
	return []string{
		prefix,
		prefix + ":" + root,
		prefix + ":" + eventType,
	}
}

type AccountResolver interface {
	Find(ctx context.Context, accountID string) (*accounts.Account, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, n bus.Notification) error
}

type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// Dispatcher runs in the worker context and fans one stored event out to
// application listeners. Never called on the request path.
type Dispatcher struct {
	accounts AccountResolver
	bus      Publisher
	store    Toucher
	routes   *routing.Config
	logger   *slog.Logger
}

func New(resolver AccountResolver, publisher Publisher, store Toucher, routes *routing.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		accounts: resolver,
		bus:      publisher,
		store:    store,
		routes:   routes,
		logger:   logger,
	}
}

// Dispatch publishes evt under its three topic names and then, iff every
// publish succeeded and a record was supplied, touches the stored record.
// Any error propagates so the queue worker's retry mechanism re-runs the
// whole dispatch; the touch-after-dispatch ordering keeps that safe.
func (d *Dispatcher) Dispatch(ctx context.Context, evt event.Event, rec *storage.EventRecord) error {
	n := bus.Notification{
		DeliveryID: uuid.NewString(),
		Event:      evt,
		Record:     rec,
	}

	prefix := PlatformPrefix
	if evt.ConnectScoped() {
		prefix = ConnectPrefix
		acct, err := d.accounts.Find(ctx, evt.AccountID)
		if err != nil {
			return fmt.Errorf("resolve account %s: %w", evt.AccountID, err)
		}
		if acct == nil {
			d.logger.Warn("dispatching with unresolved connected account",
				"event_id", evt.ID,
				"account_id", evt.AccountID,
			)
		}
		n.Account = acct
		n.Settings = d.routes.Resolve(evt.Type, true)
	} else {
		n.Settings = d.routes.Resolve(evt.Type, false)
	}

	for _, topic := range Topics(prefix, evt.Type) {
		if err := d.bus.Publish(ctx, topic, n); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}

	if rec != nil {
		if err := d.store.Touch(ctx, rec.ID); err != nil {
			return fmt.Errorf("touch event %s: %w", rec.ID, err)
		}
	}

	d.logger.Info("webhook event dispatched",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"delivery_id", n.DeliveryID,
		"connect_scoped", evt.ConnectScoped(),
	)
	return nil
}
