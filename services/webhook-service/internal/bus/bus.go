package bus

import (
	"context"
	"sync"

	"github.com/meridianpay/webhooks/services/webhook-service/internal/accounts"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/event"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/routing"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
)

// Notification is what listeners receive for one dispatched webhook event.
// Listeners subscribed at different topic levels all see the same value.
type Notification struct {
	DeliveryID string // unique per dispatch attempt; repeats on retry carry a new id
	Event      event.Event
	Account    *accounts.Account // nil for platform events and unresolvable accounts
	Record     *storage.EventRecord
	Settings   routing.QueueSettings
}

type Listener func(ctx context.Context, topic string, n Notification) error

// Bus is an in-process topic/listener registry. Publish is synchronous and
// stops at the first listener error; retrying a failed dispatch re-delivers
// to every listener, so listeners must tolerate at-least-once delivery.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Listener
}

func New() *Bus {
	return &Bus{subs: map[string][]Listener{}}
}

func (b *Bus) Subscribe(topic string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], l)
}

// Publish delivers n to every listener of topic, in subscription order.
// A topic with no listeners is not an error.
func (b *Bus) Publish(ctx context.Context, topic string, n Notification) error {
	b.mu.RLock()
	listeners := b.subs[topic]
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l(ctx, topic, n); err != nil {
			return err
		}
	}
	return nil
}
