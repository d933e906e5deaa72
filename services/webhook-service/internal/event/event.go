package event

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v79"
)

// Event is a single verified provider notification. Immutable after construction.
type Event struct {
	ID        string
	Type      string // dot-delimited, e.g. "payment_intent.succeeded"
	AccountID string // connected account id; empty for platform-level events
	Payload   json.RawMessage
}

// FromStripe builds an Event from a signature-verified stripe.Event.
// body is the raw request body; it is kept verbatim as the payload snapshot.
func FromStripe(se stripe.Event, body []byte) Event {
	return Event{
		ID:        se.ID,
		Type:      string(se.Type),
		AccountID: se.Account,
		Payload:   json.RawMessage(body),
	}
}

// TypeRoot returns the first dot-segment of the event type
// ("payment_intent.succeeded" -> "payment_intent").
func (e Event) TypeRoot() string {
	root, _, _ := strings.Cut(e.Type, ".")
	return root
}

// ConnectScoped reports whether the event belongs to a connected account
// rather than the platform account.
func (e Event) ConnectScoped() bool {
	return e.AccountID != ""
}
