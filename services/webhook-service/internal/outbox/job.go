package outbox

import "encoding/json"

// Job is one queued dispatch of a stored webhook event. Connection and Queue
// are transport routing only; the dispatch logic never reads them.
type Job struct {
	EventID    string
	AccountID  string
	EventType  string
	Payload    []byte
	Connection string
	Queue      string
	JobName    string
}

// Envelope is the wire shape of a job on the queue. AccountID is kept at the
// top level so the worker can route connect-scoped events without digging
// into the provider payload.
type Envelope struct {
	EventID   string          `json:"event_id"`
	AccountID string          `json:"account_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}
