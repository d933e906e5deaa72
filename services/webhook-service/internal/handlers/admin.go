package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
)

type EventStore interface {
	GetEvent(ctx context.Context, id string) (storage.EventRecord, bool, error)
	ListRecent(ctx context.Context, limit int) ([]storage.EventRecord, error)
}

type Replayer interface {
	Replay(ctx context.Context, rec storage.EventRecord) error
}

type eventSummary struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListEvents returns recent stored events, newest first. An updated_at equal
// to created_at means the event was received but its dispatch never
// completed; this is the reconciliation signal the replay endpoint acts on.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	out := make([]eventSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, eventSummary{
			ID:        rec.ID,
			AccountID: rec.AccountID,
			EventType: rec.EventType,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// ReplayEvent re-enqueues the dispatch job for the stored event named by the
// {id} path segment.
func (h *Handler) ReplayEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "event id is required", http.StatusBadRequest)
		return
	}

	rec, ok, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load event", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	if err := h.replayer.Replay(r.Context(), rec); err != nil {
		http.Error(w, "failed to replay event", http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook event replay requested", "event_id", rec.ID, "event_type", rec.EventType)
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "event_id": rec.ID})
}
