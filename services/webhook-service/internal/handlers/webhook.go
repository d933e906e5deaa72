package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meridianpay/webhooks/services/webhook-service/internal/event"
	"github.com/stripe/stripe-go/v79/webhook"
)

type Receiver interface {
	Receive(ctx context.Context, evt event.Event) (bool, error)
}

type Handler struct {
	receiver       Receiver
	store          EventStore
	replayer       Replayer
	logger         *slog.Logger
	platformSecret string
	connectSecret  string
	tolerance      time.Duration
}

type Config struct {
	PlatformWebhookSecret   string
	ConnectWebhookSecret    string
	WebhookToleranceSeconds int
}

func New(receiver Receiver, store EventStore, replayer Replayer, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.WebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		receiver:       receiver,
		store:          store,
		replayer:       replayer,
		logger:         logger,
		platformSecret: strings.TrimSpace(cfg.PlatformWebhookSecret),
		connectSecret:  strings.TrimSpace(cfg.ConnectWebhookSecret),
		tolerance:      time.Duration(tolSeconds) * time.Second,
	}
}

// StripeWebhook receives platform-account events (no JWT auth; the signature
// verification is the auth). The gateway should expose this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.platformSecret)
}

// StripeConnectWebhook receives connected-account events, signed with the
// separate Connect endpoint secret.
func (h *Handler) StripeConnectWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.connectSecret)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request, secret string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if secret == "" {
		http.Error(w, "webhook endpoint not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	se, err := webhook.ConstructEventWithTolerance(body, sigHeader, secret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evt := event.FromStripe(se, body)
	h.logger.Info("webhook delivery received",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"connect_scoped", evt.ConnectScoped(),
	)

	accepted, err := h.receiver.Receive(r.Context(), evt)
	if err != nil {
		// 5xx so the provider retries the delivery later.
		http.Error(w, "failed to record webhook event", http.StatusInternalServerError)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
