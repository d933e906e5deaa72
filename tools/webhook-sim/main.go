package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8086"), "webhook-service base url")
		evtType = flag.String("type", getenv("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		account = flag.String("account", getenv("STRIPE_ACCOUNT", ""), "connected account id; empty sends a platform event")
		secret  = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "webhook signing secret (whsec_...)")
		repeat  = flag.Int("repeat", 1, "send the same delivery N times (exercises duplicate detection)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}

	now := time.Now().UTC()
	eventID := "evt_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	payload, err := buildEventJSON(eventID, *evtType, now, *account)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	path := "/webhooks/stripe"
	if strings.TrimSpace(*account) != "" {
		path = "/webhooks/stripe/connect"
	}
	url := strings.TrimRight(*baseURL, "/") + path

	for i := 0; i < *repeat; i++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			fatal(err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", signed.Header)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatal(err.Error())
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		fmt.Printf("delivery=%d status=%d body=%v event_id=%s\n", i+1, resp.StatusCode, body, eventID)
	}
}

func buildEventJSON(eventID, eventType string, t time.Time, account string) ([]byte, error) {
	root, _, _ := strings.Cut(eventType, ".")
	evt := map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":     "obj_sim_123",
				"object": root,
			},
		},
	}
	if strings.TrimSpace(account) != "" {
		evt["account"] = account
	}
	return json.Marshal(evt)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
