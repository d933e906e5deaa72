package routing

import (
	"sort"
	"testing"
)

func testConfig() Config {
	return Config{
		DefaultConnection: "kafka",
		DefaultQueue:      "webhook.dispatch",
		Connections: map[string][]string{
			"kafka":    {"kafka-1:9092"},
			"payments": {"kafka-pay-1:9092", "kafka-pay-2:9092"},
		},
		Account: map[string]Override{
			"payment_intent_succeeded": {Connection: "payments", Queue: "payments.webhooks", Job: "settle"},
			"invoice_payment_failed":   {Queue: "billing.webhooks"},
		},
		Connect: map[string]Override{
			"payment_intent_succeeded": {Queue: "connect.payments"},
		},
	}
}

func TestResolve_DefaultFallback(t *testing.T) {
	cfg := testConfig()
	got := cfg.Resolve("unknown.type", false)
	if got.Connection != "kafka" || got.Queue != "webhook.dispatch" {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if got.Job != "" {
		t.Fatalf("expected empty job for unconfigured type, got %q", got.Job)
	}
}

func TestResolve_FullOverride(t *testing.T) {
	cfg := testConfig()
	got := cfg.Resolve("payment_intent.succeeded", false)
	want := QueueSettings{Connection: "payments", Queue: "payments.webhooks", Job: "settle"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestResolve_PartialOverrideFallsBackPerField(t *testing.T) {
	cfg := testConfig()
	got := cfg.Resolve("invoice.payment_failed", false)
	if got.Connection != "kafka" {
		t.Fatalf("expected default connection, got %q", got.Connection)
	}
	if got.Queue != "billing.webhooks" {
		t.Fatalf("expected override queue, got %q", got.Queue)
	}
}

func TestResolve_ScopeSeparation(t *testing.T) {
	cfg := testConfig()
	platform := cfg.Resolve("payment_intent.succeeded", false)
	connect := cfg.Resolve("payment_intent.succeeded", true)
	if platform.Queue != "payments.webhooks" {
		t.Fatalf("platform scope resolved %q", platform.Queue)
	}
	if connect.Queue != "connect.payments" {
		t.Fatalf("connect scope resolved %q", connect.Queue)
	}
	if connect.Connection != "kafka" {
		t.Fatalf("connect scope should fall back to default connection, got %q", connect.Connection)
	}
}

func TestKey(t *testing.T) {
	if got := Key("payment_intent.succeeded"); got != "payment_intent_succeeded" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("ping"); got != "ping" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestValidate_MissingDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultConnection = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing default_connection")
	}

	cfg = testConfig()
	cfg.DefaultQueue = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing default_queue")
	}
}

func TestValidate_UnknownConnectionReference(t *testing.T) {
	cfg := testConfig()
	cfg.Account["charge_refunded"] = Override{Connection: "nope"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for override referencing unknown connection")
	}
}

func TestValidate_EmptyBrokers(t *testing.T) {
	cfg := testConfig()
	cfg.Connections["empty"] = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for connection without brokers")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	data := []byte(`{
		"default_connection": "kafka",
		"default_queue": "webhook.dispatch",
		"connections": {"kafka": ["localhost:9092"]},
		"account": {"invoice_payment_failed": {"queue": "billing.webhooks"}}
	}`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := cfg.Resolve("invoice.payment_failed", false).Queue; got != "billing.webhooks" {
		t.Fatalf("unexpected queue %q", got)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	if _, err := Parse([]byte(`{"default_queue": "q"}`)); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestQueues_CoversEveryRoutedQueue(t *testing.T) {
	cfg := testConfig()
	queues := cfg.Queues()

	kafka := queues["kafka"]
	sort.Strings(kafka)
	want := []string{"billing.webhooks", "connect.payments", "webhook.dispatch"}
	if len(kafka) != len(want) {
		t.Fatalf("expected %v on default connection, got %v", want, kafka)
	}
	for i := range want {
		if kafka[i] != want[i] {
			t.Fatalf("expected %v on default connection, got %v", want, kafka)
		}
	}

	if len(queues["payments"]) != 1 || queues["payments"][0] != "payments.webhooks" {
		t.Fatalf("unexpected payments queues: %v", queues["payments"])
	}
}
