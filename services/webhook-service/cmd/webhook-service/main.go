package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/meridianpay/webhooks/libs/config"
	"github.com/meridianpay/webhooks/libs/db"
	"github.com/meridianpay/webhooks/libs/httpx"
	"github.com/meridianpay/webhooks/libs/kafkax"
	otelx "github.com/meridianpay/webhooks/libs/otel"
	"github.com/meridianpay/webhooks/libs/runtime"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/accounts"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/audit"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/bus"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/consumer"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/dispatch"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/handlers"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/outbox"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/receive"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/routing"
	"github.com/meridianpay/webhooks/services/webhook-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "webhook-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	routes, err := loadRoutes()
	if err != nil {
		logger.Error("routing config invalid", "err", err)
		panic(err)
	}

	eventRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	accountRepo := accounts.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)

	receiver := receive.New(eventRepo, outboxRepo, &routes, logger)

	appBus := bus.New()
	appBus.Subscribe(dispatch.PlatformPrefix, audit.Listener(auditRepo, logger))
	appBus.Subscribe(dispatch.ConnectPrefix, audit.Listener(auditRepo, logger))

	dispatcher := dispatch.New(accountRepo, appBus, eventRepo, &routes, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, &routes, logger, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "webhook-dispatch")
	handler := dispatch.JobHandler(eventRepo, dispatcher, logger)
	for connection, topics := range routes.Queues() {
		c := consumer.New(logger, consumer.Config{
			Brokers: routes.Brokers(connection),
			GroupID: groupID,
			Topics:  topics,
			Backoff: config.Duration("DISPATCH_RETRY_BACKOFF", 5*time.Second),
		}, handler)
		go c.Run(ctx)
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(strings.Join(routes.Brokers(routes.DefaultConnection), ","))},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	h := handlers.New(receiver, eventRepo, receiver, logger, handlers.Config{
		PlatformWebhookSecret:   config.String("STRIPE_WEBHOOK_SECRET", ""),
		ConnectWebhookSecret:    config.String("STRIPE_CONNECT_WEBHOOK_SECRET", ""),
		WebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	})

	limit := config.Int("WEBHOOK_RATE_LIMIT", 120)
	window := config.Duration("WEBHOOK_RATE_WINDOW", time.Minute)
	var limiter httpx.Middleware
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, limit, window, "wh").Middleware(logger, true)
	} else {
		limiter = httpx.NewRateLimiter(limit, window).Middleware()
	}

	mux.Handle("/webhooks/stripe", limiter(http.HandlerFunc(h.StripeWebhook)))
	mux.Handle("/webhooks/stripe/connect", limiter(http.HandlerFunc(h.StripeConnectWebhook)))
	mux.HandleFunc("/api/v1/webhooks/events", h.ListEvents)
	mux.HandleFunc("POST /api/v1/webhooks/events/{id}/replay", h.ReplayEvent)

	root := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(root, "webhooks"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// loadRoutes reads the routing table: a file when WEBHOOK_ROUTES_FILE is set,
// inline JSON via WEBHOOK_ROUTES_JSON otherwise, and falling back to a single
// default connection/queue built from KAFKA_BROKERS.
func loadRoutes() (routing.Config, error) {
	if path := strings.TrimSpace(config.String("WEBHOOK_ROUTES_FILE", "")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return routing.Config{}, err
		}
		return routing.Parse(data)
	}
	if raw := strings.TrimSpace(config.String("WEBHOOK_ROUTES_JSON", "")); raw != "" {
		return routing.Parse([]byte(raw))
	}

	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		return routing.Config{}, err
	}
	cfg := routing.Config{
		DefaultConnection: "kafka",
		DefaultQueue:      config.String("WEBHOOK_DEFAULT_QUEUE", "webhook.dispatch"),
		Connections:       map[string][]string{"kafka": kafkax.SplitBrokers(brokers)},
	}
	if err := cfg.Validate(); err != nil {
		return routing.Config{}, err
	}
	return cfg, nil
}
