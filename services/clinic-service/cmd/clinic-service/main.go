package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pawsitive-care/clinic/libs/auth"
	"github.com/pawsitive-care/clinic/libs/config"
	"github.com/pawsitive-care/clinic/libs/db"
	"github.com/pawsitive-care/clinic/libs/httpx"
	"github.com/pawsitive-care/clinic/libs/kafkax"
	otelx "github.com/pawsitive-care/clinic/libs/otel"
	"github.com/pawsitive-care/clinic/libs/runtime"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/handlers"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/outbox"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/storage"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/stripegw"
	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

func main() {
	service := config.String("SERVICE_NAME", "clinic-service")
	port, err := config.Port("PORT", "8082")
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

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo)

	tolSeconds, err := strconv.Atoi(config.String("STRIPE_WEBHOOK_TOLERANCE_SECONDS", "300"))
	if err != nil || tolSeconds <= 0 {
		tolSeconds = 300
	}
	gateway := stripegw.New(logger, stripegw.Config{
		SecretKey:        config.String("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: time.Duration(tolSeconds) * time.Second,
	})

	engine := workflow.NewEngine(repo, gateway, logger, workflow.Config{
		Currency: config.String("BILLING_CURRENCY", "usd"),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)

	jwtSecret := config.String("JWT_SECRET", "")
	var jwksClient *auth.JWKSClient
	if jwksURL := strings.TrimSpace(config.String("JWKS_URL", "")); jwksURL != "" {
		jwksTTL := 5 * time.Minute
		if v, err := strconv.Atoi(config.String("JWKS_TTL_SECONDS", "300")); err == nil && v > 0 {
			jwksTTL = time.Duration(v) * time.Second
		}
		jwksClient = auth.NewJWKSClient(jwksURL, jwksTTL)
	}

	h := handlers.New(engine, gateway, logger)
	authed := func(fn http.HandlerFunc) http.Handler {
		return handlers.RequireAuth(fn, jwtSecret, jwksClient)
	}
	mux.Handle("/api/v1/appointments", authed(h.Appointments))
	mux.Handle("/api/v1/appointments/update", authed(h.UpdateAppointment))
	mux.Handle("/api/v1/appointments/delete", authed(h.DeleteAppointment))
	mux.Handle("/api/v1/invoices", authed(h.Invoices))
	mux.Handle("/api/v1/invoices/status", authed(h.UpdateInvoiceStatus))
	mux.Handle("/api/v1/invoices/delete", authed(h.DeleteInvoice))
	mux.Handle("/api/v1/payments/initiate", authed(h.InitiatePayment))
	mux.Handle("/api/v1/payments/confirm", authed(h.ConfirmPayment))
	mux.Handle("/api/v1/payments/delete", authed(h.DeletePayment))
	// Signature-verified, so no bearer auth.
	mux.HandleFunc("/api/v1/webhooks/stripe", h.StripeWebhook)

	requestTimeout := 10 * time.Second
	if v, err := strconv.Atoi(config.String("REQUEST_TIMEOUT_SECONDS", "10")); err == nil && v > 0 {
		requestTimeout = time.Duration(v) * time.Second
	}

	limitPerMinute := 120
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "120")); err == nil && v > 0 {
		limitPerMinute = v
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "clinic")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
