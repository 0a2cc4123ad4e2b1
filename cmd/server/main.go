package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate-be/internal/cache"
	"paygate-be/internal/config"
	"paygate-be/internal/db"
	"paygate-be/internal/events"
	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/middleware"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/bankredirect"
	"paygate-be/internal/payment/qrbank"
	"paygate-be/internal/payment/walleta"
	"paygate-be/internal/payment/walletb"
	"paygate-be/internal/payment/webhook"
	"paygate-be/internal/tracing"
	"paygate-be/internal/transport"

	"go.uber.org/zap"
)

const serviceName = "paygate-be"

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(os.Stdout, serviceName, cfg.AppEnv)
		if err != nil {
			log.Fatal("tracing init failed", zap.Error(err))
		}
		defer shutdown(context.Background())
	}

	database := db.InitDB(cfg)
	defer database.Close()

	registry, err := buildRegistry(cfg, &http.Client{Timeout: cfg.Payment.GatewayTimeout})
	if err != nil {
		log.Fatal("gateway setup failed", zap.Error(err))
	}

	publisher, closePublisher := buildPublisher(cfg)
	defer closePublisher()

	svc := payment.NewService(
		payment.NewRepository(database),
		invoice.NewLedger(database, cfg.Payment.PaidTolerance),
		registry,
		publisher,
		payment.ServiceConfig{
			GatewayTimeout:       cfg.Payment.GatewayTimeout,
			RejectAmountMismatch: cfg.Payment.RejectAmountMismatch,
			CallbackURL:          func(k payment.GatewayKind) string { return cfg.CallbackURL(string(k)) },
			DefaultRedirectURL:   cfg.PaymentRedirectURL,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := payment.NewStatusPoller(svc, cfg.Payment.PollInterval, cfg.Payment.PollMinAge, cfg.Payment.PollBatchSize)
	go poller.Run(ctx)

	router := setupRouter(
		transport.NewPaymentHandler(svc),
		webhook.NewWebhookHandler(svc),
		middleware.NewAuthMiddleware(cfg.JWTSecret),
		buildIdempotencyStore(cfg),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("payment gateway server running", zap.String("port", cfg.AppPort), zap.Strings("gateways", kindNames(registry)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func setupRouter(payments *transport.PaymentHandler, webhooks *webhook.Handler, auth func(http.Handler) http.Handler, idem middleware.IdempotencyStore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// Gateways authenticate by signature, not by token.
	mux.HandleFunc("POST /payments/online/callback/{gateway}", webhooks.CallbackHandler)

	chain := []func(http.Handler) http.Handler{auth, middleware.RateLimitMiddleware}
	if idem != nil {
		chain = append(chain, middleware.Idempotency(idem))
	}
	payments.Register(mux, chain...)

	return logger.RequestIDMiddleware(logger.LoggingMiddleware(metrics.Middleware(mux)))
}

// buildRegistry registers every adapter; missing credentials surface on first use, not at startup.
func buildRegistry(cfg *config.Config, client *http.Client) (*payment.Registry, error) {
	sandbox := cfg.Payment.Sandbox

	bank, err := bankredirect.New(cfg.BankRedirect, bankredirect.Options{
		Sandbox:       sandbox,
		AllowInsecure: cfg.Payment.AllowInsecureSignatures,
		HTTPClient:    client,
	})
	if err != nil {
		return nil, fmt.Errorf("bank-redirect: %w", err)
	}

	return payment.NewRegistry(
		bank,
		qrbank.New(cfg.QRBank, sandbox, client),
		walleta.New(cfg.WalletA, sandbox, client),
		walletb.New(cfg.WalletB, sandbox, client),
	)
}

func buildPublisher(cfg *config.Config) (payment.EventPublisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.L().Info("no Kafka brokers configured, payment events disabled")
		return payment.NopPublisher{}, func() {}
	}

	producer, err := events.NewSyncProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.L().Error("kafka unavailable, payment events disabled", zap.Error(err))
		return payment.NopPublisher{}, func() {}
	}
	publisher := events.NewKafkaPublisher(producer, cfg.KafkaPaymentTopic)
	return publisher, func() { _ = publisher.Close() }
}

func buildIdempotencyStore(cfg *config.Config) middleware.IdempotencyStore {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := cache.InitRedis(cfg)
	if err != nil {
		logger.L().Error("redis unavailable, idempotency keys disabled", zap.Error(err))
		return nil
	}
	return cache.NewIdempotencyStore(rdb)
}

func kindNames(r *payment.Registry) []string {
	var out []string
	for _, k := range r.Kinds() {
		out = append(out, string(k))
	}
	return out
}
