package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/novapay/payments-service/internal/config"
	"github.com/novapay/payments-service/internal/handler"
	"github.com/novapay/payments-service/internal/kafka"
	"github.com/novapay/payments-service/internal/logging"
	"github.com/novapay/payments-service/internal/middleware"
	"github.com/novapay/payments-service/internal/outbox"
	"github.com/novapay/payments-service/internal/repository"
	paymentsvc "github.com/novapay/payments-service/internal/service/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("payments-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	paymentRepo := repository.NewPaymentRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	svc := paymentsvc.NewService(paymentRepo, eventRepo, ledgerRepo, db)
	paymentHandler := handler.NewPaymentHandler(svc)

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, slog.Default())

	relay := outbox.NewRelay(
		eventRepo,
		producer,
		time.Duration(cfg.OutboxPollInterval)*time.Millisecond,
		cfg.OutboxBatchSize,
		slog.Default(),
	)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		relay.Run(relayCtx)
		close(relayDone)
	}()

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/payments", paymentHandler.Create)
	api.HandleFunc("POST /api/v1/payments/{id}/authorize", paymentHandler.Authorize)
	api.HandleFunc("POST /api/v1/payments/{id}/settle", paymentHandler.Settle)
	api.HandleFunc("POST /api/v1/payments/{id}/fail", paymentHandler.Fail)
	api.HandleFunc("GET /api/v1/payments/{id}", paymentHandler.Get)
	api.HandleFunc("GET /api/v1/payments/{id}/events", paymentHandler.Events)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.Handle("/api/v1/", middleware.Auth(cfg.JWTSecret)(middleware.Logging(api)))

	root := middleware.Tracing(middleware.Recovery(mux))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	stopRelay()
	select {
	case <-relayDone:
	case <-time.After(10 * time.Second):
		slog.Warn("outbox relay did not drain in time")
	}

	if err := producer.Close(); err != nil {
		slog.Error("failed to close kafka producer", "error", err)
	}

	slog.Info("server stopped")
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var lastErr error
	for i := range 30 {
		db, err := repository.NewPostgresDB(context.Background(), cfg.DatabaseURL, pool)
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", lastErr)
}
