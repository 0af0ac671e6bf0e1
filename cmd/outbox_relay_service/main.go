package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordermesh/eventrelay/internal/core_event/events"
	"github.com/ordermesh/eventrelay/internal/core_event/schema"
	"github.com/ordermesh/eventrelay/internal/outbox_relay_service/app"
	"github.com/ordermesh/eventrelay/internal/outbox_relay_service/repository/postgres"
	"github.com/ordermesh/eventrelay/internal/platform/config"
	"github.com/ordermesh/eventrelay/internal/platform/database"
	"github.com/ordermesh/eventrelay/internal/platform/logger"
	"github.com/ordermesh/eventrelay/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("outbox-relay")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("outbox relay service starting", "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "outbox-relay-service", appLogger)
	if err != nil {
		appLogger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	streamSubjects := []string{
		cfg.EventSubjectRoot + ".>",
	}
	if err := natsClient.EnsureStream(ctx, cfg.EventStreamName, streamSubjects); err != nil {
		appLogger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}

	registry := schema.NewRegistry()
	if err := events.RegisterInventorySchemas(registry); err != nil {
		appLogger.Error("failed to register event schemas", "error", err)
		os.Exit(1)
	}

	outboxRepo := postgres.NewPgOutboxRepository(dbPool)
	tracker := app.NewDeliveryTracker(outboxRepo, appLogger, app.TrackerConfig{
		AttemptCeiling: cfg.Relay.AttemptCeiling,
		BackoffBase:    cfg.Relay.BackoffBase,
		BackoffMax:     cfg.Relay.BackoffMax,
		SweepTimeout:   cfg.Relay.SweepTimeout,
	})
	relay := app.NewRelay(tracker, natsClient, registry, appLogger, app.RelayConfig{
		PollInterval:   cfg.Relay.PollInterval,
		BatchSize:      cfg.Relay.BatchSize,
		PublishTimeout: cfg.Relay.PublishTimeout,
		SweepInterval:  cfg.Relay.SweepInterval,
		SourceService:  cfg.Relay.SourceService,
		SubjectRoot:    cfg.EventSubjectRoot,
	})

	opsServer := newOpsServer(cfg.RelayOpsPort)
	go func() {
		appLogger.Info("ops server listening", "port", cfg.RelayOpsPort)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("ops server failed", "error", err)
		}
	}()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(ctx); err != nil {
			appLogger.Error("relay loop exited with error", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutdown signal received")

	<-relayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("ops server shutdown failed", "error", err)
	}

	appLogger.Info("outbox relay service shut down")
}

func newOpsServer(port int) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
