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
	"github.com/ordermesh/eventrelay/internal/inventory_consumer_service/app"
	"github.com/ordermesh/eventrelay/internal/inventory_consumer_service/repository/postgres"
	"github.com/ordermesh/eventrelay/internal/platform/config"
	"github.com/ordermesh/eventrelay/internal/platform/database"
	"github.com/ordermesh/eventrelay/internal/platform/logger"
	"github.com/ordermesh/eventrelay/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("inventory-consumer")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("inventory consumer service starting", "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "inventory-consumer-service", appLogger)
	if err != nil {
		appLogger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	registry := schema.NewRegistry()
	if err := events.RegisterInventorySchemas(registry); err != nil {
		appLogger.Error("failed to register event schemas", "error", err)
		os.Exit(1)
	}

	consumer := app.NewEventConsumer(
		dbPool,
		postgres.NewPgProcessedMessageRepository(),
		postgres.NewPgStockProjectionRepository(),
		registry,
		natsClient,
		appLogger,
		app.ConsumerConfig{
			DeadLetterSubject: cfg.DeadLetterSubject,
			SourceService:     cfg.SourceService,
			RedeliveryDelay:   cfg.Consumer.ConsumerRedeliveryDelay,
		},
	)

	// Only the stock-adjusted major this build understands; other majors stay
	// in the stream for other consumer generations.
	filterSubjects := []string{
		fmt.Sprintf("%s.*.%s.v1", cfg.EventSubjectRoot, events.EventTypeStockAdjusted),
	}
	stopConsume, err := natsClient.Consume(
		ctx,
		cfg.EventStreamName,
		cfg.Consumer.ConsumerDurableName,
		filterSubjects,
		consumer.JetStreamHandler(ctx),
	)
	if err != nil {
		appLogger.Error("failed to start consuming", "error", err)
		os.Exit(1)
	}
	appLogger.Info("consuming events",
		"stream", cfg.EventStreamName,
		"durable", cfg.Consumer.ConsumerDurableName,
		"subjects", filterSubjects,
	)

	opsRouter := chi.NewRouter()
	opsRouter.Handle("/metrics", promhttp.Handler())
	opsRouter.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ConsumerOpsPort),
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info("ops server listening", "port", cfg.ConsumerOpsPort)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("ops server failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutdown signal received")

	stopConsume()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("ops server shutdown failed", "error", err)
	}

	appLogger.Info("inventory consumer service shut down")
}
