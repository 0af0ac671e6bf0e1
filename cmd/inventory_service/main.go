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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordermesh/eventrelay/internal/core_event/events"
	"github.com/ordermesh/eventrelay/internal/core_event/schema"
	invhttp "github.com/ordermesh/eventrelay/internal/inventory_service/adapters/http"
	"github.com/ordermesh/eventrelay/internal/inventory_service/app"
	"github.com/ordermesh/eventrelay/internal/inventory_service/repository/postgres"
	"github.com/ordermesh/eventrelay/internal/outbox"
	"github.com/ordermesh/eventrelay/internal/platform/config"
	"github.com/ordermesh/eventrelay/internal/platform/database"
	"github.com/ordermesh/eventrelay/internal/platform/logger"
)

func main() {
	cfg, err := config.Load("inventory-service")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("inventory service starting", "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	registry := schema.NewRegistry()
	if err := events.RegisterInventorySchemas(registry); err != nil {
		appLogger.Error("failed to register event schemas", "error", err)
		os.Exit(1)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	inventoryRepo := postgres.NewPgInventoryRepository()
	outboxWriter := outbox.NewWriter(registry)
	inventoryService := app.NewInventoryAppService(dbPool, inventoryRepo, outboxWriter, appLogger)
	handler := invhttp.NewInventoryHandler(inventoryService, appLogger, validate)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.InventoryServicePort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		appLogger.Info("HTTP server listening", "port", cfg.InventoryServicePort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}

	appLogger.Info("inventory service shut down")
}
