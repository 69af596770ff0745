// Package main is the entrypoint for the tracerelay consumer. It drains the capture topics
// into the incident store and the columnar telemetry tables.
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
	"github.com/kiranshivaraju/tracerelay/internal/api/handler"
	"github.com/kiranshivaraju/tracerelay/internal/broker"
	"github.com/kiranshivaraju/tracerelay/internal/columnar"
	"github.com/kiranshivaraju/tracerelay/internal/config"
	"github.com/kiranshivaraju/tracerelay/internal/incident"
	"github.com/kiranshivaraju/tracerelay/internal/ingest"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
	"github.com/kiranshivaraju/tracerelay/internal/routing"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateRelay(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "consumer_group", cfg.Kafka.ConsumerGroup)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	ch, err := columnar.Connect(ctx, cfg.ClickHouse.URL)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer ch.Close()

	if err := ch.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure clickhouse schema: %w", err)
	}
	slog.Info("clickhouse connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pgStore := store.NewPostgresStore(pool)
	dispatcher, err := newDispatcher(cfg.Relay.CloseTimeout, relay.NewMetrics(reg), incident.NewEngine(pgStore), ingest.NewWriter(ch))
	if err != nil {
		return err
	}

	wmLogger := broker.NewLogger(slog.Default())
	sub, err := broker.NewKafkaSubscriber(cfg.Kafka, wmLogger)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	defer sub.Close()

	router, err := relay.NewRouter(cfg.Relay.CloseTimeout, reg, wmLogger)
	if err != nil {
		return err
	}
	dispatcher.Attach(router, sub)

	addr := fmt.Sprintf(":%d", cfg.Relay.MetricsPort)
	srv := &http.Server{
		Addr: addr,
		Handler: newOpsHandler(reg, map[string]handler.Pinger{
			"database":   pgStore,
			"clickhouse": ch,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	slog.Info("relay consuming", "topics", dispatcher.Topics())
	// Run returns after ctx is cancelled and in-flight handlers have finished or
	// RELAY_CLOSE_TIMEOUT has passed. Handlers run on a context detached from ctx, so they
	// keep the pools deferred above until then.
	runErr := router.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("run relay: %w", runErr)
	}
	slog.Info("relay stopped gracefully")
	return nil
}

// newDispatcher binds every capture route to its consumer.
func newDispatcher(drain time.Duration, m *relay.Metrics, engine relay.Handler, w *ingest.Writer) (*relay.Dispatcher, error) {
	d := relay.NewDispatcher(m, relay.WithDrainTimeout(drain))
	bindings := []struct {
		kind routing.Kind
		h    relay.Handler
	}{
		{routing.KindIncident, engine},
		{routing.KindLogs, relay.HandlerFunc(w.HandleLogs)},
		{routing.KindMetrics, relay.HandlerFunc(w.HandleMetrics)},
		{routing.KindTracing, relay.HandlerFunc(w.HandleSpans)},
		{routing.KindBrowserPerformance, relay.HandlerFunc(w.HandlePerformance)},
	}
	for _, b := range bindings {
		if err := d.Register(b.kind, b.h); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func newOpsHandler(g prometheus.Gatherer, deps map[string]handler.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/api/v1/health", handler.NewHealthHandler(deps))
	return r
}
