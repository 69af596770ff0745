// Package main is the entrypoint for the tracerelay capture server.
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

	"github.com/kiranshivaraju/tracerelay/internal/api"
	"github.com/kiranshivaraju/tracerelay/internal/api/handler"
	mw "github.com/kiranshivaraju/tracerelay/internal/api/middleware"
	"github.com/kiranshivaraju/tracerelay/internal/broker"
	"github.com/kiranshivaraju/tracerelay/internal/cache"
	"github.com/kiranshivaraju/tracerelay/internal/capture"
	"github.com/kiranshivaraju/tracerelay/internal/config"
	"github.com/kiranshivaraju/tracerelay/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "demo", cfg.Server.Demo)

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
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cache.WithNamespace("tracerelay"))
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	kafkaPub, err := broker.NewKafkaPublisher(cfg.Kafka, broker.NewLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	publisher := broker.NewEnvelopePublisher(kafkaPub)
	defer publisher.Close()
	slog.Info("kafka publisher ready", "brokers", cfg.Kafka.Brokers)

	pgStore := store.NewPostgresStore(pool)
	validator := capture.NewValidator(pgStore, redisCache, capture.Options{
		Demo:     cfg.Server.Demo,
		CacheTTL: cfg.Capture.ProjectCacheTTL,
	})

	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Capture.RateLimitPerMin, capture.HeaderSDKKey, mw.OnlyKeys(capture.ValidKey)),
		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": pgStore,
			"cache":    redisCache,
			"broker":   broker.NewPinger(cfg.Kafka),
		}),
		CaptureHandler: handler.NewCaptureHandler(validator, publisher, cfg.Capture.MaxBodyBytes),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	// Integration flag writes still in flight hold pool connections.
	validator.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
