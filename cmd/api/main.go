// Package main is the entry point for the alertrelay API server.
//
// It loads configuration, connects to PostgreSQL, assembles the dispatch
// engine and serves the trigger and retry-queue endpoints. Fire-and-forget
// events go to an in-process worker pool or to SQS depending on
// SUBMITTER_MODE. With RETRY_POLLER_EMBEDDED=true the retry poller runs in
// the same process.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"alertrelay/internal/api/handlers"
	"alertrelay/internal/app"
	"alertrelay/internal/config"
	"alertrelay/internal/core"
	notifications "alertrelay/internal/notifications/core"
	"alertrelay/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("alertrelay API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"submitter_mode", cfg.Dispatch.SubmitterMode,
		"metrics_backend", cfg.Observability.MetricsBackend,
	)

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}

	submitter, err := app.NewSubmitter(ctx, cfg, rt.Engine)
	if err != nil {
		rt.Close()
		return fmt.Errorf("creating submitter: %w", err)
	}

	srv, err := buildServer(cfg, logger, serverDeps{
		Trigger:    rt.Engine.Dispatcher,
		Submitter:  submitter,
		RetryQueue: rt.Repos.RetryQueue,
		DB:         rt.Pool,
		Metrics:    rt.Metrics,
	})
	if err != nil {
		rt.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	var poller *scheduler.RetryPoller
	if cfg.Retry.EmbeddedInAPI {
		poller = app.NewRetryPoller(cfg, rt.Engine)
		if err := poller.Start(); err != nil {
			rt.Close()
			return fmt.Errorf("starting retry poller: %w", err)
		}
		logger.Info("embedded retry poller started", "schedule", cfg.Retry.Schedule)
	}

	// Closers run after the HTTP listener has drained: stop polling, flush
	// queued events, then release the pool.
	if poller != nil {
		srv.Closers = append(srv.Closers, poller.Stop)
	}
	srv.Closers = append(srv.Closers,
		submitter.Shutdown,
		func(context.Context) error { rt.Close(); return nil },
	)

	return runHTTPServer(srv, cfg, logger)
}

// serverDeps are the collaborators of the HTTP layer.
type serverDeps struct {
	Trigger    notifications.Trigger
	Submitter  notifications.Submitter
	RetryQueue handlers.RetryQueueRepo
	DB         core.Pinger
	Metrics    app.Metrics
}

// buildServer creates the chassis, wires authentication, rate limiting,
// health probes and metrics, and mounts the handlers.
func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	auth, err := core.NewProducerAuth(cfg.Auth.ProducerKeyHashes)
	if err != nil {
		return nil, fmt.Errorf("producer keys: %w", err)
	}
	if auth == nil {
		logger.Warn("PRODUCER_KEY_HASHES not set, API authentication is disabled")
	}
	srv.Auth = auth
	srv.Limiter = core.NewProducerLimiter(cfg.Auth.ProducerRateLimit, cfg.Auth.ProducerBurst)

	if deps.DB != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.DatabaseProbe{DB: deps.DB})
	}

	if deps.Metrics.Registry != nil {
		srv.Metrics = app.NewHTTPMetrics(deps.Metrics.Registry)
		srv.MetricsHandler = deps.Metrics.Handler
	}

	triggerHandler := handlers.NewTriggerHandler(deps.Trigger, deps.Submitter, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, triggerHandler.RegisterRoutes)

	if deps.RetryQueue != nil {
		retryHandler := handlers.NewRetryQueueHandler(deps.RetryQueue, nil, logger)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, retryHandler.RegisterRoutes)
	}

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
