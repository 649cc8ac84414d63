// Package core provides the HTTP chassis of the trigger API. It creates a
// chi router usable both with net/http and behind a Lambda proxy, and
// enforces the cross-cutting concerns (panic recovery, request IDs,
// logging, metrics, producer authentication) before requests reach the
// handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"alertrelay/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// HealthProbe is a subsystem health check.
type HealthProbe interface {
	Name() string
	// Check should respect the context deadline.
	Check(ctx context.Context) error
}

// RouteRegistrar mounts a group of handlers under /v1.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP layer.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector
	Auth      *ProducerAuth
	Limiter   *ProducerLimiter

	HealthProbes []HealthProbe
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	// V1RouteRegistrars are populated by the entry point; this indirection
	// avoids import cycles between core and the handler packages.
	V1RouteRegistrars []RouteRegistrar
	// Closers run in order on Shutdown.
	Closers []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately with
// MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the registered closers in order. Every closer runs; the
// first error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var first error
	for _, closeFn := range s.Closers {
		if err := closeFn(ctx); err != nil {
			s.Logger.Error("shutdown step failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return first
}
