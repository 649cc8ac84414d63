// Package app assembles the notification engine from configuration. Every
// entry point under cmd/ builds its dependencies through this package so the
// API server, the retry poller and the queue worker share one wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertrelay/internal/config"
	"alertrelay/internal/db"
	"alertrelay/internal/external"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/notifications/email"
	"alertrelay/internal/notifications/webhook"
	"alertrelay/internal/queue"
	"alertrelay/internal/scheduler"
	"alertrelay/internal/security"
	"alertrelay/internal/types"
)

// NewLogger creates a JSON slog.Logger for the given level name.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// slogAdapter wraps *slog.Logger to implement types.Logger. slog's With
// returns *slog.Logger rather than types.Logger, hence the wrapper.
type slogAdapter struct {
	logger *slog.Logger
}

// AdaptLogger exposes l as a types.Logger.
func AdaptLogger(l *slog.Logger) types.Logger {
	return &slogAdapter{logger: l}
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Stores groups the persistence ports of the engine. *db.Repositories
// provides all of them.
type Stores struct {
	Rules      core.RuleStore
	Channels   core.ChannelStore
	Cooldowns  core.CooldownStore
	History    core.HistoryStore
	RetryQueue core.RetryStore
}

// StoresFrom adapts a repository bundle.
func StoresFrom(repos *db.Repositories) Stores {
	return Stores{
		Rules:      repos.Rules,
		Channels:   repos.Channels,
		Cooldowns:  repos.Cooldowns,
		History:    repos.History,
		RetryQueue: repos.RetryQueue,
	}
}

// Engine is the assembled dispatch and retry pipeline.
type Engine struct {
	Senders      *core.SenderRegistry
	Dispatcher   *core.Dispatcher
	RetryManager *core.RetryManager
	Metrics      core.NotificationMetrics
	Clock        types.Clock
	Logger       types.Logger
}

// NewEngine wires matcher, cooldowns, orchestrator, dispatcher and retry
// manager over stores. metrics may be nil.
func NewEngine(cfg *config.Config, stores Stores, senders *core.SenderRegistry, metrics core.NotificationMetrics, clock types.Clock, logger types.Logger) *Engine {
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}

	policy := RetryPolicy(cfg.Retry)
	cooldowns := core.NewCooldownTracker(stores.Cooldowns, clock, logger)
	orchestrator := core.NewOrchestrator(core.OrchestratorDeps{
		Channels:  stores.Channels,
		Senders:   senders,
		History:   stores.History,
		Retry:     stores.RetryQueue,
		Cooldowns: cooldowns,
		Clock:     clock,
		Logger:    logger,
		Metrics:   metrics,
	}, core.ImmediatePolicy{
		Attempts: cfg.Dispatch.ImmediateAttempts,
		Backoff:  cfg.Dispatch.ImmediateBackoff,
	}, policy)

	dispatcher := core.NewDispatcher(core.NewRuleMatcher(stores.Rules, logger), cooldowns, orchestrator, clock, logger)

	retryManager := core.NewRetryManager(core.RetryManagerDeps{
		Queue:    stores.RetryQueue,
		Rules:    stores.Rules,
		Channels: stores.Channels,
		Senders:  senders,
		History:  stores.History,
		Clock:    clock,
		Logger:   logger,
		Metrics:  metrics,
	}, core.RetryManagerConfig{
		Policy:      policy,
		BatchSize:   cfg.Retry.BatchSize,
		Concurrency: cfg.Retry.Concurrency,
		StaleAfter:  cfg.Retry.StaleAfter,
	})

	return &Engine{
		Senders:      senders,
		Dispatcher:   dispatcher,
		RetryManager: retryManager,
		Metrics:      metrics,
		Clock:        clock,
		Logger:       logger,
	}
}

// RetryPolicy converts the retry config into the backoff policy.
func RetryPolicy(cfg config.RetryConfig) core.RetryPolicy {
	return core.RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: 2.0,
	}
}

// NewSenders builds the registry of channel senders. The email sender is
// registered only when a SendGrid key is configured; email channels then
// fail as configuration errors.
func NewSenders(cfg *config.Config, logger *slog.Logger) (*core.SenderRegistry, error) {
	log := AdaptLogger(logger)
	clock := types.RealClock{}

	webhookClient := security.NewSafeHTTPClient(cfg.Webhook.Timeout, cfg.Webhook.MaxRedirects, cfg.Webhook.AllowPrivateNetworks)
	senders := []core.Sender{
		webhook.NewSlackSender(webhookClient, cfg.Webhook.UserAgent, log),
		webhook.NewTeamsSender(webhookClient, cfg.Webhook.UserAgent, log),
		webhook.NewGenericSender(webhookClient, cfg.Webhook.UserAgent, log, clock),
	}

	if key := cfg.Email.SendGridAPIKey.Unmask(); key != "" {
		renderer, err := email.NewRenderer()
		if err != nil {
			return nil, fmt.Errorf("email templates: %w", err)
		}
		provider := external.NewSendGridClient(&http.Client{Timeout: cfg.Email.Timeout}, external.SendGridClientConfig{
			APIKey:  key,
			BaseURL: cfg.Email.BaseURL,
			Logger:  logger,
		})
		senders = append(senders, email.NewSender(email.SenderConfig{
			Provider:    provider,
			Renderer:    renderer,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			Logger:      log,
		}))
	} else {
		logger.Warn("SENDGRID_API_KEY not set, email channels are disabled")
	}

	return core.NewSenderRegistry(senders, core.WithRateLimit(cfg.Dispatch.ChannelRateLimit, cfg.Dispatch.ChannelBurst)), nil
}

// Metrics is the selected metrics backend. Handler is non-nil only for the
// prometheus backend.
type Metrics struct {
	Recorder core.NotificationMetrics
	Handler  http.Handler
	Registry *prometheus.Registry
}

// NewMetrics builds the configured metrics backend.
func NewMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Metrics, error) {
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return Metrics{
			Recorder: core.NewPrometheusMetrics(reg),
			Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Registry: reg,
		}, nil
	case "cloudwatch":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return Metrics{}, fmt.Errorf("load AWS config: %w", err)
		}
		return Metrics{
			Recorder: core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), AdaptLogger(logger)),
		}, nil
	default:
		return Metrics{Recorder: core.NoopMetrics{}}, nil
	}
}

// Submitter is the fire-and-forget intake selected by SUBMITTER_MODE.
type Submitter struct {
	core.Submitter
	// Shutdown drains queued events. It is a no-op for the SQS submitter.
	Shutdown func(ctx context.Context) error
}

// NewSubmitter builds the configured submitter. The in-process submitter
// runs events through e.Dispatcher; the SQS submitter hands them to the
// trigger worker.
func NewSubmitter(ctx context.Context, cfg *config.Config, e *Engine) (Submitter, error) {
	switch cfg.Dispatch.SubmitterMode {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return Submitter{}, fmt.Errorf("load AWS config: %w", err)
		}
		s := queue.NewSQSSubmitter(sqs.NewFromConfig(awsCfg), cfg.AWS.TriggerQueueURL, e.Clock, e.Logger)
		return Submitter{Submitter: s, Shutdown: func(context.Context) error { return nil }}, nil
	default:
		s := core.NewAsyncSubmitter(e.Dispatcher, cfg.Dispatch.SubmitterWorkers, cfg.Dispatch.SubmitterQueueSize, e.Logger, e.Metrics)
		return Submitter{Submitter: s, Shutdown: s.Shutdown}, nil
	}
}

// NewRetryPoller schedules e.RetryManager. A cycle is bounded by
// RETRY_STALE_AFTER so its claims are not released while it still runs.
func NewRetryPoller(cfg *config.Config, e *Engine) *scheduler.RetryPoller {
	return scheduler.NewRetryPoller(scheduler.RetryPollerConfig{
		Processor:    e.RetryManager,
		Schedule:     cfg.Retry.Schedule,
		CycleTimeout: cfg.Retry.StaleAfter,
		Logger:       e.Logger.With("component", "retry_poller"),
	})
}

// OpenDatabase connects to PostgreSQL and applies the schema when
// DB_APPLY_SCHEMA is set.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, *db.Repositories, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.ApplySchema {
		if err := db.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database schema applied")
	}
	return pool, db.NewRepositories(pool), nil
}

// Runtime is an engine bound to a live database.
type Runtime struct {
	Engine  *Engine
	Pool    *pgxpool.Pool
	Repos   *db.Repositories
	Metrics Metrics
}

// Close releases the database pool.
func (rt *Runtime) Close() {
	rt.Pool.Close()
}

// Bootstrap opens the database, builds senders and metrics, and assembles
// the engine.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	pool, repos, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	senders, err := NewSenders(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	metrics, err := NewMetrics(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	return &Runtime{
		Engine:  NewEngine(cfg, StoresFrom(repos), senders, metrics.Recorder, types.RealClock{}, AdaptLogger(logger)),
		Pool:    pool,
		Repos:   repos,
		Metrics: metrics,
	}, nil
}
