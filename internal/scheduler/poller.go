// Package scheduler runs the retry queue poller on a cron schedule.
//
// Cycles never overlap: a tick that fires while the previous cycle is still
// running is skipped. Stop waits for the running cycle before returning.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alertrelay/internal/config"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// BatchProcessor processes one batch of due retry entries.
// *core.RetryManager implements it.
type BatchProcessor interface {
	ProcessDue(ctx context.Context) (core.BatchStats, error)
}

var _ BatchProcessor = (*core.RetryManager)(nil)

// ErrAlreadyStarted is returned by Start on a running poller.
var ErrAlreadyStarted = errors.New("scheduler: poller already started")

// RetryPollerConfig holds the parameters for creating a RetryPoller.
type RetryPollerConfig struct {
	Processor BatchProcessor
	// Schedule is a cron expression or descriptor, e.g. "@every 30s".
	Schedule string
	// CycleTimeout bounds a single cycle. Zero means no bound.
	CycleTimeout time.Duration
	Logger       types.Logger
}

// RetryPoller periodically drains the retry queue.
type RetryPoller struct {
	processor BatchProcessor
	schedule  string
	timeout   time.Duration
	logger    types.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool

	// baseCtx parents every cycle; cancel aborts an in-flight cycle when
	// Stop runs out of time.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewRetryPoller creates a stopped RetryPoller.
func NewRetryPoller(cfg RetryPollerConfig) *RetryPoller {
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryPoller{
		processor: cfg.Processor,
		schedule:  cfg.Schedule,
		timeout:   cfg.CycleTimeout,
		logger:    cfg.Logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Start registers the cycle on the schedule and starts the cron runner.
func (p *RetryPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{p.logger}), cron.SkipIfStillRunning(cronLogger{p.logger})),
	)
	if _, err := c.AddFunc(p.schedule, p.runScheduled); err != nil {
		return err
	}
	c.Start()

	p.cron = c
	p.started = true
	p.logger.Info("retry poller started", "schedule", p.schedule)
	return nil
}

// Stop stops scheduling new cycles and waits for the running cycle to
// finish. If ctx ends first, the running cycle's context is cancelled and
// ctx.Err() is returned.
func (p *RetryPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	c := p.cron
	p.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		p.logger.Info("retry poller stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("retry poller stop timed out, cancelled running cycle")
		return ctx.Err()
	}
}

// RunOnce executes a single cycle synchronously. Entry points without a
// long-lived process (scheduled Lambda invocations) call it directly.
func (p *RetryPoller) RunOnce(ctx context.Context) (core.BatchStats, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	stats, err := p.processor.ProcessDue(ctx)
	if err != nil {
		p.logger.Error("retry cycle failed", "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return stats, err
	}

	if stats.Fetched > 0 || stats.Released > 0 {
		p.logger.Info("retry cycle complete",
			"fetched", stats.Fetched,
			"sent", stats.Sent,
			"requeued", stats.Requeued,
			"dead_lettered", stats.DeadLettered,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
			"released", stats.Released,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return stats, nil
}

func (p *RetryPoller) runScheduled() {
	_, _ = p.RunOnce(p.baseCtx)
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	l types.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron logs every skipped tick at info; keep them quiet.
	if msg == "skip" {
		return
	}
	c.l.Info("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
