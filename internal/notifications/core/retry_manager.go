package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"alertrelay/internal/types"
)

// RetryManagerConfig bounds one poll cycle.
type RetryManagerConfig struct {
	Policy      RetryPolicy
	BatchSize   int
	Concurrency int
	// StaleAfter releases processing entries locked longer than this back
	// to queued at the start of each cycle. Zero disables release.
	StaleAfter time.Duration
}

// RetryManagerDeps groups the collaborators of a RetryManager.
type RetryManagerDeps struct {
	Queue    RetryStore
	Rules    RuleStore
	Channels ChannelStore
	Senders  *SenderRegistry
	History  HistoryStore
	Clock    types.Clock
	Logger   types.Logger
	Metrics  NotificationMetrics
}

// BatchStats summarizes one ProcessDue cycle.
type BatchStats struct {
	Released     int64
	Fetched      int
	Sent         int
	Requeued     int
	DeadLettered int
	Skipped      int
	Errors       int
}

// RetryManager drains due entries of the persisted retry queue. Several
// instances may run concurrently; the conditional claim in the store
// guarantees a single processor per entry.
type RetryManager struct {
	deps RetryManagerDeps
	cfg  RetryManagerConfig
}

// NewRetryManager creates a RetryManager.
func NewRetryManager(deps RetryManagerDeps, cfg RetryManagerConfig) *RetryManager {
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy = DefaultRetryPolicy
	}
	return &RetryManager{deps: deps, cfg: cfg}
}

// ProcessDue runs one poll cycle. It returns an error only when the due
// entries could not be listed; per-entry failures are logged and counted.
// Entries not yet claimed when ctx is cancelled are left queued.
func (m *RetryManager) ProcessDue(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	now := m.deps.Clock.Now()

	if m.cfg.StaleAfter > 0 {
		released, err := m.deps.Queue.ReleaseStale(ctx, now.Add(-m.cfg.StaleAfter))
		if err != nil {
			m.deps.Logger.Warn("stale claim release failed", "error", err.Error())
		} else if released > 0 {
			stats.Released = released
			m.deps.Logger.Warn("released stale retry claims", "count", released)
		}
	}

	entries, err := m.deps.Queue.ListDue(ctx, now, m.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("ProcessDue: list due: %w", err)
	}
	stats.Fetched = len(entries)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, procErr := m.processEntry(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			if procErr != nil {
				stats.Errors++
				m.deps.Logger.Error("retry entry processing failed",
					"entry_id", entry.ID,
					"error", procErr.Error(),
				)
				return nil
			}
			switch outcome {
			case RetryOutcomeSent:
				stats.Sent++
			case RetryOutcomeRequeued:
				stats.Requeued++
			case RetryOutcomeDeadLetter:
				stats.DeadLettered++
			case RetryOutcomeSkipped:
				stats.Skipped++
			}
			m.deps.Metrics.RecordRetryOutcome(ctx, outcome)
			return nil
		})
	}
	_ = g.Wait()

	return stats, nil
}

func (m *RetryManager) processEntry(ctx context.Context, entry types.RetryQueueEntry) (RetryOutcome, error) {
	now := m.deps.Clock.Now()
	log := m.deps.Logger.With("entry_id", entry.ID, "rule_id", entry.RuleID, "channel_id", entry.ChannelID)

	claimed, err := m.deps.Queue.Claim(ctx, entry.ID, entry.AttemptCount, now)
	if err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return RetryOutcomeSkipped, nil
	}

	event, err := ReconstructEvent(entry)
	if err != nil {
		return m.deadLetter(ctx, log, entry, entry.AttemptCount, "malformed retry entry: "+err.Error())
	}

	rule, err := m.deps.Rules.GetByID(ctx, entry.RuleID)
	switch {
	case isCode(err, types.ErrCodeNotFoundRule):
		return m.deadLetter(ctx, log, entry, entry.AttemptCount, "rule no longer exists")
	case err != nil:
		return m.requeueUnattempted(ctx, log, entry, "rule lookup failed: "+err.Error())
	case !rule.IsEnabled:
		return m.deadLetter(ctx, log, entry, entry.AttemptCount, "rule is disabled")
	}

	channel, err := m.deps.Channels.GetByID(ctx, entry.ChannelID)
	switch {
	case isCode(err, types.ErrCodeNotFoundChannel):
		return m.deadLetter(ctx, log, entry, entry.AttemptCount, "channel no longer exists")
	case err != nil:
		return m.requeueUnattempted(ctx, log, entry, "channel lookup failed: "+err.Error())
	case !channel.IsEnabled:
		return m.deadLetter(ctx, log, entry, entry.AttemptCount, "channel is disabled")
	}

	start := time.Now()
	result := m.deps.Senders.Send(ctx, event, *rule, *channel)
	m.deps.Metrics.RecordLatency(ctx, channel.Type, time.Since(start))

	attempts := entry.AttemptCount + 1
	done := m.deps.Clock.Now()

	if result.Success {
		m.deps.Metrics.RecordDelivery(ctx, channel.Type, MetricSuccess)
		m.recordHistory(ctx, log, entry, types.HistoryStatusSent, "", done)
		if err := m.deps.Queue.MarkSent(ctx, entry.ID, attempts, done); err != nil {
			return "", fmt.Errorf("mark sent: %w", err)
		}
		log.Info("retry delivered", "attempt_count", attempts)
		return RetryOutcomeSent, nil
	}

	m.deps.Metrics.RecordDelivery(ctx, channel.Type, MetricFailed)
	lastErr := types.TruncateError(result.Error, ErrorMaxLength)
	m.recordHistory(ctx, log, entry, types.HistoryStatusFailed, lastErr, done)

	if !result.Retryable || attempts >= m.maxAttempts(entry) {
		return m.deadLetter(ctx, log, entry, attempts, lastErr)
	}

	next := done.Add(CalculateNextRetry(m.cfg.Policy, attempts))
	if err := m.deps.Queue.Reschedule(ctx, entry.ID, attempts, next, lastErr); err != nil {
		return "", fmt.Errorf("reschedule: %w", err)
	}
	log.Warn("retry failed, rescheduled",
		"attempt_count", attempts,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", lastErr,
	)
	return RetryOutcomeRequeued, nil
}

func (m *RetryManager) maxAttempts(entry types.RetryQueueEntry) int {
	if entry.MaxAttempts > 0 {
		return entry.MaxAttempts
	}
	return m.cfg.Policy.MaxAttempts
}

func (m *RetryManager) deadLetter(ctx context.Context, log types.Logger, entry types.RetryQueueEntry, attempts int, reason string) (RetryOutcome, error) {
	reason = types.TruncateError(reason, ErrorMaxLength)
	if err := m.deps.Queue.MarkDeadLetter(ctx, entry.ID, attempts, reason, m.deps.Clock.Now()); err != nil {
		return "", fmt.Errorf("mark dead letter: %w", err)
	}
	log.Error("retry entry dead-lettered", "attempt_count", attempts, "reason", reason)
	return RetryOutcomeDeadLetter, nil
}

// requeueUnattempted returns a claimed entry to the queue without counting
// an attempt, for store failures that happen before any send.
func (m *RetryManager) requeueUnattempted(ctx context.Context, log types.Logger, entry types.RetryQueueEntry, reason string) (RetryOutcome, error) {
	reason = types.TruncateError(reason, ErrorMaxLength)
	next := m.deps.Clock.Now().Add(CalculateNextRetry(m.cfg.Policy, entry.AttemptCount))
	if err := m.deps.Queue.Reschedule(ctx, entry.ID, entry.AttemptCount, next, reason); err != nil {
		return "", fmt.Errorf("reschedule: %w", err)
	}
	log.Warn("retry entry returned to queue", "reason", reason)
	return RetryOutcomeRequeued, nil
}

func (m *RetryManager) recordHistory(ctx context.Context, log types.Logger, entry types.RetryQueueEntry, status types.HistoryStatus, errMsg string, now time.Time) {
	rec := &types.NotificationHistoryRecord{
		OrganizationID: entry.OrganizationID,
		RuleID:         entry.RuleID,
		ChannelID:      entry.ChannelID,
		EventType:      entry.EventType,
		EventData:      entry.EventData,
		Status:         status,
		SentAt:         now,
	}
	if errMsg != "" {
		rec.Error = &errMsg
	}
	if err := m.deps.History.Record(ctx, rec); err != nil {
		log.Error("history write failed", "error", err.Error())
	}
}

func isCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
