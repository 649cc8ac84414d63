package core

import (
	"context"
	"fmt"
	"time"

	"alertrelay/internal/types"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OrchestratorDeps groups the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Channels  ChannelStore
	Senders   *SenderRegistry
	History   HistoryStore
	Retry     RetryStore
	Cooldowns *CooldownTracker
	Clock     types.Clock
	Logger    types.Logger
	Metrics   NotificationMetrics
}

// Orchestrator delivers one event for one rule to every enabled channel of
// the rule, escalating final failures to the retry queue.
type Orchestrator struct {
	deps      OrchestratorDeps
	immediate ImmediatePolicy
	retry     RetryPolicy
	sleep     SleepFunc
}

// NewOrchestrator creates an Orchestrator. A nil Metrics is replaced by
// NoopMetrics.
func NewOrchestrator(deps OrchestratorDeps, immediate ImmediatePolicy, retry RetryPolicy) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if immediate.Attempts < 1 {
		immediate.Attempts = 1
	}
	return &Orchestrator{
		deps:      deps,
		immediate: immediate,
		retry:     retry,
		sleep:     contextSleep,
	}
}

// WithSleep replaces the wait used between immediate attempts.
func (o *Orchestrator) WithSleep(fn SleepFunc) *Orchestrator {
	o.sleep = fn
	return o
}

// DeliverRule sends event through every enabled channel of rule. It never
// fails; outcomes are reported per channel. The rule's cooldown is updated
// when at least one channel succeeds.
func (o *Orchestrator) DeliverRule(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule) []ChannelResult {
	log := o.deps.Logger.With("rule_id", rule.ID, "event_type", string(event.Type), "resource_id", event.ResourceID)

	channels, err := o.deps.Channels.ListEnabledByIDs(ctx, rule.ChannelIDs)
	if err != nil {
		log.Error("channel lookup failed, escalating to retry queue", "error", err.Error())
		return o.escalateUnresolved(ctx, event, rule, err)
	}

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		results = append(results, o.deliverChannel(ctx, log, event, rule, ch))
	}

	if AnySucceeded(results) {
		o.deps.Cooldowns.UpdateCooldown(ctx, rule, event, o.deps.Clock.Now())
	}
	return results
}

func (o *Orchestrator) deliverChannel(ctx context.Context, log types.Logger, event types.NotificationEvent, rule types.NotificationRule, ch types.NotificationChannel) ChannelResult {
	res := ChannelResult{RuleID: rule.ID, ChannelID: ch.ID, ChannelType: ch.Type}

	var last SendResult
	for attempt := 1; attempt <= o.immediate.Attempts; attempt++ {
		res.Attempts = attempt

		start := time.Now()
		last = o.deps.Senders.Send(ctx, event, rule, ch)
		o.deps.Metrics.RecordLatency(ctx, ch.Type, time.Since(start))

		if last.Success || !last.Retryable || attempt == o.immediate.Attempts {
			break
		}
		log.Warn("delivery attempt failed",
			"channel_id", ch.ID,
			"attempt", attempt,
			"error", last.Error,
		)
		if err := o.sleep(ctx, time.Duration(attempt)*o.immediate.Backoff); err != nil {
			last = TransientFailure(0, fmt.Sprintf("%s (interrupted: %v)", last.Error, err))
			break
		}
	}

	now := o.deps.Clock.Now()
	snapshot := FlattenEvent(event, rule.ID, ch.ID)

	if last.Success {
		res.Success = true
		o.deps.Metrics.RecordDelivery(ctx, ch.Type, MetricSuccess)
		o.recordHistory(ctx, log, event, rule.ID, ch.ID, snapshot, types.HistoryStatusSent, "", now)
		log.Info("notification delivered", "channel_id", ch.ID, "attempts", res.Attempts)
		return res
	}

	res.Error = types.TruncateError(last.Error, ErrorMaxLength)
	o.deps.Metrics.RecordDelivery(ctx, ch.Type, MetricFailed)
	o.recordHistory(ctx, log, event, rule.ID, ch.ID, snapshot, types.HistoryStatusFailed, res.Error, now)
	if !last.Retryable {
		// Configuration errors are reported through history only.
		log.Error("channel misconfigured, not retrying", "channel_id", ch.ID, "error", res.Error)
		return res
	}
	res.RetryEntryID = o.enqueueRetry(ctx, log, event, rule.ID, ch.ID, snapshot, res.Error, now)
	return res
}

// escalateUnresolved records a failed history row and queues a retry for
// every channel of rule when the channels could not be read at all, so the
// poller re-resolves them later.
func (o *Orchestrator) escalateUnresolved(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, cause error) []ChannelResult {
	log := o.deps.Logger.With("rule_id", rule.ID)
	now := o.deps.Clock.Now()
	msg := types.TruncateError("channel lookup failed: "+cause.Error(), ErrorMaxLength)

	results := make([]ChannelResult, 0, len(rule.ChannelIDs))
	for _, id := range rule.ChannelIDs {
		snapshot := FlattenEvent(event, rule.ID, id)
		o.recordHistory(ctx, log, event, rule.ID, id, snapshot, types.HistoryStatusFailed, msg, now)
		results = append(results, ChannelResult{
			RuleID:       rule.ID,
			ChannelID:    id,
			Error:        msg,
			RetryEntryID: o.enqueueRetry(ctx, log, event, rule.ID, id, snapshot, msg, now),
		})
	}
	return results
}

func (o *Orchestrator) enqueueRetry(ctx context.Context, log types.Logger, event types.NotificationEvent, ruleID, channelID string, snapshot map[string]any, lastErr string, now time.Time) string {
	entry := &types.RetryQueueEntry{
		OrganizationID: event.OrganizationID,
		RuleID:         ruleID,
		ChannelID:      channelID,
		EventType:      event.Type,
		EventData:      snapshot,
		AttemptCount:   0,
		MaxAttempts:    o.retry.MaxAttempts,
		NextAttemptAt:  now.Add(o.retry.BaseDelay),
		Status:         types.RetryStatusQueued,
		CreatedAt:      now,
	}
	if lastErr != "" {
		entry.LastError = &lastErr
	}

	if err := o.deps.Retry.Enqueue(ctx, entry); err != nil {
		log.Error("retry enqueue failed",
			"channel_id", channelID,
			"error", err.Error(),
		)
		return ""
	}
	log.Info("delivery queued for retry",
		"channel_id", channelID,
		"entry_id", entry.ID,
		"next_attempt_at", entry.NextAttemptAt.Format(time.RFC3339),
	)
	return entry.ID
}

func (o *Orchestrator) recordHistory(ctx context.Context, log types.Logger, event types.NotificationEvent, ruleID, channelID string, snapshot map[string]any, status types.HistoryStatus, errMsg string, now time.Time) {
	rec := &types.NotificationHistoryRecord{
		OrganizationID: event.OrganizationID,
		RuleID:         ruleID,
		ChannelID:      channelID,
		EventType:      event.Type,
		EventData:      snapshot,
		Status:         status,
		SentAt:         now,
	}
	if errMsg != "" {
		rec.Error = &errMsg
	}
	if err := o.deps.History.Record(ctx, rec); err != nil {
		log.Error("history write failed", "channel_id", channelID, "error", err.Error())
	}
}
