// Package core implements the notification dispatch and retry engine: rule
// matching, per-resource cooldowns, immediate multi-channel delivery, and
// the persisted retry queue. Channel senders plug in through SenderRegistry.
package core

import (
	"context"
	"time"

	"alertrelay/internal/types"
)

// SendResult is the outcome of a single sender invocation. Senders never
// return errors or panic for delivery problems; they describe them here.
type SendResult struct {
	Success bool
	// Error is a bounded, human-readable failure description.
	Error string
	// Retryable is false for configuration errors (missing recipients or
	// URL, unknown channel type). The orchestrator skips in-process retries
	// for those.
	Retryable bool
	// StatusCode is the provider HTTP status when one was received.
	StatusCode int
	// ProviderMessageID is set when the provider returns one.
	ProviderMessageID string
}

// Succeeded builds a successful SendResult.
func Succeeded(statusCode int, providerMsgID string) SendResult {
	return SendResult{Success: true, StatusCode: statusCode, ProviderMessageID: providerMsgID}
}

// ConfigFailure builds a non-retryable failure for missing or invalid
// channel configuration.
func ConfigFailure(msg string) SendResult {
	return SendResult{Error: types.TruncateError(msg, ErrorMaxLength), Retryable: false}
}

// TransientFailure builds a retryable failure.
func TransientFailure(statusCode int, msg string) SendResult {
	return SendResult{Error: types.TruncateError(msg, ErrorMaxLength), Retryable: true, StatusCode: statusCode}
}

// ErrorMaxLength bounds every error string persisted to history or the
// retry queue.
const ErrorMaxLength = 200

// Sender delivers one event to one channel of a given type with exactly one
// outbound request.
type Sender interface {
	Type() types.ChannelType
	Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) SendResult
}

// ChannelResult reports the final outcome for one (rule, channel) pair of a
// trigger call.
type ChannelResult struct {
	RuleID      string            `json:"rule_id"`
	ChannelID   string            `json:"channel_id"`
	ChannelType types.ChannelType `json:"channel_type"`
	Success     bool              `json:"success"`
	Attempts    int               `json:"attempts"`
	Error       string            `json:"error,omitempty"`
	// RetryEntryID is set when the failure was handed to the retry queue.
	RetryEntryID string `json:"retry_entry_id,omitempty"`
}

// AnySucceeded reports whether at least one result succeeded.
func AnySucceeded(results []ChannelResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// RuleStore reads notification rules.
type RuleStore interface {
	ListEnabledForEvent(ctx context.Context, orgID string, eventType types.EventType) ([]types.NotificationRule, error)
	GetByID(ctx context.Context, id string) (*types.NotificationRule, error)
}

// ChannelStore reads notification channels.
type ChannelStore interface {
	ListEnabledByIDs(ctx context.Context, ids []string) ([]types.NotificationChannel, error)
	GetByID(ctx context.Context, id string) (*types.NotificationChannel, error)
}

// CooldownStore reads and writes cooldown records.
type CooldownStore interface {
	IsActive(ctx context.Context, ruleID, resourceType, resourceID string, since time.Time) (bool, error)
	Upsert(ctx context.Context, rec types.CooldownRecord) error
	// Reserve writes rec only if the key was not notified after since, in a
	// single statement. It reports whether it wrote and the timestamp it
	// replaced (nil for a new key).
	Reserve(ctx context.Context, rec types.CooldownRecord, since time.Time) (bool, *time.Time, error)
	// Restore puts prev back (or removes the key when prev is nil) if the
	// key still holds rec.LastNotifiedAt.
	Restore(ctx context.Context, rec types.CooldownRecord, prev *time.Time) error
}

// HistoryStore appends delivery history.
type HistoryStore interface {
	Record(ctx context.Context, rec *types.NotificationHistoryRecord) error
}

// RetryStore is the persisted retry queue. Claim and the three terminal or
// rescheduling transitions are conditional on the current status. Claim
// also requires the entry to be due and still at the listed attempt count.
type RetryStore interface {
	Enqueue(ctx context.Context, e *types.RetryQueueEntry) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]types.RetryQueueEntry, error)
	Claim(ctx context.Context, id string, attemptCount int, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, attemptCount int, now time.Time) error
	MarkDeadLetter(ctx context.Context, id string, attemptCount int, lastErr string, now time.Time) error
	Reschedule(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastErr string) error
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetryPolicy defines the exponential backoff of the persisted retry queue.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retries five times starting at two minutes, doubling,
// capped at one hour.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     120 * time.Second,
	MaxDelay:      time.Hour,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry:
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay >= float64(policy.MaxDelay) {
			return policy.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// ImmediatePolicy controls the in-process attempts made before a failure is
// handed to the retry queue. The delay before attempt n+1 is Backoff*n.
type ImmediatePolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultImmediatePolicy makes three attempts, sleeping 200ms then 400ms.
var DefaultImmediatePolicy = ImmediatePolicy{
	Attempts: 3,
	Backoff:  200 * time.Millisecond,
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// RetryOutcome categorizes what a poll cycle did with one entry.
type RetryOutcome string

const (
	RetryOutcomeSent       RetryOutcome = "sent"
	RetryOutcomeRequeued   RetryOutcome = "requeued"
	RetryOutcomeDeadLetter RetryOutcome = "dead_letter"
	RetryOutcomeSkipped    RetryOutcome = "skipped"
)

// NotificationMetrics abstracts the telemetry backend.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordRetryOutcome(ctx context.Context, outcome RetryOutcome)
	RecordSubmitDropped(ctx context.Context)
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult)  {}
func (NoopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NoopMetrics) RecordRetryOutcome(context.Context, RetryOutcome)                {}
func (NoopMetrics) RecordSubmitDropped(context.Context)                             {}
