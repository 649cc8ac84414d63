package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alertrelay/internal/types"
)

const retryColumns = `id, organization_id, rule_id, channel_id, event_type, event_data,
	attempt_count, max_attempts, next_attempt_at, status, last_error,
	locked_at, processed_at, created_at`

// RetryQueueRepository manages notification_retry_queue. Every state change
// is a conditional UPDATE guarded by the expected current status; callers
// learn from the affected row count whether they won the transition.
type RetryQueueRepository struct {
	db DBTX
}

// NewRetryQueueRepository creates a RetryQueueRepository backed by db.
func NewRetryQueueRepository(db DBTX) *RetryQueueRepository {
	return &RetryQueueRepository{db: db}
}

// Enqueue inserts a new queued entry, assigning an ID when empty.
func (r *RetryQueueRepository) Enqueue(ctx context.Context, e *types.RetryQueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = types.RetryStatusQueued
	}

	eventData, err := encodeObject(e.EventData)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode retry event data", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_retry_queue
		 (id, organization_id, rule_id, channel_id, event_type, event_data,
		  attempt_count, max_attempts, next_attempt_at, status, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID,
		e.OrganizationID,
		e.RuleID,
		e.ChannelID,
		string(e.EventType),
		eventData,
		e.AttemptCount,
		e.MaxAttempts,
		e.NextAttemptAt,
		string(e.Status),
		e.LastError,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue retry entry", err)
	}
	return nil
}

// ListDue returns queued entries whose next_attempt_at is not after now,
// oldest-due first, at most limit rows.
func (r *RetryQueueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]types.RetryQueueEntry, error) {
	return r.list(ctx,
		`SELECT `+retryColumns+`
		 FROM notification_retry_queue
		 WHERE status = 'queued' AND next_attempt_at <= $1
		 ORDER BY next_attempt_at ASC, created_at ASC
		 LIMIT $2`,
		now, limit,
	)
}

// ListByStatus returns entries in the given status, most recently created
// first.
func (r *RetryQueueRepository) ListByStatus(ctx context.Context, status types.RetryStatus, limit int) ([]types.RetryQueueEntry, error) {
	return r.list(ctx,
		`SELECT `+retryColumns+`
		 FROM notification_retry_queue
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		string(status), limit,
	)
}

func (r *RetryQueueRepository) list(ctx context.Context, query string, args ...any) ([]types.RetryQueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retry entries", err)
	}
	defer rows.Close()

	var entries []types.RetryQueueEntry
	for rows.Next() {
		e, scanErr := scanRetryEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating retry entries", err)
	}
	return entries, nil
}

// GetByID returns a single entry. A missing entry yields
// ErrCodeNotFoundRetryEntry.
func (r *RetryQueueRepository) GetByID(ctx context.Context, id string) (*types.RetryQueueEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+retryColumns+` FROM notification_retry_queue WHERE id = $1`,
		id,
	)
	e, err := scanRetryEntry(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Claim moves an entry from queued to processing, but only while it is
// still due and still at attemptCount, the state the caller listed. It
// returns false when another worker claimed the entry first or has since
// rescheduled it.
func (r *RetryQueueRepository) Claim(ctx context.Context, id string, attemptCount int, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_retry_queue
		 SET status = 'processing', locked_at = $2
		 WHERE id = $1 AND status = 'queued'
		   AND next_attempt_at <= $2 AND attempt_count = $3`,
		id, now, attemptCount,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim retry entry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent moves a processing entry to the terminal sent state.
func (r *RetryQueueRepository) MarkSent(ctx context.Context, id string, attemptCount int, now time.Time) error {
	return r.finish(ctx, "MarkSent",
		`UPDATE notification_retry_queue
		 SET status = 'sent', attempt_count = $2, processed_at = $3,
		     locked_at = NULL, last_error = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, attemptCount, now,
	)
}

// MarkDeadLetter moves a processing entry to the terminal dead_letter state,
// recording lastErr for operator inspection.
func (r *RetryQueueRepository) MarkDeadLetter(ctx context.Context, id string, attemptCount int, lastErr string, now time.Time) error {
	return r.finish(ctx, "MarkDeadLetter",
		`UPDATE notification_retry_queue
		 SET status = 'dead_letter', attempt_count = $2, last_error = $3,
		     processed_at = $4, locked_at = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, attemptCount, lastErr, now,
	)
}

// Reschedule returns a processing entry to queued with a new due time.
func (r *RetryQueueRepository) Reschedule(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastErr string) error {
	return r.finish(ctx, "Reschedule",
		`UPDATE notification_retry_queue
		 SET status = 'queued', attempt_count = $2, next_attempt_at = $3,
		     last_error = $4, locked_at = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, attemptCount, nextAttemptAt, lastErr,
	)
}

func (r *RetryQueueRepository) finish(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("%s: failed to update retry entry", op), err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRetryEntry,
			fmt.Sprintf("%s: retry entry is no longer processing", op), nil)
	}
	return nil
}

// ReleaseStale returns processing entries locked before cutoff to queued so
// a crashed worker never strands them. It returns the number released.
func (r *RetryQueueRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_retry_queue
		 SET status = 'queued', locked_at = NULL
		 WHERE status = 'processing' AND locked_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to release stale retry entries", err)
	}
	return tag.RowsAffected(), nil
}

// Requeue moves a dead_letter entry back to queued with a fresh attempt
// budget. A missing entry yields ErrCodeNotFoundRetryEntry; an entry in any
// other state yields ErrCodeConflictNotDeadLetter.
func (r *RetryQueueRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_retry_queue
		 SET status = 'queued', attempt_count = 0, next_attempt_at = $2,
		     processed_at = NULL, locked_at = NULL
		 WHERE id = $1 AND status = 'dead_letter'`,
		id, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to requeue retry entry", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return types.NewAppError(types.ErrCodeConflictNotDeadLetter, "retry entry is not dead-lettered", nil)
}

func scanRetryEntry(row pgx.Row) (types.RetryQueueEntry, error) {
	var (
		e         types.RetryQueueEntry
		eventType string
		status    string
		dataJSON  []byte
	)
	err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.RuleID,
		&e.ChannelID,
		&eventType,
		&dataJSON,
		&e.AttemptCount,
		&e.MaxAttempts,
		&e.NextAttemptAt,
		&status,
		&e.LastError,
		&e.LockedAt,
		&e.ProcessedAt,
		&e.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return e, types.NewAppError(types.ErrCodeNotFoundRetryEntry, "retry entry not found", err)
		}
		return e, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry entry", err)
	}
	e.EventType = types.EventType(eventType)
	e.Status = types.RetryStatus(status)

	// A payload that fails to decode is left nil; the retry manager
	// dead-letters entries it cannot reconstruct.
	if len(dataJSON) > 0 {
		_ = json.Unmarshal(dataJSON, &e.EventData)
	}
	return e, nil
}
