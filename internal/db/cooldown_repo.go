package db

import (
	"context"
	"time"

	"alertrelay/internal/types"
)

// CooldownRepository manages notification_cooldowns, one row per
// (rule_id, resource_type, resource_id).
type CooldownRepository struct {
	db DBTX
}

// NewCooldownRepository creates a CooldownRepository backed by db.
func NewCooldownRepository(db DBTX) *CooldownRepository {
	return &CooldownRepository{db: db}
}

// IsActive reports whether the key was notified after since. The check is a
// single statement evaluated against the same column Upsert writes, so a
// concurrent Upsert is either fully visible or not at all.
func (r *CooldownRepository) IsActive(ctx context.Context, ruleID, resourceType, resourceID string, since time.Time) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM notification_cooldowns
			WHERE rule_id = $1 AND resource_type = $2 AND resource_id = $3
			  AND last_notified_at > $4
		)`,
		ruleID, resourceType, resourceID, since,
	).Scan(&active)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check cooldown", err)
	}
	return active, nil
}

// Upsert records a successful notification for the key. Replaying the same
// record is a no-op and the stored timestamp never moves backwards.
func (r *CooldownRepository) Upsert(ctx context.Context, rec types.CooldownRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_cooldowns
		 (organization_id, rule_id, resource_type, resource_id, last_notified_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (rule_id, resource_type, resource_id) DO UPDATE
		 SET last_notified_at = GREATEST(notification_cooldowns.last_notified_at, EXCLUDED.last_notified_at),
		     organization_id = EXCLUDED.organization_id`,
		rec.OrganizationID,
		rec.RuleID,
		rec.ResourceType,
		rec.ResourceID,
		rec.LastNotifiedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert cooldown", err)
	}
	return nil
}

// Reserve claims the cooldown window for rec's key: it writes
// rec.LastNotifiedAt only when the stored timestamp is not after since, or
// the key is new. The upsert is one statement, so concurrent callers for
// the same key see exactly one winner. prev is the replaced timestamp.
func (r *CooldownRepository) Reserve(ctx context.Context, rec types.CooldownRecord, since time.Time) (bool, *time.Time, error) {
	var prev *time.Time
	err := r.db.QueryRow(ctx,
		`WITH prior AS (
			SELECT last_notified_at FROM notification_cooldowns
			WHERE rule_id = $2 AND resource_type = $3 AND resource_id = $4
		)
		INSERT INTO notification_cooldowns
		 (organization_id, rule_id, resource_type, resource_id, last_notified_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (rule_id, resource_type, resource_id) DO UPDATE
		 SET last_notified_at = EXCLUDED.last_notified_at,
		     organization_id = EXCLUDED.organization_id
		 WHERE notification_cooldowns.last_notified_at <= $6
		 RETURNING (SELECT last_notified_at FROM prior)`,
		rec.OrganizationID,
		rec.RuleID,
		rec.ResourceType,
		rec.ResourceID,
		rec.LastNotifiedAt,
		since,
	).Scan(&prev)
	if isNoRows(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve cooldown", err)
	}
	return true, prev, nil
}

// Restore rolls a reservation back to prev, deleting the key when prev is
// nil. Rows no longer holding rec.LastNotifiedAt are left untouched.
func (r *CooldownRepository) Restore(ctx context.Context, rec types.CooldownRecord, prev *time.Time) error {
	var err error
	if prev == nil {
		_, err = r.db.Exec(ctx,
			`DELETE FROM notification_cooldowns
			 WHERE rule_id = $1 AND resource_type = $2 AND resource_id = $3
			   AND last_notified_at = $4`,
			rec.RuleID, rec.ResourceType, rec.ResourceID, rec.LastNotifiedAt,
		)
	} else {
		_, err = r.db.Exec(ctx,
			`UPDATE notification_cooldowns SET last_notified_at = $5
			 WHERE rule_id = $1 AND resource_type = $2 AND resource_id = $3
			   AND last_notified_at = $4`,
			rec.RuleID, rec.ResourceType, rec.ResourceID, rec.LastNotifiedAt, *prev,
		)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to restore cooldown", err)
	}
	return nil
}
