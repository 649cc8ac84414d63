package core

import (
	"context"
	"time"

	"alertrelay/internal/types"
)

// CooldownTracker gates repeat notifications for a (rule, resource) pair.
//
// The trigger path uses Acquire, a compare-and-set on the cooldown row, so
// concurrent triggers for one pair have a single winner. A winner whose
// deliveries all fail calls Release, leaving the row as it was.
type CooldownTracker struct {
	store  CooldownStore
	clock  types.Clock
	logger types.Logger
}

// NewCooldownTracker creates a CooldownTracker.
func NewCooldownTracker(store CooldownStore, clock types.Clock, logger types.Logger) *CooldownTracker {
	return &CooldownTracker{store: store, clock: clock, logger: logger}
}

// InCooldown reports whether rule last notified about event's resource less
// than rule.Cooldown() ago. A store error fails open so the alert is sent.
func (t *CooldownTracker) InCooldown(ctx context.Context, rule types.NotificationRule, event types.NotificationEvent) bool {
	since := t.clock.Now().Add(-rule.Cooldown())
	active, err := t.store.IsActive(ctx, rule.ID, string(event.ResourceType), event.ResourceID, since)
	if err != nil {
		t.logger.Warn("cooldown check failed, sending anyway",
			"rule_id", rule.ID,
			"resource_id", event.ResourceID,
			"error", err.Error(),
		)
		return false
	}
	return active
}

// UpdateCooldown records now as the last notification time for the pair.
// The upsert never moves the timestamp backwards.
func (t *CooldownTracker) UpdateCooldown(ctx context.Context, rule types.NotificationRule, event types.NotificationEvent, now time.Time) {
	rec := types.CooldownRecord{
		OrganizationID: event.OrganizationID,
		RuleID:         rule.ID,
		ResourceType:   string(event.ResourceType),
		ResourceID:     event.ResourceID,
		LastNotifiedAt: now,
	}
	if err := t.store.Upsert(ctx, rec); err != nil {
		t.logger.Error("cooldown update failed",
			"rule_id", rule.ID,
			"resource_id", event.ResourceID,
			"error", err.Error(),
		)
	}
}

// CooldownHold is the reservation returned by Acquire.
type CooldownHold struct {
	rec  types.CooldownRecord
	prev *time.Time
	held bool
}

// Acquire claims rule's cooldown window for event's resource. It returns
// false when the pair is already in cooldown. A store error fails open with
// an empty hold.
func (t *CooldownTracker) Acquire(ctx context.Context, rule types.NotificationRule, event types.NotificationEvent) (CooldownHold, bool) {
	now := t.clock.Now()
	rec := types.CooldownRecord{
		OrganizationID: event.OrganizationID,
		RuleID:         rule.ID,
		ResourceType:   string(event.ResourceType),
		ResourceID:     event.ResourceID,
		LastNotifiedAt: now,
	}
	won, prev, err := t.store.Reserve(ctx, rec, now.Add(-rule.Cooldown()))
	if err != nil {
		t.logger.Warn("cooldown reserve failed, sending anyway",
			"rule_id", rule.ID,
			"resource_id", event.ResourceID,
			"error", err.Error(),
		)
		return CooldownHold{}, true
	}
	if !won {
		return CooldownHold{}, false
	}
	return CooldownHold{rec: rec, prev: prev, held: true}, true
}

// Release undoes hold. A hold already superseded by a later update is left
// alone.
func (t *CooldownTracker) Release(ctx context.Context, hold CooldownHold) {
	if !hold.held {
		return
	}
	if err := t.store.Restore(ctx, hold.rec, hold.prev); err != nil {
		t.logger.Error("cooldown release failed",
			"rule_id", hold.rec.RuleID,
			"resource_id", hold.rec.ResourceID,
			"error", err.Error(),
		)
	}
}
