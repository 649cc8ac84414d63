package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alertrelay/internal/types"
)

func TestCooldownTracker_Window(t *testing.T) {
	clock := newMockClock()
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, clock, &mockLogger{})
	rule := testRule("rule_1")
	event := testEvent()

	if tracker.InCooldown(context.Background(), rule, event) {
		t.Fatal("no record yet, expected not in cooldown")
	}

	tracker.UpdateCooldown(context.Background(), rule, event, clock.Now())

	clock.Advance(4*time.Minute + 59*time.Second)
	if !tracker.InCooldown(context.Background(), rule, event) {
		t.Error("expected in cooldown before five minutes")
	}

	clock.Advance(2 * time.Second)
	if tracker.InCooldown(context.Background(), rule, event) {
		t.Error("expected cooldown elapsed after five minutes")
	}
}

func TestCooldownTracker_KeyedByResource(t *testing.T) {
	clock := newMockClock()
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, clock, &mockLogger{})
	rule := testRule("rule_1")

	tracker.UpdateCooldown(context.Background(), rule, testEvent(), clock.Now())

	other := testEvent()
	other.ResourceID = "d2"
	if tracker.InCooldown(context.Background(), rule, other) {
		t.Error("cooldown must be scoped to the resource")
	}
	if tracker.InCooldown(context.Background(), testRule("rule_2"), testEvent()) {
		t.Error("cooldown must be scoped to the rule")
	}
}

func TestCooldownTracker_UpdateIsMonotonic(t *testing.T) {
	clock := newMockClock()
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, clock, &mockLogger{})
	rule := testRule("rule_1")
	event := testEvent()

	now := clock.Now()
	tracker.UpdateCooldown(context.Background(), rule, event, now)
	tracker.UpdateCooldown(context.Background(), rule, event, now.Add(-time.Hour))

	got := store.last[cooldownKey("rule_1", string(types.ResourceDevice), "d1")]
	if !got.Equal(now) {
		t.Errorf("expected %v, got %v", now, got)
	}
}

func TestCooldownTracker_StoreErrorFailsOpen(t *testing.T) {
	store := newMockCooldownStore()
	store.activeErr = errors.New("timeout")
	logger := &mockLogger{}
	tracker := NewCooldownTracker(store, newMockClock(), logger)

	if tracker.InCooldown(context.Background(), testRule("rule_1"), testEvent()) {
		t.Error("expected store error to fail open")
	}
	if !logger.has("WARN: cooldown check failed, sending anyway") {
		t.Error("expected warning to be logged")
	}
}

func TestCooldownTracker_AcquireHasSingleWinner(t *testing.T) {
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, newMockClock(), &mockLogger{})
	rule := testRule("rule_1")

	var mu sync.Mutex
	var wg sync.WaitGroup
	winners := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tracker.Acquire(context.Background(), rule, testEvent()); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestCooldownTracker_ReleaseRestoresPrior(t *testing.T) {
	clock := newMockClock()
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, clock, &mockLogger{})
	rule := testRule("rule_1")
	key := cooldownKey("rule_1", string(types.ResourceDevice), "d1")

	hold, ok := tracker.Acquire(context.Background(), rule, testEvent())
	if !ok {
		t.Fatal("expected first acquire to win")
	}
	tracker.Release(context.Background(), hold)
	if _, exists := store.last[key]; exists {
		t.Error("releasing the first reservation must remove the key")
	}

	earlier := clock.Now()
	tracker.UpdateCooldown(context.Background(), rule, testEvent(), earlier)
	clock.Advance(6 * time.Minute)

	hold, ok = tracker.Acquire(context.Background(), rule, testEvent())
	if !ok {
		t.Fatal("expected acquire after the window to win")
	}
	tracker.Release(context.Background(), hold)
	if got := store.last[key]; !got.Equal(earlier) {
		t.Errorf("expected prior timestamp %v restored, got %v", earlier, got)
	}
}

func TestCooldownTracker_ReleaseKeepsLaterUpdate(t *testing.T) {
	clock := newMockClock()
	store := newMockCooldownStore()
	tracker := NewCooldownTracker(store, clock, &mockLogger{})
	rule := testRule("rule_1")

	hold, _ := tracker.Acquire(context.Background(), rule, testEvent())
	later := clock.Now().Add(time.Second)
	tracker.UpdateCooldown(context.Background(), rule, testEvent(), later)
	tracker.Release(context.Background(), hold)

	if got := store.last[cooldownKey("rule_1", string(types.ResourceDevice), "d1")]; !got.Equal(later) {
		t.Errorf("release must not undo a newer notification, got %v", got)
	}
}

func TestCooldownTracker_AcquireStoreErrorFailsOpen(t *testing.T) {
	store := newMockCooldownStore()
	store.reserveErr = errors.New("timeout")
	logger := &mockLogger{}
	tracker := NewCooldownTracker(store, newMockClock(), logger)

	hold, ok := tracker.Acquire(context.Background(), testRule("rule_1"), testEvent())
	if !ok {
		t.Error("expected store error to fail open")
	}
	tracker.Release(context.Background(), hold)
	if !logger.has("WARN: cooldown reserve failed, sending anyway") {
		t.Error("expected warning to be logged")
	}
}

func TestNotificationRule_CooldownMinimum(t *testing.T) {
	r := types.NotificationRule{CooldownMinutes: 0}
	if r.Cooldown() != time.Minute {
		t.Errorf("expected 1m floor, got %v", r.Cooldown())
	}
}
