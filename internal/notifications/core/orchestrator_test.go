package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"alertrelay/internal/types"
)

func TestOrchestrator_ProviderFailsThreeTimes_QueuesRetry(t *testing.T) {
	h := newHarness(TransientFailure(500, "upstream returned 500"))
	h.channels.channels = []types.NotificationChannel{emailChannel("ch_1")}
	rule := testRule("rule_1", "ch_1")

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), rule)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Success {
		t.Error("expected failure")
	}
	if r.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts)
	}
	if h.sender.callCount() != 3 {
		t.Errorf("expected 3 sender calls, got %d", h.sender.callCount())
	}

	wantSleeps := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(h.sleeps.delays) != len(wantSleeps) {
		t.Fatalf("expected sleeps %v, got %v", wantSleeps, h.sleeps.delays)
	}
	for i, d := range wantSleeps {
		if h.sleeps.delays[i] != d {
			t.Errorf("sleep %d: expected %v, got %v", i, d, h.sleeps.delays[i])
		}
	}

	if len(h.history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(h.history.records))
	}
	if h.history.records[0].Status != types.HistoryStatusFailed {
		t.Errorf("expected failed history, got %s", h.history.records[0].Status)
	}

	if len(h.retry.enqueued) != 1 {
		t.Fatalf("expected 1 retry entry, got %d", len(h.retry.enqueued))
	}
	entry := h.retry.enqueued[0]
	if entry.Status != types.RetryStatusQueued {
		t.Errorf("expected queued, got %s", entry.Status)
	}
	if entry.AttemptCount != 0 {
		t.Errorf("expected attempt_count 0, got %d", entry.AttemptCount)
	}
	if entry.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", entry.MaxAttempts)
	}
	wantNext := h.clock.Now().Add(120 * time.Second)
	if !entry.NextAttemptAt.Equal(wantNext) {
		t.Errorf("expected next_attempt_at %v, got %v", wantNext, entry.NextAttemptAt)
	}
	if entry.EventData["rule_id"] != "rule_1" || entry.EventData["channel_id"] != "ch_1" {
		t.Errorf("event_data missing rule/channel ids: %v", entry.EventData)
	}
	if entry.EventData["resource_id"] != "d1" || entry.EventData["resource_type"] != "device" {
		t.Errorf("event_data missing resource fields: %v", entry.EventData)
	}
	if r.RetryEntryID != entry.ID {
		t.Errorf("expected result to reference entry %s, got %s", entry.ID, r.RetryEntryID)
	}

	if len(h.cooldowns.upserts) != 0 {
		t.Error("cooldown must not be updated when no channel succeeded")
	}
}

func TestOrchestrator_SucceedsOnSecondAttempt(t *testing.T) {
	h := newHarness(TransientFailure(500, "upstream returned 500"), Succeeded(200, "msg_2"))
	h.channels.channels = []types.NotificationChannel{emailChannel("ch_1")}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_1"))

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected single success, got %+v", results)
	}
	if results[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", results[0].Attempts)
	}
	if len(h.history.records) != 1 || h.history.records[0].Status != types.HistoryStatusSent {
		t.Fatalf("expected 1 sent history record, got %+v", h.history.records)
	}
	if len(h.retry.enqueued) != 0 {
		t.Errorf("expected no retry entries, got %d", len(h.retry.enqueued))
	}
	if len(h.cooldowns.upserts) != 1 {
		t.Fatalf("expected 1 cooldown upsert, got %d", len(h.cooldowns.upserts))
	}
	if h.cooldowns.upserts[0].LastNotifiedAt.Before(h.clock.Now()) {
		t.Error("cooldown timestamp must not precede now")
	}
	if h.metrics.deliveries[MetricSuccess] != 1 {
		t.Errorf("expected 1 success metric, got %d", h.metrics.deliveries[MetricSuccess])
	}
}

func TestOrchestrator_ConfigFailure_NoRetry(t *testing.T) {
	h := newHarness(ConfigFailure("email channel has no recipients"))
	h.channels.channels = []types.NotificationChannel{emailChannel("ch_1")}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_1"))

	if h.sender.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", h.sender.callCount())
	}
	if len(h.sleeps.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", h.sleeps.delays)
	}
	if results[0].Success || results[0].Error == "" {
		t.Errorf("expected failure with error, got %+v", results[0])
	}
	if len(h.history.records) != 1 || h.history.records[0].Status != types.HistoryStatusFailed {
		t.Errorf("expected failed history record")
	}
	if len(h.retry.enqueued) != 0 {
		t.Errorf("configuration errors must not be queued, got %d entries", len(h.retry.enqueued))
	}
}

func TestOrchestrator_UnknownChannelType_FailsImmediately(t *testing.T) {
	h := newHarness()
	h.channels.channels = []types.NotificationChannel{{ID: "ch_x", Type: "pager", IsEnabled: true}}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_x"))

	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected failure, got %+v", results)
	}
	if results[0].Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", results[0].Attempts)
	}
	if h.sender.callCount() != 0 {
		t.Error("no registered sender should be invoked")
	}
}

func TestOrchestrator_OneChannelFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(Succeeded(202, "msg"))
	// The webhook sender always fails.
	failing := &scriptedSender{typ: types.ChannelWebhook, results: []SendResult{TransientFailure(503, "unavailable")}}
	h.registry.Register(failing)

	h.channels.channels = []types.NotificationChannel{
		{ID: "ch_hook", Type: types.ChannelWebhook, IsEnabled: true},
		emailChannel("ch_mail"),
	}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_hook", "ch_mail"))

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success || !results[1].Success {
		t.Errorf("expected [fail, success], got %+v", results)
	}
	if len(h.history.records) != 2 {
		t.Errorf("expected 2 history records, got %d", len(h.history.records))
	}
	if len(h.retry.enqueued) != 1 || h.retry.enqueued[0].ChannelID != "ch_hook" {
		t.Errorf("expected one retry entry for ch_hook, got %+v", h.retry.enqueued)
	}
	if len(h.cooldowns.upserts) != 1 {
		t.Error("cooldown should update when at least one channel succeeded")
	}
}

func TestOrchestrator_DisabledAndMissingChannelsSkipped(t *testing.T) {
	h := newHarness()
	disabled := emailChannel("ch_off")
	disabled.IsEnabled = false
	h.channels.channels = []types.NotificationChannel{disabled}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_off", "ch_gone"))

	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
	if len(h.history.records) != 0 || len(h.retry.enqueued) != 0 {
		t.Error("skipped channels must not produce history or retry entries")
	}
}

func TestOrchestrator_ChannelLookupError_EscalatesToQueue(t *testing.T) {
	h := newHarness()
	h.channels.listErr = errors.New("connection refused")

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_1", "ch_2"))

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(h.retry.enqueued) != 2 {
		t.Errorf("expected 2 retry entries, got %d", len(h.retry.enqueued))
	}
	if h.sender.callCount() != 0 {
		t.Error("sender must not be called without channels")
	}

	if len(h.history.records) != 2 {
		t.Fatalf("expected one history row per channel, got %d", len(h.history.records))
	}
	for i, rec := range h.history.records {
		if rec.ChannelID != []string{"ch_1", "ch_2"}[i] || rec.Status != types.HistoryStatusFailed {
			t.Errorf("history[%d] = %s/%s, want failed row for its channel", i, rec.ChannelID, rec.Status)
		}
		if rec.Error == nil || *rec.Error != results[i].Error {
			t.Errorf("history[%d] error = %v, want %q", i, rec.Error, results[i].Error)
		}
	}
}

func TestOrchestrator_LongErrorTruncated(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	h := newHarness(SendResult{Error: string(long), Retryable: true})
	h.channels.channels = []types.NotificationChannel{emailChannel("ch_1")}

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_1"))

	if got := len([]rune(results[0].Error)); got > ErrorMaxLength {
		t.Errorf("expected truncated error, got %d runes", got)
	}
	if h.history.records[0].Error == nil || len(*h.history.records[0].Error) > ErrorMaxLength {
		t.Error("expected truncated history error")
	}
}

func TestOrchestrator_CancelledSleepStopsAttempts(t *testing.T) {
	h := newHarness(TransientFailure(500, "boom"))
	h.channels.channels = []types.NotificationChannel{emailChannel("ch_1")}
	h.orchestrator.WithSleep(func(context.Context, time.Duration) error { return context.Canceled })

	results := h.orchestrator.DeliverRule(context.Background(), testEvent(), testRule("rule_1", "ch_1"))

	if h.sender.callCount() != 1 {
		t.Errorf("expected 1 call before interruption, got %d", h.sender.callCount())
	}
	if len(h.retry.enqueued) != 1 {
		t.Errorf("interrupted delivery should be queued, got %d", len(h.retry.enqueued))
	}
	if results[0].Success {
		t.Error("expected failure")
	}
}
