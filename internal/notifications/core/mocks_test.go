package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alertrelay/internal/types"
)

type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *mockLogger) Info(msg string, _ ...any)  { l.log("INFO", msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.log("WARN", msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.log("ERROR", msg) }
func (l *mockLogger) With(_ ...any) types.Logger { return l }

func (l *mockLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRuleStore serves rules from memory.
type mockRuleStore struct {
	rules   []types.NotificationRule
	listErr error
	getErr  error
}

func (s *mockRuleStore) ListEnabledForEvent(_ context.Context, orgID string, eventType types.EventType) ([]types.NotificationRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.NotificationRule
	for _, r := range s.rules {
		if r.OrganizationID == orgID && r.EventType == eventType && r.IsEnabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *mockRuleStore) GetByID(_ context.Context, id string) (*types.NotificationRule, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, r := range s.rules {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
}

// mockChannelStore serves channels from memory.
type mockChannelStore struct {
	channels []types.NotificationChannel
	listErr  error
	getErr   error
}

func (s *mockChannelStore) ListEnabledByIDs(_ context.Context, ids []string) ([]types.NotificationChannel, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.NotificationChannel
	for _, id := range ids {
		for _, c := range s.channels {
			if c.ID == id && c.IsEnabled {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *mockChannelStore) GetByID(_ context.Context, id string) (*types.NotificationChannel, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, c := range s.channels {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
}

// mockCooldownStore keeps last_notified_at per key.
type mockCooldownStore struct {
	mu         sync.Mutex
	last       map[string]time.Time
	upserts    []types.CooldownRecord
	activeErr  error
	reserveErr error
}

func newMockCooldownStore() *mockCooldownStore {
	return &mockCooldownStore{last: map[string]time.Time{}}
}

func cooldownKey(ruleID, rt, rid string) string { return ruleID + "|" + rt + "|" + rid }

func (s *mockCooldownStore) IsActive(_ context.Context, ruleID, rt, rid string, since time.Time) (bool, error) {
	if s.activeErr != nil {
		return false, s.activeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[cooldownKey(ruleID, rt, rid)]
	return ok && t.After(since), nil
}

func (s *mockCooldownStore) Upsert(_ context.Context, rec types.CooldownRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, rec)
	key := cooldownKey(rec.RuleID, rec.ResourceType, rec.ResourceID)
	if cur, ok := s.last[key]; !ok || rec.LastNotifiedAt.After(cur) {
		s.last[key] = rec.LastNotifiedAt
	}
	return nil
}

func (s *mockCooldownStore) Reserve(_ context.Context, rec types.CooldownRecord, since time.Time) (bool, *time.Time, error) {
	if s.reserveErr != nil {
		return false, nil, s.reserveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cooldownKey(rec.RuleID, rec.ResourceType, rec.ResourceID)
	cur, ok := s.last[key]
	if ok && cur.After(since) {
		return false, nil, nil
	}
	s.last[key] = rec.LastNotifiedAt
	if !ok {
		return true, nil, nil
	}
	return true, &cur, nil
}

func (s *mockCooldownStore) Restore(_ context.Context, rec types.CooldownRecord, prev *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cooldownKey(rec.RuleID, rec.ResourceType, rec.ResourceID)
	if cur, ok := s.last[key]; !ok || !cur.Equal(rec.LastNotifiedAt) {
		return nil
	}
	if prev == nil {
		delete(s.last, key)
	} else {
		s.last[key] = *prev
	}
	return nil
}

type mockHistoryStore struct {
	mu      sync.Mutex
	records []types.NotificationHistoryRecord
}

func (s *mockHistoryStore) Record(_ context.Context, rec *types.NotificationHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = fmt.Sprintf("hist_%d", len(s.records)+1)
	s.records = append(s.records, *rec)
	return nil
}

// mockRetryStore is an in-memory retry queue with the same conditional
// transition semantics as the SQL repository.
type mockRetryStore struct {
	mu       sync.Mutex
	entries  map[string]*types.RetryQueueEntry
	order    []string
	seq      int
	claims   int
	listErr  error
	enqueued []types.RetryQueueEntry
}

func newMockRetryStore() *mockRetryStore {
	return &mockRetryStore{entries: map[string]*types.RetryQueueEntry{}}
}

func (s *mockRetryStore) put(e types.RetryQueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = &e
	s.order = append(s.order, e.ID)
}

func (s *mockRetryStore) get(id string) types.RetryQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

func (s *mockRetryStore) Enqueue(_ context.Context, e *types.RetryQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if e.ID == "" {
		e.ID = fmt.Sprintf("rq_%d", s.seq)
	}
	cp := *e
	s.entries[e.ID] = &cp
	s.order = append(s.order, e.ID)
	s.enqueued = append(s.enqueued, cp)
	return nil
}

func (s *mockRetryStore) ListDue(_ context.Context, now time.Time, limit int) ([]types.RetryQueueEntry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.RetryQueueEntry
	for _, id := range s.order {
		e := s.entries[id]
		if e.Status == types.RetryStatusQueued && !e.NextAttemptAt.After(now) {
			out = append(out, *e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockRetryStore) Claim(_ context.Context, id string, attempts int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != types.RetryStatusQueued || e.NextAttemptAt.After(now) || e.AttemptCount != attempts {
		return false, nil
	}
	s.claims++
	e.Status = types.RetryStatusProcessing
	e.LockedAt = &now
	return true, nil
}

func (s *mockRetryStore) transition(id string, fn func(e *types.RetryQueueEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != types.RetryStatusProcessing {
		return types.NewAppError(types.ErrCodeNotFoundRetryEntry, "entry not processing", nil)
	}
	fn(e)
	e.LockedAt = nil
	return nil
}

func (s *mockRetryStore) MarkSent(_ context.Context, id string, attempts int, now time.Time) error {
	return s.transition(id, func(e *types.RetryQueueEntry) {
		e.Status = types.RetryStatusSent
		e.AttemptCount = attempts
		e.ProcessedAt = &now
	})
}

func (s *mockRetryStore) MarkDeadLetter(_ context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return s.transition(id, func(e *types.RetryQueueEntry) {
		e.Status = types.RetryStatusDeadLetter
		e.AttemptCount = attempts
		e.LastError = &lastErr
		e.ProcessedAt = &now
	})
}

func (s *mockRetryStore) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return s.transition(id, func(e *types.RetryQueueEntry) {
		e.Status = types.RetryStatusQueued
		e.AttemptCount = attempts
		e.NextAttemptAt = next
		e.LastError = &lastErr
	})
}

func (s *mockRetryStore) ReleaseStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Status == types.RetryStatusProcessing && e.LockedAt != nil && e.LockedAt.Before(cutoff) {
			e.Status = types.RetryStatusQueued
			e.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// scriptedSender returns its results in order, repeating the last one.
type scriptedSender struct {
	mu      sync.Mutex
	typ     types.ChannelType
	results []SendResult
	calls   int
	events  []types.NotificationEvent
}

func (s *scriptedSender) Type() types.ChannelType { return s.typ }

func (s *scriptedSender) Send(_ context.Context, event types.NotificationEvent, _ types.NotificationRule, _ types.NotificationChannel) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	deliveries map[MetricResult]int
	outcomes   map[RetryOutcome]int
	dropped    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{deliveries: map[MetricResult]int{}, outcomes: map[RetryOutcome]int{}}
}

func (m *countingMetrics) RecordDelivery(_ context.Context, _ types.ChannelType, r MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[r]++
}

func (m *countingMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}

func (m *countingMetrics) RecordRetryOutcome(_ context.Context, o RetryOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o]++
}

func (m *countingMetrics) RecordSubmitDropped(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func testEvent() types.NotificationEvent {
	return types.NotificationEvent{
		Type:           types.EventDeviceOffline,
		OrganizationID: "org_1",
		ResourceType:   types.ResourceDevice,
		ResourceID:     "d1",
		ResourceName:   "edge-router",
		Data:           map[string]any{"ip_address": "10.0.0.1", "category_id": "cat_a"},
		Timestamp:      time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

func testRule(id string, channelIDs ...string) types.NotificationRule {
	return types.NotificationRule{
		ID:              id,
		OrganizationID:  "org_1",
		Name:            "Offline " + id,
		EventType:       types.EventDeviceOffline,
		ChannelIDs:      channelIDs,
		CooldownMinutes: 5,
		IsEnabled:       true,
	}
}

func emailChannel(id string) types.NotificationChannel {
	return types.NotificationChannel{
		ID:        id,
		Name:      "Ops email",
		Type:      types.ChannelEmail,
		Config:    map[string]any{"recipients": []any{"ops@example.com"}},
		IsEnabled: true,
	}
}
