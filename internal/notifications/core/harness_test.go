package core

import (
	"alertrelay/internal/types"
)

// harness wires a full pipeline over in-memory stores.
type harness struct {
	clock     *mockClock
	logger    *mockLogger
	rules     *mockRuleStore
	channels  *mockChannelStore
	cooldowns *mockCooldownStore
	history   *mockHistoryStore
	retry     *mockRetryStore
	sender    *scriptedSender
	sleeps    *recordingSleep
	metrics   *countingMetrics

	registry     *SenderRegistry
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	manager      *RetryManager
}

func newHarness(results ...SendResult) *harness {
	h := &harness{
		clock:     newMockClock(),
		logger:    &mockLogger{},
		rules:     &mockRuleStore{},
		channels:  &mockChannelStore{},
		cooldowns: newMockCooldownStore(),
		history:   &mockHistoryStore{},
		retry:     newMockRetryStore(),
		sender:    &scriptedSender{typ: types.ChannelEmail, results: results},
		sleeps:    &recordingSleep{},
		metrics:   newCountingMetrics(),
	}
	if len(h.sender.results) == 0 {
		h.sender.results = []SendResult{Succeeded(202, "msg_1")}
	}

	h.registry = NewSenderRegistry([]Sender{h.sender})
	tracker := NewCooldownTracker(h.cooldowns, h.clock, h.logger)
	h.orchestrator = NewOrchestrator(OrchestratorDeps{
		Channels:  h.channels,
		Senders:   h.registry,
		History:   h.history,
		Retry:     h.retry,
		Cooldowns: tracker,
		Clock:     h.clock,
		Logger:    h.logger,
		Metrics:   h.metrics,
	}, DefaultImmediatePolicy, DefaultRetryPolicy).WithSleep(h.sleeps.sleep)

	h.dispatcher = NewDispatcher(NewRuleMatcher(h.rules, h.logger), tracker, h.orchestrator, h.clock, h.logger)

	h.manager = NewRetryManager(RetryManagerDeps{
		Queue:    h.retry,
		Rules:    h.rules,
		Channels: h.channels,
		Senders:  h.registry,
		History:  h.history,
		Clock:    h.clock,
		Logger:   h.logger,
		Metrics:  h.metrics,
	}, RetryManagerConfig{Policy: DefaultRetryPolicy, BatchSize: 50, Concurrency: 4})
	return h
}
