package core

import (
	"context"
	"fmt"
	"sync"

	"alertrelay/internal/types"
)

// Submitter accepts events for delivery without waiting for the outcome.
// Implementations return quickly; delivery failures surface only through
// history and the retry queue.
type Submitter interface {
	Submit(ctx context.Context, event types.NotificationEvent) error
}

// Trigger runs the synchronous delivery pipeline. *Dispatcher implements it.
type Trigger interface {
	Trigger(ctx context.Context, event types.NotificationEvent) ([]ChannelResult, error)
}

var (
	_ Submitter = (*AsyncSubmitter)(nil)
	_ Trigger   = (*Dispatcher)(nil)
)

// AsyncSubmitter is an in-process bounded queue drained by a fixed worker
// pool that calls Trigger for each event.
type AsyncSubmitter struct {
	trigger Trigger
	logger  types.Logger
	metrics NotificationMetrics

	mu     sync.RWMutex
	closed bool
	queue  chan types.NotificationEvent
	wg     sync.WaitGroup
}

// NewAsyncSubmitter starts workers goroutines reading from a queue of
// queueSize events.
func NewAsyncSubmitter(trigger Trigger, workers, queueSize int, logger types.Logger, metrics NotificationMetrics) *AsyncSubmitter {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	s := &AsyncSubmitter{
		trigger: trigger,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan types.NotificationEvent, queueSize),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Submit enqueues event. It validates the event, then fails with
// ErrCodeRateLimit when the queue is full and ErrCodeServiceShuttingDown
// after Shutdown.
func (s *AsyncSubmitter) Submit(ctx context.Context, event types.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewAppError(types.ErrCodeServiceShuttingDown, "submitter is shutting down", nil)
	}

	select {
	case s.queue <- event:
		return nil
	default:
		s.metrics.RecordSubmitDropped(ctx)
		s.logger.Warn("submit queue full, event rejected",
			"event_type", string(event.Type),
			"resource_id", event.ResourceID,
		)
		return types.NewAppError(types.ErrCodeRateLimit, "notification queue is full", nil)
	}
}

// Shutdown stops accepting events and waits for queued events to be
// processed, or for ctx to expire.
func (s *AsyncSubmitter) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submitter shutdown: %w", ctx.Err())
	}
}

func (s *AsyncSubmitter) worker() {
	defer s.wg.Done()
	for event := range s.queue {
		s.process(event)
	}
}

func (s *AsyncSubmitter) process(event types.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("trigger panicked", "panic", fmt.Sprint(r), "resource_id", event.ResourceID)
		}
	}()

	results, err := s.trigger.Trigger(context.Background(), event)
	if err != nil {
		s.logger.Warn("submitted event rejected", "error", err.Error(), "resource_id", event.ResourceID)
		return
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("submitted event partially failed",
			"event_type", string(event.Type),
			"resource_id", event.ResourceID,
			"deliveries", len(results),
			"failed", failed,
		)
	}
}
