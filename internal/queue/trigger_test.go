package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"alertrelay/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// --- Test Helpers ---

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/alertrelay-trigger"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSubmitter(mock *mockSQSSender) *SQSSubmitter {
	return NewSQSSubmitter(mock, testQueueURL, fixedClock{testNow}, nopLogger{})
}

func validEvent() types.NotificationEvent {
	return types.NotificationEvent{
		Type:           types.EventDeviceOffline,
		OrganizationID: "org_1",
		ResourceType:   types.ResourceDevice,
		ResourceID:     "d1",
		Data:           map[string]any{"ip_address": "10.0.0.1"},
	}
}

// --- Tests ---

func TestSubmit_PublishesMessage(t *testing.T) {
	mock := &mockSQSSender{}
	s := newTestSubmitter(mock)
	ctx := types.WithProducer(context.Background(), "monitor")

	if err := s.Submit(ctx, validEvent()); err != nil {
		t.Fatalf("Submit returned unexpected error: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}

	call := mock.calls[0]
	if *call.QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *call.QueueUrl)
	}
	if got := *call.MessageAttributes["event_type"].StringValue; got != "device.offline" {
		t.Errorf("event_type attribute = %q", got)
	}

	var msg TriggerMessage
	if err := json.Unmarshal([]byte(*call.MessageBody), &msg); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if msg.MessageID == "" {
		t.Error("expected a message ID")
	}
	if msg.Producer != "monitor" {
		t.Errorf("Producer = %q, want monitor", msg.Producer)
	}
	if !msg.Event.Timestamp.Equal(testNow) {
		t.Errorf("zero timestamp should be stamped, got %v", msg.Event.Timestamp)
	}
	if msg.Event.Data["ip_address"] != "10.0.0.1" {
		t.Errorf("event data lost: %v", msg.Event.Data)
	}
}

func TestSubmit_RejectsInvalidEvent(t *testing.T) {
	mock := &mockSQSSender{}
	s := newTestSubmitter(mock)

	ev := validEvent()
	ev.ResourceID = ""
	err := s.Submit(context.Background(), ev)

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationMissingField {
		t.Fatalf("expected missing-field error, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Error("invalid events must not be published")
	}
}

func TestSubmit_SQSFailure(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("throttled")}
	s := newTestSubmitter(mock)

	err := s.Submit(context.Background(), validEvent())

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestDecodeTriggerMessage(t *testing.T) {
	mock := &mockSQSSender{}
	s := newTestSubmitter(mock)
	if err := s.Submit(context.Background(), validEvent()); err != nil {
		t.Fatal(err)
	}

	msg, err := DecodeTriggerMessage(*mock.calls[0].MessageBody)
	if err != nil {
		t.Fatalf("DecodeTriggerMessage: %v", err)
	}
	if msg.Event.ResourceID != "d1" {
		t.Errorf("ResourceID = %q", msg.Event.ResourceID)
	}

	if _, err := DecodeTriggerMessage("{not json"); err == nil {
		t.Error("expected error for malformed body")
	}
	if _, err := DecodeTriggerMessage(`{"event":{"type":"bogus"}}`); err == nil {
		t.Error("expected error for invalid event")
	}
}
