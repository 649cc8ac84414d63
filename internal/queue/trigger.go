// Package queue provides the SQS-backed event submitter and the message
// format consumed by the trigger worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// TriggerMessage is the SQS body for one submitted event.
type TriggerMessage struct {
	MessageID  string                  `json:"message_id"`
	Producer   string                  `json:"producer,omitempty"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
	Event      types.NotificationEvent `json:"event"`
}

// SQSSubmitter implements core.Submitter by publishing events to the
// trigger queue. The trigger worker runs the synchronous pipeline for each
// message, so delivery outlives the submitting process.
type SQSSubmitter struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

var _ core.Submitter = (*SQSSubmitter)(nil)

// NewSQSSubmitter creates an SQSSubmitter publishing to queueURL.
func NewSQSSubmitter(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *SQSSubmitter {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SQSSubmitter{client: client, queueURL: queueURL, clock: clock, logger: logger}
}

// Submit validates event and publishes it. Publishing failures are returned
// as ErrCodeUpstreamUnavailable so the caller can report them.
func (s *SQSSubmitter) Submit(ctx context.Context, event types.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	msg := TriggerMessage{
		MessageID:  uuid.New().String(),
		Producer:   types.GetProducer(ctx),
		EnqueuedAt: s.clock.Now(),
		Event:      event,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal TriggerMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
			"organization_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.OrganizationID),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.logger.Error("trigger message send failed", "event_type", string(event.Type), "error", err.Error())
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to enqueue event", err)
	}

	s.logger.Info("trigger message sent",
		"message_id", msg.MessageID,
		"event_type", string(event.Type),
		"organization_id", event.OrganizationID,
		"resource_id", event.ResourceID,
	)
	return nil
}

// DecodeTriggerMessage parses and validates an SQS body produced by
// SQSSubmitter.
func DecodeTriggerMessage(body string) (TriggerMessage, error) {
	var msg TriggerMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return TriggerMessage{}, types.NewAppError(types.ErrCodeValidationInvalidBody, "trigger message is not valid JSON", err)
	}
	if err := msg.Event.Validate(); err != nil {
		return TriggerMessage{}, err
	}
	return msg, nil
}
