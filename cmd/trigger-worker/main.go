// Package main is the entrypoint for the Trigger Worker Lambda function.
//
// The worker consumes the trigger queue filled by the SQS submitter and runs
// the synchronous dispatch pipeline for each message. Delivery failures are
// handled by the pipeline itself (history plus retry queue), so a processed
// message is always acknowledged. Malformed messages are logged and dropped.
// Only records left unprocessed when the invocation runs out of time are
// reported as batch item failures for SQS to redeliver.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"alertrelay/internal/app"
	"alertrelay/internal/config"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/queue"
	"alertrelay/internal/types"
)

// Handler holds the dependencies for the trigger worker Lambda handler.
type Handler struct {
	trigger core.Trigger
	logger  types.Logger
}

// Handle processes an SQS event containing one or more trigger messages.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if ctx.Err() != nil {
			// Out of time: hand the rest back to SQS untouched.
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			continue
		}
		h.processMessage(ctx, record)
	}

	if n := len(response.BatchItemFailures); n > 0 {
		h.logger.Warn("invocation deadline reached, returning unprocessed records", "count", n)
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) {
	msg, err := queue.DecodeTriggerMessage(record.Body)
	if err != nil {
		// Permanent parse failure - do not retry.
		h.logger.Error("dropping malformed trigger message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return
	}

	log := h.logger.With(
		"message_id", record.MessageId,
		"trigger_id", msg.MessageID,
		"producer", msg.Producer,
		"event_type", string(msg.Event.Type),
		"resource_id", msg.Event.ResourceID,
	)

	results, err := h.trigger.Trigger(ctx, msg.Event)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			log.Error("dropping rejected trigger event", "code", string(appErr.Code), "error", appErr.Message)
		} else {
			log.Error("dropping rejected trigger event", "error", err.Error())
		}
		return
	}

	log.Info("trigger message processed",
		"deliveries", len(results),
		"any_succeeded", core.AnySucceeded(results),
	)
}

func main() {
	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Trigger Worker Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(cfg.LogLevel)

	rt, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to bootstrap engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	h := &Handler{
		trigger: rt.Engine.Dispatcher,
		logger:  rt.Engine.Logger,
	}
	lambda.Start(h.Handle)
}
