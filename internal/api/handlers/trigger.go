// Package handlers contains the HTTP handlers of the alertrelay API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"alertrelay/internal/core"
	notifications "alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// TriggerRequest is the body of both trigger endpoints.
type TriggerRequest struct {
	Type           types.EventType    `json:"type" validate:"required"`
	OrganizationID string             `json:"organization_id" validate:"required,max=128"`
	ResourceType   types.ResourceType `json:"resource_type" validate:"required,oneof=device agent"`
	ResourceID     string             `json:"resource_id" validate:"required,max=256"`
	ResourceName   string             `json:"resource_name" validate:"max=512"`
	Data           map[string]any     `json:"data"`
	Timestamp      *time.Time         `json:"timestamp"`
}

func (req TriggerRequest) toEvent() types.NotificationEvent {
	event := types.NotificationEvent{
		Type:           req.Type,
		OrganizationID: req.OrganizationID,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		ResourceName:   req.ResourceName,
		Data:           req.Data,
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	}
	return event
}

// TriggerResponse is returned by the synchronous trigger endpoint.
type TriggerResponse struct {
	// Success is true when at least one channel accepted the event.
	Success bool                          `json:"success"`
	Results []notifications.ChannelResult `json:"results"`
}

// TriggerHandler exposes the dispatch pipeline over HTTP.
type TriggerHandler struct {
	trigger   notifications.Trigger
	submitter notifications.Submitter
	validator *core.Validator
	logger    *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler. submitter may be nil, in which
// case the async endpoint is not mounted.
func NewTriggerHandler(trigger notifications.Trigger, submitter notifications.Submitter, v *core.Validator, l *slog.Logger) *TriggerHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator()
	}
	return &TriggerHandler{trigger: trigger, submitter: submitter, validator: v, logger: l}
}

// RegisterRoutes mounts the trigger endpoints on a /v1 router.
func (h *TriggerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/trigger", h.Trigger)
		if h.submitter != nil {
			r.Post("/events", h.Submit)
		}
	})
}

// Trigger handles POST /v1/notifications/trigger. It runs matching,
// cooldown and delivery before responding. Delivery failures are reported
// in the results, never as an HTTP error.
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	results, err := h.trigger.Trigger(r.Context(), event)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "event triggered",
		slog.String("event_type", string(event.Type)),
		slog.String("resource_id", event.ResourceID),
		slog.String("producer", types.GetProducer(r.Context())),
		slog.Int("deliveries", len(results)),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: TriggerResponse{
			Success: notifications.AnySucceeded(results),
			Results: results,
		},
	})
}

// Submit handles POST /v1/notifications/events. The event is accepted for
// background delivery and the handler answers 202 without waiting.
func (h *TriggerHandler) Submit(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	// The request context ends with the response; the submitter owns the
	// event from here on.
	if err := h.submitter.Submit(context.WithoutCancel(r.Context()), event); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{
		Data: map[string]string{"status": "accepted"},
	})
}

func (h *TriggerHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (types.NotificationEvent, bool) {
	var req TriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return types.NotificationEvent{}, false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return types.NotificationEvent{}, false
	}

	event := req.toEvent()
	if err := event.Validate(); err != nil {
		core.Error(w, r, err)
		return types.NotificationEvent{}, false
	}
	return event, true
}
