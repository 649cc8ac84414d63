package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NotificationEvent is a state change worth alerting on. It is built by the
// producer and consumed synchronously by the trigger path; only its
// consequences (history, cooldowns, retry entries) are persisted.
type NotificationEvent struct {
	Type           EventType      `json:"type" validate:"required"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	ResourceType   ResourceType   `json:"resource_type" validate:"required,oneof=device agent"`
	ResourceID     string         `json:"resource_id" validate:"required"`
	ResourceName   string         `json:"resource_name"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Validate checks the fields the pipeline depends on. A zero Timestamp is
// not an error; the dispatcher stamps it with the current time.
func (e NotificationEvent) Validate() error {
	switch {
	case e.Type == "":
		return NewAppError(ErrCodeValidationMissingField, "type is required", nil)
	case !e.Type.IsValid():
		return NewAppError(ErrCodeValidationInvalidEventType, fmt.Sprintf("unknown event type %q", e.Type), nil)
	case e.OrganizationID == "":
		return NewAppError(ErrCodeValidationMissingField, "organization_id is required", nil)
	case !e.ResourceType.IsValid():
		return NewAppError(ErrCodeValidationInvalidResource, fmt.Sprintf("unknown resource type %q", e.ResourceType), nil)
	case e.ResourceID == "":
		return NewAppError(ErrCodeValidationMissingField, "resource_id is required", nil)
	}
	return nil
}

// DataString returns the value stored under key in the event data as a
// string. Numbers are formatted without exponent or trailing zeros, so a
// JSON 42 reads as "42". Absent keys and other types give "".
func (e NotificationEvent) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	switch v := e.Data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// RuleFilters narrows a rule to specific resources. An empty list places
// no constraint on the corresponding identifier.
type RuleFilters struct {
	DeviceIDs   []string `json:"device_ids,omitempty"`
	AgentIDs    []string `json:"agent_ids,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	SegmentIDs  []string `json:"segment_ids,omitempty"`
}

// IsEmpty reports whether no filter list is set.
func (f RuleFilters) IsEmpty() bool {
	return len(f.DeviceIDs) == 0 && len(f.AgentIDs) == 0 &&
		len(f.CategoryIDs) == 0 && len(f.SegmentIDs) == 0
}

// NotificationRule binds an event type and filters to a set of channels.
type NotificationRule struct {
	ID              string      `json:"id"`
	OrganizationID  string      `json:"organization_id"`
	Name            string      `json:"name"`
	EventType       EventType   `json:"event_type"`
	ChannelIDs      []string    `json:"channel_ids"`
	Filters         RuleFilters `json:"filters"`
	CooldownMinutes int         `json:"cooldown_minutes"`
	IsEnabled       bool        `json:"is_enabled"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Cooldown returns the rule's cooldown as a duration, never less than one
// minute.
func (r NotificationRule) Cooldown() time.Duration {
	if r.CooldownMinutes < 1 {
		return time.Minute
	}
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// NotificationChannel is a configured delivery destination. Config is the
// type-specific JSON object (recipients, url, method, headers).
type NotificationChannel struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      ChannelType    `json:"channel_type"`
	Config    map[string]any `json:"config"`
	IsEnabled bool           `json:"is_enabled"`
}

// CooldownRecord is the last successful notification time for a
// (rule, resource) pair.
type CooldownRecord struct {
	OrganizationID string    `json:"organization_id"`
	RuleID         string    `json:"rule_id"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
}

// RetryQueueEntry is a delivery that failed immediate delivery and is
// retried by the background poller.
type RetryQueueEntry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	RuleID         string         `json:"rule_id"`
	ChannelID      string         `json:"channel_id"`
	EventType      EventType      `json:"event_type"`
	EventData      map[string]any `json:"event_data"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	Status         RetryStatus    `json:"status"`
	LastError      *string        `json:"last_error,omitempty"`
	LockedAt       *time.Time     `json:"locked_at,omitempty"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NotificationHistoryRecord is one append-only audit row per delivery
// outcome.
type NotificationHistoryRecord struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	RuleID         string         `json:"rule_id"`
	ChannelID      string         `json:"channel_id"`
	EventType      EventType      `json:"event_type"`
	EventData      map[string]any `json:"event_data"`
	Status         HistoryStatus  `json:"status"`
	Error          *string        `json:"error,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
}
