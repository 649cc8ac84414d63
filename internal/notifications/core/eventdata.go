package core

import (
	"fmt"
	"time"

	"alertrelay/internal/types"
)

// Keys of the flattened event_data object stored on retry entries and
// history records.
const (
	keyResourceType = "resource_type"
	keyResourceID   = "resource_id"
	keyResourceName = "resource_name"
	keyTimestamp    = "timestamp"
	keyRuleID       = "rule_id"
	keyChannelID    = "channel_id"
	keyData         = "data"
)

// FlattenEvent produces the event_data snapshot persisted alongside a
// delivery for ruleID and channelID.
func FlattenEvent(event types.NotificationEvent, ruleID, channelID string) map[string]any {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		keyResourceType: string(event.ResourceType),
		keyResourceID:   event.ResourceID,
		keyResourceName: event.ResourceName,
		keyTimestamp:    event.Timestamp.UTC().Format(time.RFC3339Nano),
		keyRuleID:       ruleID,
		keyChannelID:    channelID,
		keyData:         data,
	}
}

// ReconstructEvent rebuilds the NotificationEvent of a retry entry. It
// fails for entries missing the resource fields or naming an unknown
// resource type. A missing or unparsable timestamp falls back to the
// entry's creation time.
func ReconstructEvent(entry types.RetryQueueEntry) (types.NotificationEvent, error) {
	if entry.EventData == nil {
		return types.NotificationEvent{}, fmt.Errorf("event_data is missing")
	}
	if !entry.EventType.IsValid() {
		return types.NotificationEvent{}, fmt.Errorf("unknown event type %q", entry.EventType)
	}

	rt, _ := entry.EventData[keyResourceType].(string)
	if !types.ResourceType(rt).IsValid() {
		return types.NotificationEvent{}, fmt.Errorf("unknown resource type %q", rt)
	}
	rid, _ := entry.EventData[keyResourceID].(string)
	if rid == "" {
		return types.NotificationEvent{}, fmt.Errorf("resource_id is missing")
	}
	name, _ := entry.EventData[keyResourceName].(string)

	ts := entry.CreatedAt
	if raw, ok := entry.EventData[keyTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		}
	}

	data, _ := entry.EventData[keyData].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	return types.NotificationEvent{
		Type:           entry.EventType,
		OrganizationID: entry.OrganizationID,
		ResourceType:   types.ResourceType(rt),
		ResourceID:     rid,
		ResourceName:   name,
		Data:           data,
		Timestamp:      ts.UTC(),
	}, nil
}
