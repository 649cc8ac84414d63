package types

// EventType identifies the state change carried by a NotificationEvent.
type EventType string

const (
	EventDeviceOffline  EventType = "device.offline"
	EventDeviceOnline   EventType = "device.online"
	EventDeviceDegraded EventType = "device.degraded"
	EventAgentOffline   EventType = "agent.offline"
	EventAgentOnline    EventType = "agent.online"
	EventAgentDegraded  EventType = "agent.degraded"
	EventScanComplete   EventType = "scan.complete"
)

var knownEventTypes = map[EventType]struct{}{
	EventDeviceOffline:  {},
	EventDeviceOnline:   {},
	EventDeviceDegraded: {},
	EventAgentOffline:   {},
	EventAgentOnline:    {},
	EventAgentDegraded:  {},
	EventScanComplete:   {},
}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// ResourceType identifies the kind of monitored resource an event refers to.
type ResourceType string

const (
	ResourceDevice ResourceType = "device"
	ResourceAgent  ResourceType = "agent"
)

// IsValid reports whether r is a known resource type. Retry entries carrying
// any other value are treated as malformed.
func (r ResourceType) IsValid() bool {
	return r == ResourceDevice || r == ResourceAgent
}

// ChannelType is the key under which a sender is registered.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelWebhook ChannelType = "webhook"
)

// RetryStatus is the lifecycle state of a RetryQueueEntry.
//
//	queued -> processing -> {sent | dead_letter | queued}
type RetryStatus string

const (
	RetryStatusQueued     RetryStatus = "queued"
	RetryStatusProcessing RetryStatus = "processing"
	RetryStatusSent       RetryStatus = "sent"
	RetryStatusDeadLetter RetryStatus = "dead_letter"
)

// IsTerminal reports whether no further processing may touch the entry.
func (s RetryStatus) IsTerminal() bool {
	return s == RetryStatusSent || s == RetryStatusDeadLetter
}

// IsValid reports whether s is a known retry status.
func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryStatusQueued, RetryStatusProcessing, RetryStatusSent, RetryStatusDeadLetter:
		return true
	}
	return false
}

// HistoryStatus is the outcome recorded in a NotificationHistoryRecord.
type HistoryStatus string

const (
	HistoryStatusSent   HistoryStatus = "sent"
	HistoryStatusFailed HistoryStatus = "failed"
)
