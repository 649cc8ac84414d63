package webhook

import (
	"fmt"
	"strings"
	"time"

	"alertrelay/internal/types"
)

// detailKeys are the event data fields rendered on chat cards, in order.
var detailKeys = []struct {
	key   string
	label string
}{
	{"ip_address", "IP Address"},
	{"status", "Status"},
	{"previous_status", "Previous Status"},
	{"hostname", "Hostname"},
	{"site_name", "Site"},
	{"reason", "Reason"},
}

// formatTitle renders a one-line summary, e.g. "Device Offline: edge-router".
func formatTitle(event types.NotificationEvent) string {
	var prefix string
	switch event.Type {
	case types.EventDeviceOffline:
		prefix = "Device Offline"
	case types.EventDeviceOnline:
		prefix = "Device Online"
	case types.EventDeviceDegraded:
		prefix = "Device Degraded"
	case types.EventAgentOffline:
		prefix = "Agent Offline"
	case types.EventAgentOnline:
		prefix = "Agent Online"
	case types.EventAgentDegraded:
		prefix = "Agent Degraded"
	case types.EventScanComplete:
		prefix = "Scan Complete"
	default:
		prefix = "Notification"
	}
	return fmt.Sprintf("%s: %s", prefix, resourceLabel(event))
}

// resourceLabel prefers the display name and falls back to the ID.
func resourceLabel(event types.NotificationEvent) string {
	if event.ResourceName != "" {
		return event.ResourceName
	}
	return event.ResourceID
}

// fact is a label/value pair shown on a card.
type fact struct {
	label string
	value string
}

// buildFacts lists the resource identity, the event time and the known
// detail fields present in the event data.
func buildFacts(event types.NotificationEvent) []fact {
	facts := []fact{
		{"Resource", fmt.Sprintf("%s (%s)", resourceLabel(event), capitalizeFirst(string(event.ResourceType)))},
		{"Resource ID", event.ResourceID},
		{"Event", string(event.Type)},
		{"Time", event.Timestamp.UTC().Format(time.RFC1123)},
	}
	for _, d := range detailKeys {
		if v := event.DataString(d.key); v != "" {
			facts = append(facts, fact{d.label, v})
		}
	}
	return facts
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
