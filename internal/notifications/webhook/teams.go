package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// TeamsPayload is the top-level structure for Teams workflow messages.
type TeamsPayload struct {
	Type        string            `json:"type"` // "message"
	Attachments []TeamsAttachment `json:"attachments"`
}

// TeamsAttachment wraps an Adaptive Card for Teams delivery.
type TeamsAttachment struct {
	ContentType string       `json:"contentType"` // "application/vnd.microsoft.card.adaptive"
	Content     AdaptiveCard `json:"content"`
}

// AdaptiveCard is the Microsoft Adaptive Card structure.
type AdaptiveCard struct {
	Schema  string         `json:"$schema"`
	Type    string         `json:"type"`    // "AdaptiveCard"
	Version string         `json:"version"` // "1.4"
	Body    []AdaptiveItem `json:"body"`
}

// AdaptiveItem represents an element in the Adaptive Card body.
type AdaptiveItem struct {
	Type   string `json:"type"` // "TextBlock", "FactSet"
	Text   string `json:"text,omitempty"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
	Facts  []Fact `json:"facts,omitempty"`
}

// Fact is a key-value pair in a Teams FactSet.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// TeamsSender posts Adaptive Cards to a Teams workflow webhook. The channel
// config must carry "webhook_url" (or "url").
type TeamsSender struct {
	poster *poster
}

var _ core.Sender = (*TeamsSender)(nil)

// NewTeamsSender creates a TeamsSender over client.
func NewTeamsSender(client *http.Client, userAgent string, logger types.Logger) *TeamsSender {
	return &TeamsSender{poster: newPoster(client, userAgent, logger)}
}

// Type returns types.ChannelTeams.
func (s *TeamsSender) Type() types.ChannelType { return types.ChannelTeams }

// Send posts one Adaptive Card.
func (s *TeamsSender) Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) core.SendResult {
	target := configString(channel.Config, "webhook_url", "url")
	if target == "" {
		return core.ConfigFailure("teams channel has no webhook_url")
	}
	if err := validateURL(target); err != nil {
		return core.ConfigFailure(err.Error())
	}

	body, err := json.Marshal(FormatTeams(event, rule))
	if err != nil {
		return core.ConfigFailure(fmt.Sprintf("teams payload: %v", err))
	}

	// Teams workflows answer 202 Accepted; any 2xx counts.
	return s.poster.do(ctx, request{method: http.MethodPost, url: target, body: body})
}

// FormatTeams builds the Adaptive Card message for event.
func FormatTeams(event types.NotificationEvent, rule types.NotificationRule) TeamsPayload {
	facts := make([]Fact, 0, 8)
	for _, f := range buildFacts(event) {
		facts = append(facts, Fact{Title: f.label, Value: f.value})
	}

	body := []AdaptiveItem{
		{Type: "TextBlock", Text: formatTitle(event), Size: "Large", Weight: "Bolder", Color: titleColor(event.Type), Wrap: true},
		{Type: "FactSet", Facts: facts},
	}
	if rule.Name != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: "Rule: " + rule.Name, Size: "Small", Wrap: true})
	}

	return TeamsPayload{
		Type: "message",
		Attachments: []TeamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: AdaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
			},
		}},
	}
}

func titleColor(t types.EventType) string {
	switch t {
	case types.EventDeviceOffline, types.EventAgentOffline:
		return "Attention"
	case types.EventDeviceDegraded, types.EventAgentDegraded:
		return "Warning"
	case types.EventDeviceOnline, types.EventAgentOnline:
		return "Good"
	default:
		return "Default"
	}
}
