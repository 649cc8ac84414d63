package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// SlackPayload is the top-level structure for Slack Block Kit messages.
type SlackPayload struct {
	Text   string       `json:"text"`   // Fallback text for push notifications
	Blocks []SlackBlock `json:"blocks"` // Rich layout
}

// SlackBlock represents a single block in a Slack Block Kit message.
type SlackBlock struct {
	Type     string       `json:"type"` // "section", "header", "context"
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []*SlackText `json:"fields,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

// SlackText is a text composition object for Slack Block Kit.
type SlackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// SlackSender posts Block Kit messages to Slack incoming webhooks. The
// channel config must carry "webhook_url" (or "url").
type SlackSender struct {
	poster *poster
}

var _ core.Sender = (*SlackSender)(nil)

// NewSlackSender creates a SlackSender over client.
func NewSlackSender(client *http.Client, userAgent string, logger types.Logger) *SlackSender {
	return &SlackSender{poster: newPoster(client, userAgent, logger)}
}

// Type returns types.ChannelSlack.
func (s *SlackSender) Type() types.ChannelType { return types.ChannelSlack }

// Send posts one Block Kit message.
func (s *SlackSender) Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) core.SendResult {
	target := configString(channel.Config, "webhook_url", "url")
	if target == "" {
		return core.ConfigFailure("slack channel has no webhook_url")
	}
	if err := validateURL(target); err != nil {
		return core.ConfigFailure(err.Error())
	}

	body, err := json.Marshal(FormatSlack(event, rule))
	if err != nil {
		return core.ConfigFailure(fmt.Sprintf("slack payload: %v", err))
	}

	return s.poster.do(ctx, request{
		method: http.MethodPost,
		url:    target,
		body:   body,
		check:  validateSlackResponse,
	})
}

// FormatSlack builds the Block Kit message for event.
func FormatSlack(event types.NotificationEvent, rule types.NotificationRule) SlackPayload {
	title := formatTitle(event)

	fields := make([]*SlackText, 0, 8)
	for _, f := range buildFacts(event) {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", f.label, f.value)})
	}
	// Slack rejects sections with more than ten fields.
	if len(fields) > 10 {
		fields = fields[:10]
	}

	footer := "AlertRelay"
	if rule.Name != "" {
		footer = fmt.Sprintf("*Rule*: %s | AlertRelay", rule.Name)
	}

	return SlackPayload{
		Text: fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.Type)), title),
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: title}},
			{Type: "section", Fields: fields},
			{Type: "context", Elements: []*SlackText{{Type: "mrkdwn", Text: footer}}},
		},
	}
}

// validateSlackResponse catches Slack's soft failures: HTTP 200 with a plain
// text error or a JSON body carrying "ok": false.
func validateSlackResponse(_ int, body []byte) error {
	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "" || bodyStr == "ok" {
		return nil
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.OK != nil && !*resp.OK {
			if resp.Error == "" {
				resp.Error = "unknown error"
			}
			return fmt.Errorf("slack: API error: %s", resp.Error)
		}
		return nil
	}

	switch bodyStr {
	case "no_text", "channel_not_found", "channel_is_archived", "invalid_payload", "too_many_attachments":
		return fmt.Errorf("slack: API error: %s", bodyStr)
	}
	return nil
}
