package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// GenericPayload is the normalized envelope posted to generic webhooks.
type GenericPayload struct {
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Resource  GenericResource `json:"resource"`
	Data      map[string]any  `json:"data"`
	Metadata  GenericMetadata `json:"metadata"`
}

// GenericResource identifies the resource the event is about.
type GenericResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GenericMetadata identifies the rule and channel that produced the delivery.
type GenericMetadata struct {
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// allowedMethods are the HTTP methods a generic webhook may be configured
// with.
var allowedMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// reservedHeaders cannot be overridden from channel config.
var reservedHeaders = map[string]struct{}{
	"content-type":           {},
	"content-encoding":       {},
	"content-length":         {},
	"host":                   {},
	"x-alertrelay-signature": {},
}

// GenericSender posts the GenericPayload envelope.
//
// Channel config:
//   - url (required)
//   - method: POST (default), PUT or PATCH
//   - headers: object of string header values
//   - compression: "gzip" to compress the body
//   - secret, previous_secret, previous_secret_expires_at: HMAC signing
type GenericSender struct {
	poster *poster
	clock  types.Clock
}

var _ core.Sender = (*GenericSender)(nil)

// NewGenericSender creates a GenericSender over client.
func NewGenericSender(client *http.Client, userAgent string, logger types.Logger, clock types.Clock) *GenericSender {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &GenericSender{poster: newPoster(client, userAgent, logger), clock: clock}
}

// Type returns types.ChannelWebhook.
func (s *GenericSender) Type() types.ChannelType { return types.ChannelWebhook }

// Send posts one envelope.
func (s *GenericSender) Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) core.SendResult {
	cfg := channel.Config
	target := configString(cfg, "url")
	if target == "" {
		return core.ConfigFailure("webhook channel has no url")
	}
	if err := validateURL(target); err != nil {
		return core.ConfigFailure(err.Error())
	}

	method := http.MethodPost
	if m := configString(cfg, "method"); m != "" {
		method = strings.ToUpper(m)
	}
	if _, ok := allowedMethods[method]; !ok {
		return core.ConfigFailure(fmt.Sprintf("webhook method %q is not supported", method))
	}

	headers, err := configHeaders(cfg)
	if err != nil {
		return core.ConfigFailure(err.Error())
	}

	body, err := json.Marshal(FormatGeneric(event, rule, channel))
	if err != nil {
		return core.ConfigFailure(fmt.Sprintf("webhook payload: %v", err))
	}

	if sig := signPayload(body, cfg, s.clock.Now()); sig != "" {
		headers[SignatureHeader] = sig
	}

	var encoding string
	switch c := configString(cfg, "compression"); c {
	case "", "none":
	case "gzip":
		if body, err = gzipBody(body); err != nil {
			return core.ConfigFailure(fmt.Sprintf("webhook compression: %v", err))
		}
		encoding = "gzip"
	default:
		return core.ConfigFailure(fmt.Sprintf("webhook compression %q is not supported", c))
	}

	return s.poster.do(ctx, request{
		method:   method,
		url:      target,
		headers:  headers,
		body:     body,
		encoding: encoding,
	})
}

// FormatGeneric builds the envelope for event.
func FormatGeneric(event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) GenericPayload {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	return GenericPayload{
		EventType: string(event.Type),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Resource: GenericResource{
			Type: string(event.ResourceType),
			ID:   event.ResourceID,
			Name: event.ResourceName,
		},
		Data: data,
		Metadata: GenericMetadata{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
		},
	}
}

func configHeaders(cfg map[string]any) (map[string]string, error) {
	out := map[string]string{}
	raw, ok := cfg["headers"]
	if !ok || raw == nil {
		return out, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("webhook headers must be an object")
	}
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("webhook header %q must be a string", k)
		}
		if _, reserved := reservedHeaders[strings.ToLower(k)]; reserved {
			continue
		}
		out[k] = s
	}
	return out, nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
