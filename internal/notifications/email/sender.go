// Package email implements the email channel sender. Messages are rendered
// from embedded templates and handed to an external.EmailProvider.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"alertrelay/internal/external"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

// maxRecipients bounds the recipient list of one channel.
const maxRecipients = 50

// Sender delivers notifications by email. The channel config must carry
// "recipients", either a list of addresses or a comma-separated string.
type Sender struct {
	provider    external.EmailProvider
	renderer    *Renderer
	fromAddress string
	fromName    string
	logger      types.Logger
	validate    *validator.Validate
}

// SenderConfig holds the dependencies needed to create a Sender.
type SenderConfig struct {
	Provider    external.EmailProvider
	Renderer    *Renderer
	FromAddress string
	FromName    string
	Logger      types.Logger
}

var _ core.Sender = (*Sender)(nil)

// NewSender creates an email Sender.
func NewSender(cfg SenderConfig) *Sender {
	return &Sender{
		provider:    cfg.Provider,
		renderer:    cfg.Renderer,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		logger:      cfg.Logger,
		validate:    validator.New(),
	}
}

// Type returns types.ChannelEmail.
func (s *Sender) Type() types.ChannelType { return types.ChannelEmail }

// Send renders and transmits one email to every recipient of channel.
func (s *Sender) Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) core.SendResult {
	recipients, err := s.recipients(channel.Config)
	if err != nil {
		return core.ConfigFailure(err.Error())
	}

	rendered, err := s.renderer.Render(event, rule)
	if err != nil {
		s.logger.Error("email rendering failed", "event_type", string(event.Type), "error", err.Error())
		return core.ConfigFailure(err.Error())
	}

	msgID, err := s.provider.Send(ctx, external.EmailMessage{
		To:          recipients,
		FromAddress: s.fromAddress,
		FromName:    s.fromName,
		Subject:     rendered.Subject,
		HTMLBody:    rendered.BodyHTML,
		TextBody:    rendered.BodyText,
		ReferenceID: rule.ID + ":" + channel.ID,
	})
	if err != nil {
		s.logger.Warn("email delivery failed",
			"to", redactRecipients(recipients),
			"channel_id", channel.ID,
			"error", err.Error(),
		)
		return classifyProviderError(err)
	}

	s.logger.Info("email delivered", "to", redactRecipients(recipients), "channel_id", channel.ID, "message_id", msgID)
	return core.Succeeded(http.StatusAccepted, msgID)
}

// recipients extracts and validates the recipient list.
func (s *Sender) recipients(cfg map[string]any) ([]string, error) {
	var raw []string
	switch v := cfg["recipients"].(type) {
	case []any:
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("email recipients must be strings")
			}
			raw = append(raw, str)
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	case nil:
	default:
		return nil, fmt.Errorf("email recipients must be a list or a comma-separated string")
	}

	out := make([]string, 0, len(raw))
	for _, r := range raw {
		addr := strings.TrimSpace(r)
		if addr == "" {
			continue
		}
		if err := s.validate.Var(addr, "email"); err != nil {
			return nil, fmt.Errorf("invalid email recipient %q", RedactEmail(addr))
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("email channel has no recipients")
	}
	if len(out) > maxRecipients {
		return nil, fmt.Errorf("email channel has %d recipients, limit is %d", len(out), maxRecipients)
	}
	return out, nil
}

// classifyProviderError maps a provider error to a SendResult. Validation
// errors are configuration problems; everything else is transient.
func classifyProviderError(err error) core.SendResult {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return core.TransientFailure(0, err.Error())
	}
	switch {
	case strings.HasPrefix(string(appErr.Code), "validation_"):
		return core.ConfigFailure(appErr.Message)
	case appErr.Code == types.ErrCodeUpstreamRateLimited:
		return core.TransientFailure(http.StatusTooManyRequests, appErr.Message)
	case appErr.Code == types.ErrCodeUpstreamUnavailable:
		return core.TransientFailure(http.StatusServiceUnavailable, appErr.Message)
	default:
		return core.TransientFailure(0, appErr.Message)
	}
}
