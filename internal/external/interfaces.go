package external

import "context"

// EmailMessage is a fully rendered transactional email.
type EmailMessage struct {
	To          []string
	FromAddress string
	FromName    string
	Subject     string
	HTMLBody    string
	TextBody    string
	// ReferenceID correlates provider events with internal records.
	ReferenceID string
}

// EmailProvider abstracts the transactional-email service.
type EmailProvider interface {
	// Send transmits msg and returns the provider's message ID.
	Send(ctx context.Context, msg EmailMessage) (string, error)
}
