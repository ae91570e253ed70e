package external

import (
	"context"
)

// SendInput carries one pre-rendered email to a provider.
type SendInput struct {
	To          string
	FromAddress string
	FromName    string
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string // queue item id, attached for provider-side tracing
}

// EmailProvider abstracts the transactional email transport. Production
// code selects SendGrid (HTTP API) or SMTP at config time; tests inject a
// fake. Send returns the provider message ID when the provider reports one.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (string, error)
}
