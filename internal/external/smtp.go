package external

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"billwatch/internal/types"
)

// SMTPClientConfig holds the configuration for creating an SMTPClient.
type SMTPClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *slog.Logger
}

// SMTPClient implements EmailProvider over a plain SMTP relay via gomail.
// It exists for self-hosted deployments that do not want a SendGrid
// account; the reminder pipeline is indifferent to which provider is
// configured.
type SMTPClient struct {
	dialer smtpDialer
	logger *slog.Logger
}

// smtpDialer abstracts gomail's DialAndSend for testability.
type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// NewSMTPClient creates a new SMTPClient.
func NewSMTPClient(cfg SMTPClientConfig) *SMTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPClient{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// NewSMTPClientWithDialer creates an SMTPClient with an injected dialer.
// Tests use this to capture outgoing messages without a real SMTP server.
func NewSMTPClientWithDialer(dialer smtpDialer, logger *slog.Logger) *SMTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPClient{dialer: dialer, logger: logger}
}

// Send transmits one pre-rendered email over SMTP. gomail has no context
// support, so the dial-and-send runs in a goroutine and the context
// deadline is honored by abandoning the wait; the connection itself is
// cleaned up when the goroutine finishes.
//
// SMTP has no provider message ID; Send returns the queue reference ID so
// call sites log something stable either way.
func (s *SMTPClient) Send(ctx context.Context, input SendInput) (string, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", input.FromAddress, input.FromName)
	m.SetHeader("To", input.To)
	m.SetHeader("Subject", input.Subject)
	if input.BodyText != "" {
		m.SetBody("text/plain", input.BodyText)
		if input.BodyHTML != "" {
			m.AddAlternative("text/html", input.BodyHTML)
		}
	} else {
		m.SetBody("text/html", input.BodyHTML)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return "", types.NewAppError(types.ErrCodeUpstreamEmail,
			"SMTP send abandoned: context done", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamEmail,
				fmt.Sprintf("SMTP send failed: %v", err), err)
		}
	}

	return input.ReferenceID, nil
}

// Compile-time assertion that SMTPClient satisfies EmailProvider.
var _ EmailProvider = (*SMTPClient)(nil)
