package email

import (
	"context"
	"log/slog"
	"strings"

	"billwatch/internal/external"
	"billwatch/internal/types"
)

// Channel delivers bill reminders over transactional email. It renders
// content locally and hands the finished message to an EmailProvider.
type Channel struct {
	provider    external.EmailProvider
	fromAddress string
	fromName    string
	logger      *slog.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	Provider    external.EmailProvider
	FromAddress string
	FromName    string
	Logger      *slog.Logger
}

// NewChannel creates a new email Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		provider:    cfg.Provider,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		logger:      logger,
	}
}

// Send renders and delivers one reminder to the given address. The queue
// item ID rides along as the provider reference for correlation. Returns
// the provider message ID on success.
func (c *Channel) Send(ctx context.Context, address string, bill types.Bill, daysUntilDue int, referenceID string) (string, error) {
	c.logger.InfoContext(ctx, "attempting email delivery",
		"dest", RedactAddress(address),
		"bill_id", bill.ID,
		"days_until_due", daysUntilDue,
	)

	rendered := RenderReminder(bill, daysUntilDue)

	msgID, err := c.provider.Send(ctx, external.SendInput{
		To:          address,
		FromAddress: c.fromAddress,
		FromName:    c.fromName,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: referenceID,
	})
	if err != nil {
		return "", err
	}

	return msgID, nil
}

// RedactAddress masks an email address for logging: "jdoe@example.com"
// becomes "j***@example.com". Addresses are PII and never logged in full.
func RedactAddress(address string) string {
	at := strings.IndexByte(address, '@')
	if at <= 0 {
		return "***"
	}
	return address[:1] + "***" + address[at:]
}
