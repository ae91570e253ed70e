package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"

	"billwatch/internal/types"
)

// apnsPusher abstracts the apns2 client for testability.
type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSChannel delivers to native iOS devices via token-based APNs auth.
type APNSChannel struct {
	client apnsPusher
	topic  string
	logger *slog.Logger
}

// APNSConfig holds the dependencies needed to create an APNSChannel. The
// Client is constructed in cmd wiring from the .p8 signing key
// (apns2.NewTokenClient) so this package never touches key files.
type APNSConfig struct {
	Client apnsPusher
	Topic  string
	Logger *slog.Logger
}

// NewAPNSChannel creates a new APNSChannel.
func NewAPNSChannel(cfg APNSConfig) *APNSChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APNSChannel{
		client: cfg.Client,
		topic:  cfg.Topic,
		logger: logger,
	}
}

// Send delivers the note to every device token. Tokens APNs reports as
// permanently dead (410 Gone, Unregistered, BadDeviceToken) are returned
// as invalid for pruning; other rejections count as failures and never
// abort the loop.
func (c *APNSChannel) Send(ctx context.Context, tokens []types.DeviceToken, note Note) types.SendOutcome {
	var outcome types.SendOutcome

	if c.client == nil {
		// No signing key configured for this deployment.
		outcome.Failed = len(tokens)
		outcome.ErrorMessage = "apns not configured"
		return outcome
	}

	p := payload.NewPayload().
		AlertTitle(note.Title).
		AlertBody(note.Body).
		Sound("default")
	for k, v := range note.Data {
		p = p.Custom(k, v)
	}

	for _, tok := range tokens {
		n := &apns2.Notification{
			DeviceToken: tok.Token,
			Topic:       c.topic,
			Payload:     p,
			Priority:    apns2.PriorityHigh,
		}

		res, err := c.client.PushWithContext(ctx, n)
		if err != nil {
			outcome.Failed++
			outcome.ErrorMessage = fmt.Sprintf("apns send: %v", err)
			c.logger.WarnContext(ctx, "apns send failed",
				"token_id", tok.ID,
				"error", err,
			)
			continue
		}

		switch {
		case res.Sent():
			outcome.Sent++
		case isDeadToken(res):
			outcome.InvalidIDs = append(outcome.InvalidIDs, tok.ID)
			c.logger.InfoContext(ctx, "apns token no longer valid",
				"token_id", tok.ID,
				"reason", res.Reason,
			)
		default:
			outcome.Failed++
			outcome.ErrorMessage = fmt.Sprintf("apns rejected send: %s", res.Reason)
			c.logger.WarnContext(ctx, "apns rejected send",
				"token_id", tok.ID,
				"status", res.StatusCode,
				"reason", res.Reason,
			)
		}
	}

	return outcome
}

// isDeadToken reports whether the APNs response means the device token is
// permanently invalid and should be hard-deleted.
func isDeadToken(res *apns2.Response) bool {
	if res.StatusCode == http.StatusGone {
		return true
	}
	return res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken
}
