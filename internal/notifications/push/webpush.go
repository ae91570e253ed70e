package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"billwatch/internal/types"
)

// webPushSendFunc matches webpush.SendNotificationWithContext. Injected in
// tests to avoid real endpoint calls and real payload encryption.
type webPushSendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// WebPushChannel delivers to browser push subscriptions using VAPID.
// Payload encryption (ECDH + AES-GCM per RFC 8291) is handled entirely by
// the webpush-go library.
type WebPushChannel struct {
	publicKey  string
	privateKey string
	subscriber string // VAPID sub claim, mailto: contact
	httpClient *http.Client
	send       webPushSendFunc
	logger     *slog.Logger
}

// WebPushConfig holds the dependencies needed to create a WebPushChannel.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// NewWebPushChannel creates a new WebPushChannel.
func NewWebPushChannel(cfg WebPushConfig) *WebPushChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebPushChannel{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.Subscriber,
		httpClient: httpClient,
		send:       webpush.SendNotificationWithContext,
		logger:     logger,
	}
}

// Send delivers the note to every subscription. Per-subscription failures
// never abort the loop; the outcome reports how many sends succeeded, how
// many failed, and which subscriptions the push service declared gone
// (404/410) so the caller can prune them.
func (c *WebPushChannel) Send(ctx context.Context, subs []types.PushSubscription, note Note) types.SendOutcome {
	var outcome types.SendOutcome

	payload, err := note.WebPayload()
	if err != nil {
		outcome.Failed = len(subs)
		outcome.ErrorMessage = fmt.Sprintf("encoding web push payload: %v", err)
		return outcome
	}

	for _, sub := range subs {
		resp, err := c.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dhKey,
				Auth:   sub.AuthKey,
			},
		}, &webpush.Options{
			Subscriber:      c.subscriber,
			VAPIDPublicKey:  c.publicKey,
			VAPIDPrivateKey: c.privateKey,
			TTL:             86400,
			HTTPClient:      c.httpClient,
		})
		if err != nil {
			outcome.Failed++
			outcome.ErrorMessage = fmt.Sprintf("web push send: %v", err)
			c.logger.WarnContext(ctx, "web push send failed",
				"subscription_id", sub.ID,
				"error", err,
			)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			// Subscription expired or unsubscribed; prune it. Not a
			// delivery failure.
			outcome.InvalidIDs = append(outcome.InvalidIDs, sub.ID)
			c.logger.InfoContext(ctx, "web push subscription gone",
				"subscription_id", sub.ID,
				"status", resp.StatusCode,
			)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			outcome.Sent++
		default:
			outcome.Failed++
			outcome.ErrorMessage = fmt.Sprintf("web push service returned %d", resp.StatusCode)
			c.logger.WarnContext(ctx, "web push service rejected send",
				"subscription_id", sub.ID,
				"status", resp.StatusCode,
			)
		}
		resp.Body.Close()
	}

	return outcome
}
