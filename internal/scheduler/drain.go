package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"billwatch/internal/notifications/push"
	"billwatch/internal/types"
)

// DrainQueue abstracts the queue operations the drain worker needs.
type DrainQueue interface {
	// SelectDue returns pending rows whose fire time has passed, earliest
	// first.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*types.NotificationQueueItem, error)
	// Claim transitions one row pending -> processing; false means another
	// invocation owns it.
	Claim(ctx context.Context, id string) (bool, error)
	// RequeueStaleClaims returns claims abandoned by a killed invocation
	// to pending.
	RequeueStaleClaims(ctx context.Context, cutoff time.Time) (int, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkSkipped(ctx context.Context, id string, reason string) error
}

// BillReader fetches current bill state. The drain worker re-validates
// every bill at fire time; scheduling-time state is never trusted.
type BillReader interface {
	// GetByID returns (nil, nil) when the bill no longer exists.
	GetByID(ctx context.Context, id string) (*types.Bill, error)
}

// SettingsResolver returns a user's notification settings with defaults
// applied. Send-time settings win over whatever was true at scheduling.
type SettingsResolver interface {
	Resolve(ctx context.Context, userID string) (types.NotificationSettings, error)
}

// TargetStore provides delivery-target reads and invalid-target pruning.
type TargetStore interface {
	GetTargets(ctx context.Context, userID string) (types.DeliveryTargets, error)
	DeletePushSubscriptions(ctx context.Context, ids []string) (int, error)
	DeleteDeviceTokens(ctx context.Context, ids []string) (int, error)
}

// EmailSender is the email channel adapter seam. Tests inject a fake that
// records calls.
type EmailSender interface {
	Send(ctx context.Context, address string, bill types.Bill, daysUntilDue int, referenceID string) (string, error)
}

// WebPushSender is the browser push transport seam.
type WebPushSender interface {
	Send(ctx context.Context, subs []types.PushSubscription, note push.Note) types.SendOutcome
}

// NativePushSender is the APNs transport seam.
type NativePushSender interface {
	Send(ctx context.Context, tokens []types.DeviceToken, note push.Note) types.SendOutcome
}

// staleClaimAfter is how long a processing claim may exist before it is
// presumed abandoned and returned to pending. Far longer than any drain
// pass, so live claims held by an overlapping invocation are never stolen.
const staleClaimAfter = 15 * time.Minute

// DrainWorker resolves due queue rows into delivered reminders. It is
// invoked on a fixed cadence by an external scheduler; overlapping
// invocations are safe because every row is claimed with a conditional
// update before any send.
type DrainWorker struct {
	queue    DrainQueue
	bills    BillReader
	settings SettingsResolver
	targets  TargetStore
	email    EmailSender
	webPush  WebPushSender
	native   NativePushSender
	metrics  Metrics
	logger   *slog.Logger

	batchSize       int
	sendTimeout     time.Duration
	userConcurrency int
}

// DrainWorkerConfig holds the configuration for creating a DrainWorker.
type DrainWorkerConfig struct {
	Queue    DrainQueue
	Bills    BillReader
	Settings SettingsResolver
	Targets  TargetStore
	Email    EmailSender
	WebPush  WebPushSender
	Native   NativePushSender
	Metrics  Metrics
	Logger   *slog.Logger

	BatchSize       int           // default 100
	SendTimeout     time.Duration // default 15s, bounds each adapter call
	UserConcurrency int           // default 8, bounds per-user fan-out
}

// NewDrainWorker creates a new DrainWorker.
func NewDrainWorker(cfg DrainWorkerConfig) *DrainWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	concurrency := cfg.UserConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &DrainWorker{
		queue:           cfg.Queue,
		bills:           cfg.Bills,
		settings:        cfg.Settings,
		targets:         cfg.Targets,
		email:           cfg.Email,
		webPush:         cfg.WebPush,
		native:          cfg.Native,
		metrics:         metrics,
		logger:          logger,
		batchSize:       batch,
		sendTimeout:     sendTimeout,
		userConcurrency: concurrency,
	}
}

// Drain runs one pass over the due queue: select, group by user, claim,
// re-validate, deliver, resolve. Users are processed concurrently up to
// UserConcurrency; rows within one user run strictly in scheduled order.
// Per-row failures never abort the pass.
func (w *DrainWorker) Drain(ctx context.Context, now time.Time) (DrainSummary, error) {
	started := time.Now()
	var summary DrainSummary
	var mu sync.Mutex

	requeued, err := w.queue.RequeueStaleClaims(ctx, now.Add(-staleClaimAfter))
	if err != nil {
		// Stale claims are a recovery path, not a precondition; keep
		// draining.
		w.logger.ErrorContext(ctx, "failed to requeue stale claims", "error", err)
	}
	summary.Requeued = requeued

	items, err := w.queue.SelectDue(ctx, now, w.batchSize)
	if err != nil {
		return summary, fmt.Errorf("drain: selecting due queue items: %w", err)
	}
	if len(items) == 0 {
		return summary, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.userConcurrency)

	for _, group := range groupByUser(items) {
		g.Go(func() error {
			user := group[0].UserID

			// One settings and one targets fetch per user, not per row.
			settings, err := w.settings.Resolve(gctx, user)
			if err != nil {
				// Rows stay pending; the next cycle retries the lookup.
				w.logger.ErrorContext(gctx, "failed to resolve settings; leaving rows pending",
					"user_id", user,
					"error", err,
				)
				return nil
			}
			targets, err := w.targets.GetTargets(gctx, user)
			if err != nil {
				w.logger.ErrorContext(gctx, "failed to load delivery targets; leaving rows pending",
					"user_id", user,
					"error", err,
				)
				return nil
			}

			for _, item := range group {
				outcome := w.processItem(gctx, item, settings, targets, now)
				mu.Lock()
				switch outcome {
				case rowOutcomeNotClaimed:
					// Another invocation owns the row; not our statistic.
				case rowOutcomeSent:
					summary.Processed++
					summary.Sent++
				case rowOutcomeSkipped:
					summary.Processed++
					summary.Skipped++
				case rowOutcomeFailed:
					summary.Processed++
					summary.Failed++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	// Worker goroutines only return nil; errgroup is used for the bounded
	// fan-out and context plumbing.
	_ = g.Wait()

	w.emitDrainMetrics(ctx, summary, time.Since(started))

	w.logger.InfoContext(ctx, "drain pass complete",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"requeued", summary.Requeued,
	)

	return summary, nil
}

type rowOutcome int

const (
	rowOutcomeNotClaimed rowOutcome = iota
	rowOutcomeSent
	rowOutcomeSkipped
	rowOutcomeFailed
)

// processItem resolves a single queue row to a terminal status. The claim
// gates everything: a row that cannot be claimed belongs to a concurrent
// invocation and is left entirely alone.
func (w *DrainWorker) processItem(
	ctx context.Context,
	item *types.NotificationQueueItem,
	settings types.NotificationSettings,
	targets types.DeliveryTargets,
	now time.Time,
) rowOutcome {
	claimed, err := w.queue.Claim(ctx, item.ID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to claim queue item",
			"item_id", item.ID,
			"error", err,
		)
		return rowOutcomeNotClaimed
	}
	if !claimed {
		return rowOutcomeNotClaimed
	}

	// Re-validate the bill at fire time. A bill can be paid or deleted
	// between scheduling and delivery.
	bill, err := w.bills.GetByID(ctx, item.BillID)
	if err != nil {
		return w.fail(ctx, item, fmt.Sprintf("fetching bill: %v", err))
	}
	if bill == nil {
		return w.skip(ctx, item, "bill not found")
	}
	if bill.Paid {
		return w.skip(ctx, item, "already paid")
	}

	days := daysUntilDue(bill.DueDate, now)

	switch item.Channel {
	case types.ChannelEmail:
		return w.deliverEmail(ctx, item, *bill, settings, targets, days)
	case types.ChannelPush:
		return w.deliverPush(ctx, item, *bill, settings, targets, days)
	default:
		return w.skip(ctx, item, fmt.Sprintf("unknown channel %q", item.Channel))
	}
}

func (w *DrainWorker) deliverEmail(
	ctx context.Context,
	item *types.NotificationQueueItem,
	bill types.Bill,
	settings types.NotificationSettings,
	targets types.DeliveryTargets,
	days int,
) rowOutcome {
	if !settings.EmailEnabled {
		return w.skip(ctx, item, "email disabled in settings")
	}
	if targets.Email == "" {
		return w.skip(ctx, item, "no email address on file")
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	if _, err := w.email.Send(sendCtx, targets.Email, bill, days, item.ID); err != nil {
		return w.fail(ctx, item, err.Error())
	}
	return w.sent(ctx, item)
}

func (w *DrainWorker) deliverPush(
	ctx context.Context,
	item *types.NotificationQueueItem,
	bill types.Bill,
	settings types.NotificationSettings,
	targets types.DeliveryTargets,
	days int,
) rowOutcome {
	if !settings.PushEnabled {
		return w.skip(ctx, item, "push disabled in settings")
	}
	if !targets.HasPushTarget() {
		return w.skip(ctx, item, "no push targets registered")
	}

	note := push.ReminderNote(bill, days)

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	// Fan out across both transports that have registered targets; a user
	// may have a browser and a phone.
	var combined types.SendOutcome
	var invalidSubs, invalidTokens []string
	if len(targets.Subscriptions) > 0 {
		out := w.webPush.Send(sendCtx, targets.Subscriptions, note)
		invalidSubs = out.InvalidIDs
		combined.Merge(out)
	}
	if len(targets.Tokens) > 0 {
		out := w.native.Send(sendCtx, targets.Tokens, note)
		invalidTokens = out.InvalidIDs
		combined.Merge(out)
	}

	// Dead targets are pruned immediately, independent of the row outcome.
	w.pruneInvalidTargets(ctx, item.UserID, invalidSubs, invalidTokens)

	// Success is at least one recipient reached across both transports.
	if combined.Sent > 0 {
		return w.sent(ctx, item)
	}
	// No live recipient left at all: skip rather than fail. Every target
	// was pruned as invalid and there was no delivery error.
	if combined.Failed == 0 {
		return w.skip(ctx, item, "all push targets invalid")
	}
	msg := combined.ErrorMessage
	if msg == "" {
		msg = "no push target accepted delivery"
	}
	return w.fail(ctx, item, msg)
}

func (w *DrainWorker) pruneInvalidTargets(ctx context.Context, userID string, subIDs, tokenIDs []string) {
	if len(subIDs) > 0 {
		if _, err := w.targets.DeletePushSubscriptions(ctx, subIDs); err != nil {
			w.logger.ErrorContext(ctx, "failed to prune push subscriptions",
				"user_id", userID,
				"error", err,
			)
		}
	}
	if len(tokenIDs) > 0 {
		if _, err := w.targets.DeleteDeviceTokens(ctx, tokenIDs); err != nil {
			w.logger.ErrorContext(ctx, "failed to prune device tokens",
				"user_id", userID,
				"error", err,
			)
		}
	}
}

func (w *DrainWorker) sent(ctx context.Context, item *types.NotificationQueueItem) rowOutcome {
	if err := w.queue.MarkSent(ctx, item.ID); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark item sent",
			"item_id", item.ID,
			"error", err,
		)
	}
	return rowOutcomeSent
}

func (w *DrainWorker) skip(ctx context.Context, item *types.NotificationQueueItem, reason string) rowOutcome {
	if err := w.queue.MarkSkipped(ctx, item.ID, reason); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark item skipped",
			"item_id", item.ID,
			"error", err,
		)
	}
	return rowOutcomeSkipped
}

func (w *DrainWorker) fail(ctx context.Context, item *types.NotificationQueueItem, errMsg string) rowOutcome {
	w.logger.WarnContext(ctx, "reminder delivery failed",
		"item_id", item.ID,
		"bill_id", item.BillID,
		"channel", string(item.Channel),
		"error", errMsg,
	)
	if err := w.queue.MarkFailed(ctx, item.ID, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark item failed",
			"item_id", item.ID,
			"error", err,
		)
	}
	return rowOutcomeFailed
}

func (w *DrainWorker) emitDrainMetrics(ctx context.Context, s DrainSummary, elapsed time.Duration) {
	w.metrics.RecordCounter(ctx, MetricDrainOutcome, float64(s.Sent), map[string]string{"result": "sent"})
	w.metrics.RecordCounter(ctx, MetricDrainOutcome, float64(s.Skipped), map[string]string{"result": "skipped"})
	w.metrics.RecordCounter(ctx, MetricDrainOutcome, float64(s.Failed), map[string]string{"result": "failed"})
	w.metrics.RecordDuration(ctx, MetricDrainDuration, elapsed, nil)
}

// groupByUser splits a scheduled_for-ordered batch into per-user groups.
// The input order is preserved within each group, which is the per-user
// earliest-first processing guarantee. Group order follows first
// appearance so the result is deterministic.
func groupByUser(items []*types.NotificationQueueItem) [][]*types.NotificationQueueItem {
	byUser := make(map[string]int)
	var groups [][]*types.NotificationQueueItem
	for _, item := range items {
		idx, ok := byUser[item.UserID]
		if !ok {
			idx = len(groups)
			byUser[item.UserID] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], item)
	}
	return groups
}

// daysUntilDue computes ceil((due_midnight - now) / 24h). Zero means due
// today, negative means overdue.
func daysUntilDue(dueDate time.Time, now time.Time) int {
	due := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}
