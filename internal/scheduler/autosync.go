package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"billwatch/internal/notifications/push"
	"billwatch/internal/types"
)

// SyncLocker is the lease-based mutual exclusion seam. The same key space
// is shared with user-triggered manual syncs, so an orchestrated run never
// races a sync the user just started from the app.
type SyncLocker interface {
	Acquire(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string, ownerID string) error
}

// MailboxStore selects re-sync candidates and records attempt bookkeeping.
type MailboxStore interface {
	ListEligible(ctx context.Context, now time.Time, limit int) ([]types.MailboxConnection, error)
	RecordSyncSuccess(ctx context.Context, userID string, at time.Time) error
	RecordSyncFailure(ctx context.Context, userID string, at time.Time, errMsg string) error
}

// Syncer performs the actual mailbox scan. The orchestrator only cares
// about the outcome; the pipeline behind it is a separate subsystem.
type Syncer interface {
	PerformSync(ctx context.Context, userID string, opts types.SyncOptions) (types.SyncResult, error)
}

// syncLockKey scopes the lease to one user's mailbox. Manual sync uses the
// same key format.
func syncLockKey(userID string) string {
	return "mailbox_sync:" + userID
}

// AutoSyncOrchestrator runs the periodic mailbox re-scan across all
// eligible users, one lease-guarded sync per user.
type AutoSyncOrchestrator struct {
	locks    SyncLocker
	mailbox  MailboxStore
	syncer   Syncer
	settings SettingsResolver
	targets  TargetStore
	webPush  WebPushSender
	native   NativePushSender
	metrics  Metrics
	logger   *slog.Logger

	batchConcurrency int
	perUserTimeout   time.Duration
	lockTTL          time.Duration
	maxResults       int
	daysBack         int
}

// AutoSyncConfig holds the configuration for creating an
// AutoSyncOrchestrator.
type AutoSyncConfig struct {
	Locks    SyncLocker
	Mailbox  MailboxStore
	Syncer   Syncer
	Settings SettingsResolver
	Targets  TargetStore
	WebPush  WebPushSender
	Native   NativePushSender
	Metrics  Metrics
	Logger   *slog.Logger

	BatchConcurrency int           // default 5
	PerUserTimeout   time.Duration // default 2m
	LockTTL          time.Duration // default 30m, must outlast PerUserTimeout
	MaxResults       int           // default 50 messages per scan
	DaysBack         int           // default 30
}

// NewAutoSyncOrchestrator creates a new AutoSyncOrchestrator.
func NewAutoSyncOrchestrator(cfg AutoSyncConfig) *AutoSyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	perUser := cfg.PerUserTimeout
	if perUser <= 0 {
		perUser = 2 * time.Minute
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	daysBack := cfg.DaysBack
	if daysBack <= 0 {
		daysBack = 30
	}
	return &AutoSyncOrchestrator{
		locks:            cfg.Locks,
		mailbox:          cfg.Mailbox,
		syncer:           cfg.Syncer,
		settings:         cfg.Settings,
		targets:          cfg.Targets,
		webPush:          cfg.WebPush,
		native:           cfg.Native,
		metrics:          metrics,
		logger:           logger,
		batchConcurrency: concurrency,
		perUserTimeout:   perUser,
		lockTTL:          ttl,
		maxResults:       maxResults,
		daysBack:         daysBack,
	}
}

// Run executes one orchestration pass: select eligible mailboxes, then for
// each acquire the per-user lease, sync, record the outcome, and release.
// A lock held elsewhere is an expected skip, never an error. Per-user
// failures are contained; the batch always runs to completion.
func (o *AutoSyncOrchestrator) Run(ctx context.Context, now time.Time, limit int) (SyncSummary, error) {
	started := time.Now()
	var summary SyncSummary
	var mu sync.Mutex

	conns, err := o.mailbox.ListEligible(ctx, now, limit)
	if err != nil {
		return summary, fmt.Errorf("autosync: listing eligible mailboxes: %w", err)
	}
	summary.Eligible = len(conns)
	if len(conns) == 0 {
		return summary, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.batchConcurrency)

	for _, conn := range conns {
		g.Go(func() error {
			synced, billsCreated, skipped := o.syncUser(gctx, conn.UserID)
			mu.Lock()
			switch {
			case skipped:
				summary.Skipped++
			case synced:
				summary.Synced++
				summary.BillsCreated += billsCreated
			default:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.emitSyncMetrics(ctx, summary, time.Since(started))

	o.logger.InfoContext(ctx, "auto-sync pass complete",
		"eligible", summary.Eligible,
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"bills_created", summary.BillsCreated,
	)

	return summary, nil
}

// syncUser runs one lease-guarded sync. Returns (synced, billsCreated,
// skipped); skipped means the lock was held elsewhere and nothing ran.
func (o *AutoSyncOrchestrator) syncUser(ctx context.Context, userID string) (bool, int, bool) {
	key := syncLockKey(userID)
	ownerID := uuid.New().String()

	acquired, err := o.locks.Acquire(ctx, key, ownerID, o.lockTTL)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to acquire sync lock",
			"user_id", userID,
			"error", err,
		)
		return false, 0, false
	}
	if !acquired {
		o.logger.InfoContext(ctx, "sync already in progress; skipping",
			"user_id", userID,
		)
		return false, 0, true
	}
	// Release must run even when the sync times out or the batch context
	// is cancelled mid-flight.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.locks.Release(releaseCtx, key, ownerID); err != nil {
			o.logger.ErrorContext(releaseCtx, "failed to release sync lock",
				"user_id", userID,
				"error", err,
			)
		}
	}()

	syncCtx, cancel := context.WithTimeout(ctx, o.perUserTimeout)
	defer cancel()

	result, err := o.syncer.PerformSync(syncCtx, userID, types.SyncOptions{
		SyncType:   "auto",
		MaxResults: o.maxResults,
		DaysBack:   o.daysBack,
	})
	now := time.Now().UTC()
	if err != nil {
		o.recordFailure(ctx, userID, now, err.Error())
		return false, 0, false
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "sync reported failure"
		}
		o.recordFailure(ctx, userID, now, msg)
		return false, 0, false
	}

	if err := o.mailbox.RecordSyncSuccess(ctx, userID, now); err != nil {
		o.logger.ErrorContext(ctx, "failed to record sync success",
			"user_id", userID,
			"error", err,
		)
	}

	if result.BillsCreated > 0 || result.BillsNeedsReview > 0 {
		o.notifyNewBills(ctx, userID, result)
	}

	return true, result.BillsCreated, false
}

func (o *AutoSyncOrchestrator) recordFailure(ctx context.Context, userID string, at time.Time, msg string) {
	o.logger.WarnContext(ctx, "mailbox sync failed",
		"user_id", userID,
		"error", msg,
	)
	if err := o.mailbox.RecordSyncFailure(ctx, userID, at, msg); err != nil {
		o.logger.ErrorContext(ctx, "failed to record sync failure",
			"user_id", userID,
			"error", err,
		)
	}
}

// notifyNewBills sends a best-effort push summary when a scan found bills.
// Failures here never affect the sync outcome.
func (o *AutoSyncOrchestrator) notifyNewBills(ctx context.Context, userID string, result types.SyncResult) {
	settings, err := o.settings.Resolve(ctx, userID)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to resolve settings for sync summary",
			"user_id", userID,
			"error", err,
		)
		return
	}
	if !settings.PushEnabled {
		return
	}
	targets, err := o.targets.GetTargets(ctx, userID)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load targets for sync summary",
			"user_id", userID,
			"error", err,
		)
		return
	}
	if !targets.HasPushTarget() {
		return
	}

	note := push.SyncSummaryNote(result.BillsCreated, result.BillsNeedsReview)

	var invalidSubs, invalidTokens []string
	if len(targets.Subscriptions) > 0 {
		out := o.webPush.Send(ctx, targets.Subscriptions, note)
		invalidSubs = out.InvalidIDs
	}
	if len(targets.Tokens) > 0 {
		out := o.native.Send(ctx, targets.Tokens, note)
		invalidTokens = out.InvalidIDs
	}
	if len(invalidSubs) > 0 {
		if _, err := o.targets.DeletePushSubscriptions(ctx, invalidSubs); err != nil {
			o.logger.ErrorContext(ctx, "failed to prune push subscriptions",
				"user_id", userID,
				"error", err,
			)
		}
	}
	if len(invalidTokens) > 0 {
		if _, err := o.targets.DeleteDeviceTokens(ctx, invalidTokens); err != nil {
			o.logger.ErrorContext(ctx, "failed to prune device tokens",
				"user_id", userID,
				"error", err,
			)
		}
	}
}

func (o *AutoSyncOrchestrator) emitSyncMetrics(ctx context.Context, s SyncSummary, elapsed time.Duration) {
	o.metrics.RecordCounter(ctx, MetricSyncOutcome, float64(s.Synced), map[string]string{"result": "synced"})
	o.metrics.RecordCounter(ctx, MetricSyncOutcome, float64(s.Skipped), map[string]string{"result": "skipped"})
	o.metrics.RecordCounter(ctx, MetricSyncOutcome, float64(s.Failed), map[string]string{"result": "failed"})
	o.metrics.RecordDuration(ctx, MetricSyncDuration, elapsed, nil)
}
