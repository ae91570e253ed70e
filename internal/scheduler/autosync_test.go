package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"billwatch/internal/types"
)

// --- Mocks ---

type lockCall struct {
	Key     string
	OwnerID string
	TTL     time.Duration
}

type mockSyncLocker struct {
	mu sync.Mutex

	// held marks lock keys another process owns; Acquire returns false.
	held       map[string]bool
	acquireErr error
	releaseErr error

	acquires []lockCall
	releases []lockCall
}

func (m *mockSyncLocker) Acquire(_ context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires = append(m.acquires, lockCall{Key: key, OwnerID: ownerID, TTL: ttl})
	if m.held[key] {
		return false, nil
	}
	return true, nil
}

func (m *mockSyncLocker) Release(_ context.Context, key string, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, lockCall{Key: key, OwnerID: ownerID})
	return m.releaseErr
}

type attemptRecord struct {
	UserID  string
	Success bool
	ErrMsg  string
}

type mockMailboxStore struct {
	mu sync.Mutex

	eligible    []types.MailboxConnection
	eligibleErr error

	attempts []attemptRecord
}

func (m *mockMailboxStore) ListEligible(_ context.Context, _ time.Time, _ int) ([]types.MailboxConnection, error) {
	if m.eligibleErr != nil {
		return nil, m.eligibleErr
	}
	return m.eligible, nil
}

func (m *mockMailboxStore) RecordSyncSuccess(_ context.Context, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attemptRecord{UserID: userID, Success: true})
	return nil
}

func (m *mockMailboxStore) RecordSyncFailure(_ context.Context, userID string, _ time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attemptRecord{UserID: userID, ErrMsg: errMsg})
	return nil
}

type mockSyncer struct {
	mu sync.Mutex

	results map[string]types.SyncResult
	errs    map[string]error

	calls []string
	opts  []types.SyncOptions
}

func (m *mockSyncer) PerformSync(_ context.Context, userID string, opts types.SyncOptions) (types.SyncResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, userID)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()
	if err := m.errs[userID]; err != nil {
		return types.SyncResult{}, err
	}
	if res, ok := m.results[userID]; ok {
		return res, nil
	}
	return types.SyncResult{Success: true}, nil
}

// --- Fixture ---

type syncFixture struct {
	locks    *mockSyncLocker
	mailbox  *mockMailboxStore
	syncer   *mockSyncer
	settings *mockSettingsResolver
	targets  *mockTargetStore
	webPush  *mockWebPushSender
	native   *mockNativePushSender
	orch     *AutoSyncOrchestrator
}

func newSyncFixture() *syncFixture {
	f := &syncFixture{
		locks:    &mockSyncLocker{held: map[string]bool{}},
		mailbox:  &mockMailboxStore{},
		syncer:   &mockSyncer{results: map[string]types.SyncResult{}, errs: map[string]error{}},
		settings: &mockSettingsResolver{settings: map[string]types.NotificationSettings{}},
		targets:  &mockTargetStore{targets: map[string]types.DeliveryTargets{}},
		webPush:  &mockWebPushSender{outcome: types.SendOutcome{Sent: 1}},
		native:   &mockNativePushSender{},
	}
	f.orch = NewAutoSyncOrchestrator(AutoSyncConfig{
		Locks:    f.locks,
		Mailbox:  f.mailbox,
		Syncer:   f.syncer,
		Settings: f.settings,
		Targets:  f.targets,
		WebPush:  f.webPush,
		Native:   f.native,
	})
	return f
}

func connFor(userID string) types.MailboxConnection {
	return types.MailboxConnection{UserID: userID, Provider: "gmail"}
}

var syncNow = time.Date(2026, 6, 17, 3, 0, 0, 0, time.UTC)

// --- Run Tests ---

func TestAutoSync_HappyPath(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Eligible != 1 || summary.Synced != 1 {
		t.Fatalf("summary = %+v, want 1 eligible and 1 synced", summary)
	}

	if len(f.locks.acquires) != 1 {
		t.Fatalf("acquires = %d, want 1", len(f.locks.acquires))
	}
	acq := f.locks.acquires[0]
	if acq.Key != "mailbox_sync:user_1" {
		t.Errorf("lock key = %q", acq.Key)
	}
	if acq.OwnerID == "" {
		t.Error("owner id must not be empty")
	}

	// Release must be owner scoped with the same id.
	if len(f.locks.releases) != 1 || f.locks.releases[0].OwnerID != acq.OwnerID {
		t.Errorf("releases = %+v, want one release by owner %s", f.locks.releases, acq.OwnerID)
	}

	if len(f.mailbox.attempts) != 1 || !f.mailbox.attempts[0].Success {
		t.Errorf("attempts = %+v, want one success", f.mailbox.attempts)
	}
}

func TestAutoSync_SyncOptionsMarkAutoRun(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}

	if _, err := f.orch.Run(context.Background(), syncNow, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.syncer.opts) != 1 {
		t.Fatalf("syncer calls = %d, want 1", len(f.syncer.opts))
	}
	opts := f.syncer.opts[0]
	if opts.SyncType != "auto" {
		t.Errorf("sync type = %q, want auto", opts.SyncType)
	}
	if opts.MaxResults == 0 || opts.DaysBack == 0 {
		t.Errorf("opts = %+v, want bounded scan", opts)
	}
}

func TestAutoSync_LockHeldIsSkipNotError(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.locks.held["mailbox_sync:user_1"] = true

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 skipped", summary)
	}
	if len(f.syncer.calls) != 0 {
		t.Errorf("sync ran despite held lock")
	}
	// Never release a lock we did not acquire.
	if len(f.locks.releases) != 0 {
		t.Errorf("releases = %+v, want none", f.locks.releases)
	}
	// No attempt bookkeeping either; nothing was attempted.
	if len(f.mailbox.attempts) != 0 {
		t.Errorf("attempts = %+v, want none", f.mailbox.attempts)
	}
}

func TestAutoSync_SyncErrorRecordedAndLockReleased(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.syncer.errs["user_1"] = errors.New("imap timeout")

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", summary)
	}
	if len(f.mailbox.attempts) != 1 || f.mailbox.attempts[0].Success {
		t.Fatalf("attempts = %+v, want one failure", f.mailbox.attempts)
	}
	if !strings.Contains(f.mailbox.attempts[0].ErrMsg, "imap timeout") {
		t.Errorf("failure message = %q", f.mailbox.attempts[0].ErrMsg)
	}
	if len(f.locks.releases) != 1 {
		t.Errorf("releases = %d, lock must be released after failure", len(f.locks.releases))
	}
}

func TestAutoSync_UnsuccessfulResultRecordedAsFailure(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.syncer.results["user_1"] = types.SyncResult{Success: false, Error: "token revoked"}

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", summary)
	}
	if !strings.Contains(f.mailbox.attempts[0].ErrMsg, "token revoked") {
		t.Errorf("failure message = %q", f.mailbox.attempts[0].ErrMsg)
	}
}

func TestAutoSync_SummaryPushOnBillsFound(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.syncer.results["user_1"] = types.SyncResult{Success: true, BillsCreated: 2, BillsNeedsReview: 1}
	f.targets.targets["user_1"] = types.DeliveryTargets{
		Subscriptions: []types.PushSubscription{{ID: "sub_1"}},
	}

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.BillsCreated != 2 {
		t.Errorf("bills created = %d, want 2", summary.BillsCreated)
	}
	if f.webPush.calls != 1 {
		t.Errorf("web push calls = %d, want 1 summary push", f.webPush.calls)
	}
}

func TestAutoSync_NoSummaryPushWhenPushDisabled(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.syncer.results["user_1"] = types.SyncResult{Success: true, BillsCreated: 2}
	settings := types.DefaultSettings("user_1")
	settings.PushEnabled = false
	f.settings.settings["user_1"] = settings
	f.targets.targets["user_1"] = types.DeliveryTargets{
		Subscriptions: []types.PushSubscription{{ID: "sub_1"}},
	}

	if _, err := f.orch.Run(context.Background(), syncNow, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.webPush.calls != 0 {
		t.Errorf("web push calls = %d, want 0", f.webPush.calls)
	}
}

func TestAutoSync_NoSummaryPushWhenNothingFound(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1")}
	f.syncer.results["user_1"] = types.SyncResult{Success: true}
	f.targets.targets["user_1"] = types.DeliveryTargets{
		Subscriptions: []types.PushSubscription{{ID: "sub_1"}},
	}

	if _, err := f.orch.Run(context.Background(), syncNow, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.webPush.calls != 0 {
		t.Errorf("web push calls = %d, want 0", f.webPush.calls)
	}
}

func TestAutoSync_BatchContainsMixedOutcomes(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{
		connFor("user_1"), connFor("user_2"), connFor("user_3"),
	}
	f.locks.held["mailbox_sync:user_2"] = true
	f.syncer.errs["user_3"] = errors.New("oauth expired")

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Eligible != 3 || summary.Synced != 1 || summary.Skipped != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1/1/1 split across 3 eligible", summary)
	}
}

func TestAutoSync_ListEligibleErrorAborts(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligibleErr = errors.New("connection refused")

	if _, err := f.orch.Run(context.Background(), syncNow, 100); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestAutoSync_EmptyBatch(t *testing.T) {
	f := newSyncFixture()

	summary, err := f.orch.Run(context.Background(), syncNow, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Eligible != 0 || summary.Synced != 0 {
		t.Errorf("summary = %+v, want all zero", summary)
	}
}

func TestAutoSync_DistinctOwnerPerUser(t *testing.T) {
	f := newSyncFixture()
	f.mailbox.eligible = []types.MailboxConnection{connFor("user_1"), connFor("user_2")}

	if _, err := f.orch.Run(context.Background(), syncNow, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.locks.acquires) != 2 {
		t.Fatalf("acquires = %d, want 2", len(f.locks.acquires))
	}
	if f.locks.acquires[0].OwnerID == f.locks.acquires[1].OwnerID {
		t.Error("owner ids must be unique per acquisition")
	}
}
