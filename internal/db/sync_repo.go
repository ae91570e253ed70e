package db

import (
	"context"
	"time"

	"billwatch/internal/types"
)

// ============================================================
// SyncLockRepository
// ============================================================

// SyncLockRepository provides per-user mutual exclusion for mailbox syncs
// via the sync_locks table. Locks are leases: a lock carries an owner and
// an expiry, so a holder that crashes without releasing cannot strand a
// user as "locked" beyond the TTL.
//
// Acquisition uses INSERT ... ON CONFLICT DO UPDATE, which either inserts
// a fresh lease, reclaims an expired one, or affects zero rows when a live
// lease is held by someone else. The whole decision is one atomic
// statement; two overlapping cron runs for the same user resolve to
// exactly one winner.
type SyncLockRepository struct {
	db DBTX
}

// NewSyncLockRepository creates a new SyncLockRepository backed by the
// given database connection (pool or transaction).
func NewSyncLockRepository(db DBTX) *SyncLockRepository {
	return &SyncLockRepository{db: db}
}

// Acquire attempts to take the lease for key on behalf of ownerID. Returns
// true if acquired (fresh insert or expired lease reclaimed), false when
// another owner holds a live lease. A false return is the expected outcome
// of overlapping runs and is not an error.
//
// Timestamps are computed in Go rather than with SQL interval arithmetic;
// Go duration strings ("30m0s") are not valid PostgreSQL intervals.
func (r *SyncLockRepository) Acquire(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO sync_locks (key, owner_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		   SET owner_id = EXCLUDED.owner_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE sync_locks.expires_at < $3`,
		key,
		ownerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire sync lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lease, but only if ownerID still holds it. Releasing a
// lease that expired and was reclaimed by another worker is a no-op rather
// than a theft of the new holder's lock.
func (r *SyncLockRepository) Release(ctx context.Context, key string, ownerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sync_locks WHERE key = $1 AND owner_id = $2`,
		key,
		ownerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release sync lock", err)
	}
	return nil
}

// ============================================================
// MailboxRepository
// ============================================================

// MailboxRepository provides data access for mailbox_connections, the
// per-user auto-sync bookkeeping consulted by the orchestrator's
// eligibility rule.
type MailboxRepository struct {
	db DBTX
}

// NewMailboxRepository creates a new MailboxRepository backed by the given
// database connection (pool or transaction).
func NewMailboxRepository(db DBTX) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// ListEligible returns connections due for a re-sync as of now:
// auto-sync not explicitly disabled in settings, AND any of
//
//   - never synced before,
//   - last successful sync more than 20 hours ago,
//   - last attempt errored and happened more than 1 hour ago (a short
//     backoff before retrying failures).
//
// Users without a settings row default to auto-sync enabled.
func (r *MailboxRepository) ListEligible(ctx context.Context, now time.Time, limit int) ([]types.MailboxConnection, error) {
	if limit <= 0 {
		limit = 500
	}
	successCutoff := now.Add(-20 * time.Hour)
	errorCutoff := now.Add(-1 * time.Hour)

	rows, err := r.db.Query(ctx,
		`SELECT mc.user_id, mc.provider, mc.last_synced_at, mc.last_attempt_at, mc.last_error
		 FROM mailbox_connections mc
		 LEFT JOIN notification_settings ns ON ns.user_id = mc.user_id
		 WHERE COALESCE(ns.auto_sync_enabled, TRUE)
		   AND (
		        mc.last_synced_at IS NULL
		     OR mc.last_synced_at < $1
		     OR (mc.last_error IS NOT NULL AND mc.last_attempt_at < $2)
		   )
		 ORDER BY mc.last_synced_at ASC NULLS FIRST
		 LIMIT $3`,
		successCutoff,
		errorCutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list eligible mailbox connections", err)
	}
	defer rows.Close()

	var conns []types.MailboxConnection
	for rows.Next() {
		var (
			c         types.MailboxConnection
			syncedAt  *time.Time
			attemptAt *time.Time
			lastError *string
		)
		if err := rows.Scan(&c.UserID, &c.Provider, &syncedAt, &attemptAt, &lastError); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan mailbox connection", err)
		}
		c.LastSyncedAt = timeOrZero(syncedAt)
		c.LastAttemptAt = timeOrZero(attemptAt)
		c.LastError = stringOrEmpty(lastError)
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating mailbox connections", err)
	}

	return conns, nil
}

// RecordSyncSuccess stamps a successful sync: both last_synced_at and
// last_attempt_at move forward and any previous error is cleared.
func (r *MailboxRepository) RecordSyncSuccess(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE mailbox_connections
		 SET last_synced_at = $1, last_attempt_at = $1, last_error = NULL
		 WHERE user_id = $2`,
		at,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record sync success", err)
	}
	return nil
}

// RecordSyncFailure stamps a failed attempt. The error text is stored for
// operator visibility and drives the one-hour backoff in ListEligible.
func (r *MailboxRepository) RecordSyncFailure(ctx context.Context, userID string, at time.Time, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	_, err := r.db.Exec(ctx,
		`UPDATE mailbox_connections
		 SET last_attempt_at = $1, last_error = $2
		 WHERE user_id = $3`,
		at,
		errMsg,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record sync failure", err)
	}
	return nil
}
