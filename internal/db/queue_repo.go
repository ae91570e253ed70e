package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"billwatch/internal/types"
)

// QueueRepository provides data access for the notification_queue table.
//
// The table carries a unique index on (bill_id, channel, scheduled_date);
// that triple is the natural deduplication key for planned deliveries and
// must remain unique for the lifetime of the table. Terminal rows (sent,
// failed, skipped) are never deleted; they serve as the audit trail.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert creates one pending queue row. It returns created=false without an
// error when a row for the same (bill, channel, scheduled_date) already
// exists; the scheduler reports that outcome as "already scheduled".
func (r *QueueRepository) Insert(ctx context.Context, item *types.NotificationQueueItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = types.QueueStatusPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_queue
		 (id, user_id, bill_id, channel, scheduled_for, scheduled_date, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		item.ID,
		item.UserID,
		item.BillID,
		string(item.Channel),
		item.ScheduledFor,
		item.ScheduledDate,
		string(item.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert queue item", err)
	}
	return true, nil
}

// DeletePendingForBill removes every pending row for a bill and returns the
// count removed. Rescheduling is a full replace: stale pending reminders
// must not survive a due-date change. Non-pending rows are untouched.
func (r *QueueRepository) DeletePendingForBill(ctx context.Context, billID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_queue
		 WHERE bill_id = $1 AND status = 'pending'`,
		billID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete pending queue items", err)
	}
	return int(tag.RowsAffected()), nil
}

// SelectDue retrieves up to limit pending rows whose scheduled_for has
// passed, earliest first. The ordering is the worker's fairness guarantee:
// within a drain batch, the longest-overdue reminders are processed first.
func (r *QueueRepository) SelectDue(ctx context.Context, now time.Time, limit int) ([]*types.NotificationQueueItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, bill_id, channel, scheduled_for, scheduled_date,
		        status, sent_at, error_message, created_at
		 FROM notification_queue
		 WHERE status = 'pending' AND scheduled_for <= $1
		 ORDER BY scheduled_for ASC
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to select due queue items", err)
	}
	defer rows.Close()

	var items []*types.NotificationQueueItem
	for rows.Next() {
		item, scanErr := scanQueueItem(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan queue item", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue rows", err)
	}

	return items, nil
}

// Claim atomically transitions a row from pending to processing. It returns
// true only when this caller won the transition; a false return means
// another drain pass already owns (or has resolved) the row and this worker
// must not touch it. This conditional update is what makes overlapping
// drain invocations safe.
func (r *QueueRepository) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'processing', claimed_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim queue item", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueStaleClaims returns processing rows claimed before cutoff to
// pending. A claim only goes stale when a drain invocation is killed
// between claiming and writing the terminal status; requeueing at the
// start of the next drain keeps those rows from being stranded forever.
// The cutoff must comfortably exceed a full drain pass so a live claim
// held by an overlapping invocation is never stolen.
func (r *QueueRepository) RequeueStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'pending', claimed_at = NULL
		 WHERE status = 'processing' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue stale claims", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkSent resolves a processing row as sent and stamps sent_at.
func (r *QueueRepository) MarkSent(ctx context.Context, id string) error {
	return r.resolve(ctx, id, types.QueueStatusSent, "")
}

// MarkFailed resolves a processing row as failed with the adapter's error
// text. Failed rows are never retried automatically.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.resolve(ctx, id, types.QueueStatusFailed, errMsg)
}

// MarkSkipped resolves a processing row as skipped with a human-readable
// reason (bill paid, no recipient target, channel disabled).
func (r *QueueRepository) MarkSkipped(ctx context.Context, id string, reason string) error {
	return r.resolve(ctx, id, types.QueueStatusSkipped, reason)
}

// resolve writes the terminal status for a claimed row. The status guard
// ensures a row can only be resolved once, and only by the worker holding
// the claim.
func (r *QueueRepository) resolve(ctx context.Context, id string, status types.QueueStatus, msg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = $1,
		     error_message = $2,
		     sent_at = CASE WHEN $1 = 'sent' THEN NOW() ELSE sent_at END
		 WHERE id = $3 AND status = 'processing'`,
		string(status),
		nilIfEmpty(msg),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to resolve queue item", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "queue item not in processing state", nil)
	}
	return nil
}

// scanQueueItem reads one notification_queue row from a pgx row source.
func scanQueueItem(row interface{ Scan(dest ...any) error }) (*types.NotificationQueueItem, error) {
	var (
		item     types.NotificationQueueItem
		channel  string
		status   string
		sentAt   *time.Time
		errMsg   *string
	)
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.BillID,
		&channel,
		&item.ScheduledFor,
		&item.ScheduledDate,
		&status,
		&sentAt,
		&errMsg,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	item.Channel = types.Channel(channel)
	item.Status = types.QueueStatus(status)
	item.SentAt = timeOrZero(sentAt)
	item.ErrorMessage = stringOrEmpty(errMsg)
	return &item, nil
}
