package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"billwatch/internal/types"
)

// TargetRepository provides data access for a user's delivery targets: the
// transactional email address plus any registered web-push subscriptions
// and native device tokens.
//
// Targets reported permanently invalid by a channel adapter (expired
// endpoint, unregistered token) are hard-deleted immediately; there is no
// soft-delete or grace period for dead recipients.
type TargetRepository struct {
	db DBTX
}

// NewTargetRepository creates a new TargetRepository backed by the given
// database connection (pool or transaction).
func NewTargetRepository(db DBTX) *TargetRepository {
	return &TargetRepository{db: db}
}

// GetTargets fetches everything the user can currently be reached on in
// one pass. The drain worker calls this once per user per batch, not once
// per queue row.
func (r *TargetRepository) GetTargets(ctx context.Context, userID string) (types.DeliveryTargets, error) {
	var targets types.DeliveryTargets

	err := r.db.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1`,
		userID,
	).Scan(&targets.Email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return types.DeliveryTargets{}, types.NewAppError(types.ErrCodeInternalDB, "failed to get user email", err)
	}

	subs, err := r.listSubscriptions(ctx, userID)
	if err != nil {
		return types.DeliveryTargets{}, err
	}
	targets.Subscriptions = subs

	tokens, err := r.listTokens(ctx, userID)
	if err != nil {
		return types.DeliveryTargets{}, err
	}
	targets.Tokens = tokens

	return targets, nil
}

func (r *TargetRepository) listSubscriptions(ctx context.Context, userID string) ([]types.PushSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at
		 FROM push_subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list push subscriptions", err)
	}
	defer rows.Close()

	var subs []types.PushSubscription
	for rows.Next() {
		var s types.PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating push subscriptions", err)
	}
	return subs, nil
}

func (r *TargetRepository) listTokens(ctx context.Context, userID string) ([]types.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, token, platform, created_at
		 FROM device_tokens
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list device tokens", err)
	}
	defer rows.Close()

	var tokens []types.DeviceToken
	for rows.Next() {
		var t types.DeviceToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating device tokens", err)
	}
	return tokens, nil
}

// DeletePushSubscriptions hard-deletes web-push subscriptions by ID and
// returns the count removed.
func (r *TargetRepository) DeletePushSubscriptions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete push subscriptions", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteDeviceTokens hard-deletes native device tokens by ID and returns
// the count removed.
func (r *TargetRepository) DeleteDeviceTokens(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM device_tokens WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete device tokens", err)
	}
	return int(tag.RowsAffected()), nil
}
