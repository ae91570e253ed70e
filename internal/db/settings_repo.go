package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"billwatch/internal/types"
)

// SettingsRepository provides data access for notification_settings.
//
// Resolve is the single defaulting rule in the codebase: every consumer
// (scheduler at reschedule time, drain worker at send time) goes through it
// rather than merging defaults ad hoc. Settings can change between
// scheduling and firing; the send-time value always wins.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository backed by the
// given database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Resolve returns the user's notification settings, falling back to
// types.DefaultSettings when the user has never saved preferences. A
// missing row is not an error.
func (r *SettingsRepository) Resolve(ctx context.Context, userID string) (types.NotificationSettings, error) {
	var (
		s          types.NotificationSettings
		quietStart *string
		quietEnd   *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT user_id, email_enabled, push_enabled, lead_days, timezone,
		        auto_sync_enabled, quiet_hours_start, quiet_hours_end
		 FROM notification_settings
		 WHERE user_id = $1`,
		userID,
	).Scan(
		&s.UserID,
		&s.EmailEnabled,
		&s.PushEnabled,
		&s.LeadDays,
		&s.Timezone,
		&s.AutoSyncEnabled,
		&quietStart,
		&quietEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.DefaultSettings(userID), nil
		}
		return types.NotificationSettings{}, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve settings", err)
	}

	s.QuietHoursStart = stringOrEmpty(quietStart)
	s.QuietHoursEnd = stringOrEmpty(quietEnd)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.LeadDays < 0 {
		s.LeadDays = 0
	}
	return s, nil
}
