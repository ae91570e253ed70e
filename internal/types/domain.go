// Package types defines the core domain model for the BillWatch reminder
// pipeline: bills, notification queue items, per-user notification settings,
// delivery targets, and mailbox sync bookkeeping. It contains no I/O; all
// persistence lives in internal/db and all delivery in internal/notifications.
package types

import (
	"time"
)

// Channel identifies a reminder delivery mechanism.
type Channel string

const (
	// ChannelEmail delivers via transactional email.
	ChannelEmail Channel = "email"
	// ChannelPush delivers via web push and/or native push, depending on
	// which targets the user has registered.
	ChannelPush Channel = "push"
)

// QueueStatus is the lifecycle state of a NotificationQueueItem.
//
// pending -> processing is the atomic claim step performed by the drain
// worker; processing -> sent/failed/skipped is written exactly once by the
// worker that owns the claim. sent, failed, and skipped are terminal: the
// system never retries a resolved item automatically.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusSkipped    QueueStatus = "skipped"
)

// IsTerminal reports whether the status admits no further automatic
// transition.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed || s == QueueStatusSkipped
}

// Recurrence describes how a bill repeats. The scheduler only needs this to
// exist on the model; recomputation of the next due date happens in the
// (external) bill CRUD collaborator, which calls Reschedule afterwards.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Bill is the read-side projection of a user's bill consumed by the
// scheduling and drain pipeline. Bill CRUD is owned by an external
// collaborator; this subsystem never mutates bills.
type Bill struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	AmountCents int64      `json:"amount_cents"`
	DueDate     time.Time  `json:"due_date"` // date-only, midnight UTC
	Paid        bool       `json:"paid"`
	Recurrence  Recurrence `json:"recurrence"`
}

// NotificationQueueItem is one planned, trackable delivery attempt.
//
// The natural deduplication key is (bill_id, channel, scheduled_date); a
// unique index enforces at most one row per bill/channel/local calendar day
// for the lifetime of the table. ScheduledDate is the calendar date of
// ScheduledFor in the user's timezone and exists solely to support that
// constraint.
type NotificationQueueItem struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	BillID        string      `json:"bill_id"`
	Channel       Channel     `json:"channel"`
	ScheduledFor  time.Time   `json:"scheduled_for"`  // absolute UTC instant
	ScheduledDate time.Time   `json:"scheduled_date"` // local calendar day, date-only
	Status        QueueStatus `json:"status"`
	SentAt        time.Time   `json:"sent_at,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NotificationSettings holds a user's reminder preferences. A missing row is
// resolved to defaults by SettingsRepository.Resolve; nothing else in the
// codebase applies defaulting.
//
// Quiet-hours bounds are modeled but intentionally not consulted by the
// scheduler or drain worker.
type NotificationSettings struct {
	UserID          string `json:"user_id"`
	EmailEnabled    bool   `json:"email_enabled"`
	PushEnabled     bool   `json:"push_enabled"`
	LeadDays        int    `json:"lead_days"` // >= 0
	Timezone        string `json:"timezone"`  // IANA zone name
	AutoSyncEnabled bool   `json:"auto_sync_enabled"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"` // "HH:MM", inert
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`   // "HH:MM", inert
}

// DefaultSettings returns the settings applied to users who have never
// saved preferences.
func DefaultSettings(userID string) NotificationSettings {
	return NotificationSettings{
		UserID:          userID,
		EmailEnabled:    true,
		PushEnabled:     true,
		LeadDays:        3,
		Timezone:        "UTC",
		AutoSyncEnabled: true,
	}
}

// Location resolves the settings timezone via the IANA database, falling
// back to UTC when the zone name is empty or unknown. DST transitions are
// handled by the time package; no manual offset arithmetic anywhere.
func (s NotificationSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PushSubscription is a browser web-push registration (endpoint plus the
// p256dh/auth key pair required for VAPID payload encryption).
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceToken is a native push registration (APNs).
type DeviceToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // currently always "ios"
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryTargets bundles everything a user can currently be reached on.
// The drain worker fetches this once per user per batch.
type DeliveryTargets struct {
	Email         string
	Subscriptions []PushSubscription
	Tokens        []DeviceToken
}

// HasPushTarget reports whether at least one push transport has a
// registered recipient.
func (t DeliveryTargets) HasPushTarget() bool {
	return len(t.Subscriptions) > 0 || len(t.Tokens) > 0
}

// MailboxConnection tracks auto-sync bookkeeping for a user's connected
// mailbox. The selection rule for re-sync eligibility reads these fields;
// the sync pipeline itself is an external collaborator.
type MailboxConnection struct {
	UserID        string    `json:"user_id"`
	Provider      string    `json:"provider"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitempty"`  // last successful sync
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"` // last attempt, success or not
	LastError     string    `json:"last_error,omitempty"`
}

// SyncOptions parameterizes a single mailbox re-scan.
type SyncOptions struct {
	SyncType   string `json:"sync_type"` // "auto" for orchestrated runs
	MaxResults int    `json:"max_results"`
	DaysBack   int    `json:"days_back"`
}

// SyncResult is the outcome reported by the mailbox sync collaborator.
type SyncResult struct {
	Success          bool   `json:"success"`
	BillsCreated     int    `json:"bills_created"`
	BillsNeedsReview int    `json:"bills_needs_review"`
	Error            string `json:"error,omitempty"`
}

// SendOutcome is the per-adapter delivery report: how many recipients were
// reached, how many sends failed, which recipient identifiers the provider
// declared permanently invalid (to be pruned immediately), and the last
// failure message for the audit trail.
type SendOutcome struct {
	Sent         int
	Failed       int
	InvalidIDs   []string
	ErrorMessage string
}

// Merge folds another outcome into this one. Used when the push channel
// fans out across both web-push and APNs transports.
func (o *SendOutcome) Merge(other SendOutcome) {
	o.Sent += other.Sent
	o.Failed += other.Failed
	o.InvalidIDs = append(o.InvalidIDs, other.InvalidIDs...)
	if other.ErrorMessage != "" {
		o.ErrorMessage = other.ErrorMessage
	}
}
