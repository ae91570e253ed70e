package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"billwatch/internal/types"
)

// reminderHour is the local wall-clock hour at which reminders fire.
const reminderHour = 9

// ReminderQueue abstracts the queue writes the scheduler needs.
type ReminderQueue interface {
	// DeletePendingForBill removes every pending row for a bill.
	DeletePendingForBill(ctx context.Context, billID string) (int, error)
	// Insert creates one pending row; created=false means a row for the
	// same (bill, channel, day) already exists.
	Insert(ctx context.Context, item *types.NotificationQueueItem) (bool, error)
}

// ReminderScheduler computes when a bill's reminders should fire and
// persists that decision as pending queue rows. It is pure computation
// plus store writes; delivery is entirely the drain worker's concern.
//
// The bill CRUD collaborator calls Reschedule after every create, update,
// pay, and unpay, and Cancel on delete.
type ReminderScheduler struct {
	queue  ReminderQueue
	logger *slog.Logger
	now    func() time.Time // injectable clock for deterministic tests
}

// ReminderSchedulerConfig holds the configuration for creating a
// ReminderScheduler.
type ReminderSchedulerConfig struct {
	Queue  ReminderQueue
	Logger *slog.Logger
	Now    func() time.Time
}

// NewReminderScheduler creates a new ReminderScheduler.
func NewReminderScheduler(cfg ReminderSchedulerConfig) *ReminderScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ReminderScheduler{queue: cfg.Queue, logger: logger, now: now}
}

// Reschedule recomputes the pending queue rows for a bill. It is a full
// replace: every pending row for the bill is deleted first, so a changed
// due date can never leave a stale reminder behind. Calling it twice with
// unchanged inputs yields the same single pending row per enabled channel.
//
// Scheduling is refused (reported as a skip, never an error) when the
// bill is paid, when both channels are disabled, when the computed fire
// time has already passed, or when the lead window does not land strictly
// before the due date.
func (s *ReminderScheduler) Reschedule(ctx context.Context, bill types.Bill, settings types.NotificationSettings) (ScheduleSummary, error) {
	var summary ScheduleSummary

	if bill.Paid {
		summary.SkipReasons = append(summary.SkipReasons, "bill already paid")
		return summary, nil
	}
	if !settings.EmailEnabled && !settings.PushEnabled {
		summary.SkipReasons = append(summary.SkipReasons, "all notification channels disabled")
		return summary, nil
	}

	leadDays := settings.LeadDays
	if leadDays < 0 {
		leadDays = 0
	}

	// Project due_date - lead_days to 09:00 local in the user's timezone.
	// time.Date with a real *time.Location handles DST; the resulting
	// instant is stored in UTC.
	loc := settings.Location()
	due := bill.DueDate.UTC()
	targetDay := due.AddDate(0, 0, -leadDays)
	local := time.Date(targetDay.Year(), targetDay.Month(), targetDay.Day(), reminderHour, 0, 0, 0, loc)
	scheduledFor := local.UTC()

	// The local calendar day backs the (bill, channel, day) uniqueness key.
	scheduledDate := time.Date(targetDay.Year(), targetDay.Month(), targetDay.Day(), 0, 0, 0, 0, time.UTC)

	if !targetDay.Before(due) {
		summary.SkipReasons = append(summary.SkipReasons,
			fmt.Sprintf("lead window of %d days does not fall before the due date", leadDays))
		return summary, nil
	}
	if !scheduledFor.After(s.now()) {
		summary.SkipReasons = append(summary.SkipReasons, "reminder time has already passed")
		return summary, nil
	}

	// Full replace: drop all pending rows before inserting the new plan.
	removed, err := s.queue.DeletePendingForBill(ctx, bill.ID)
	if err != nil {
		return summary, fmt.Errorf("scheduler: clearing pending reminders for bill %s: %w", bill.ID, err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "replaced pending reminders",
			"bill_id", bill.ID,
			"removed", removed,
		)
	}

	for _, channel := range s.enabledChannels(settings) {
		created, err := s.queue.Insert(ctx, &types.NotificationQueueItem{
			UserID:        bill.UserID,
			BillID:        bill.ID,
			Channel:       channel,
			ScheduledFor:  scheduledFor,
			ScheduledDate: scheduledDate,
			Status:        types.QueueStatusPending,
		})
		if err != nil {
			return summary, fmt.Errorf("scheduler: inserting %s reminder for bill %s: %w", channel, bill.ID, err)
		}
		if !created {
			// Duplicate (bill, channel, day): a non-pending row from an
			// earlier cycle already covers this day. Already scheduled,
			// not a failure.
			summary.AlreadyScheduled++
			continue
		}
		summary.Scheduled++
	}

	s.logger.InfoContext(ctx, "reminders scheduled",
		"bill_id", bill.ID,
		"scheduled_for", scheduledFor.Format(time.RFC3339),
		"timezone", settings.Timezone,
		"scheduled", summary.Scheduled,
		"already_scheduled", summary.AlreadyScheduled,
	)

	return summary, nil
}

// Cancel removes every pending reminder for a bill. Called by the bill
// CRUD collaborator on delete. Resolved rows are left as the audit trail.
func (s *ReminderScheduler) Cancel(ctx context.Context, billID string) error {
	removed, err := s.queue.DeletePendingForBill(ctx, billID)
	if err != nil {
		return fmt.Errorf("scheduler: cancelling reminders for bill %s: %w", billID, err)
	}
	s.logger.InfoContext(ctx, "reminders cancelled",
		"bill_id", billID,
		"removed", removed,
	)
	return nil
}

func (s *ReminderScheduler) enabledChannels(settings types.NotificationSettings) []types.Channel {
	var channels []types.Channel
	if settings.EmailEnabled {
		channels = append(channels, types.ChannelEmail)
	}
	if settings.PushEnabled {
		channels = append(channels, types.ChannelPush)
	}
	return channels
}
