// Package push implements the push reminder channel across its two
// transports: web push (VAPID) to browser subscriptions and APNs to native
// device tokens. A single logical push fans out to every registered target
// the user has; success means at least one target was reached.
package push

import (
	"encoding/json"
	"fmt"

	"billwatch/internal/types"
)

// Note is one logical push notification, transport-agnostic. Both the
// reminder pipeline and the auto-sync summary build Notes; the transports
// only encode and deliver them.
type Note struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// WebPayload encodes the note as the JSON document delivered to browser
// service workers.
func (n Note) WebPayload() ([]byte, error) {
	return json.Marshal(n)
}

// ReminderNote builds the push content for a bill reminder. Urgency
// phrasing follows daysUntilDue the same way the email channel does.
func ReminderNote(bill types.Bill, daysUntilDue int) Note {
	var body string
	switch {
	case daysUntilDue < -1:
		body = fmt.Sprintf("%s is %d days overdue", bill.Name, -daysUntilDue)
	case daysUntilDue == -1:
		body = fmt.Sprintf("%s is 1 day overdue", bill.Name)
	case daysUntilDue == 0:
		body = fmt.Sprintf("%s is due today", bill.Name)
	case daysUntilDue == 1:
		body = fmt.Sprintf("%s is due tomorrow", bill.Name)
	default:
		body = fmt.Sprintf("%s is due in %d days", bill.Name, daysUntilDue)
	}

	return Note{
		Title: "Bill reminder",
		Body:  body,
		Data:  map[string]string{"bill_id": bill.ID},
	}
}

// SyncSummaryNote builds the one-per-run summary sent after an auto-sync
// that found new or needs-review bills.
func SyncSummaryNote(billsCreated, billsNeedsReview int) Note {
	var body string
	switch {
	case billsCreated > 0 && billsNeedsReview > 0:
		body = fmt.Sprintf("Found %d new bills and %d that need review", billsCreated, billsNeedsReview)
	case billsCreated > 0:
		body = fmt.Sprintf("Found %d new bills in your inbox", billsCreated)
	default:
		body = fmt.Sprintf("%d bills need your review", billsNeedsReview)
	}

	return Note{
		Title: "Inbox scan complete",
		Body:  body,
		Data:  map[string]string{"kind": "sync_summary"},
	}
}
