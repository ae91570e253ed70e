// Package email implements the transactional email reminder channel.
// Rendering happens here; transport is delegated to an external
// EmailProvider (SendGrid or SMTP) so the two concerns stay independently
// testable.
package email

import (
	"fmt"
	"html"

	"billwatch/internal/types"
)

// RenderedReminder is a fully rendered reminder email ready for a
// provider.
type RenderedReminder struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// RenderReminder builds the reminder content for a bill. Urgency phrasing
// is derived entirely from daysUntilDue; the value is computed by the
// drain worker at fire time, not at scheduling time.
func RenderReminder(bill types.Bill, daysUntilDue int) RenderedReminder {
	due := dueLine(daysUntilDue)

	subject := fmt.Sprintf("%s is %s", bill.Name, due)
	amount := formatAmount(bill.AmountCents)

	bodyText := fmt.Sprintf(
		"Your bill %q (%s) is %s, on %s.\n\nOpen BillWatch to mark it paid or review the details.\n",
		bill.Name, amount, due, bill.DueDate.Format("Monday, January 2"),
	)

	bodyHTML := fmt.Sprintf(
		`<p>Your bill <strong>%s</strong> (%s) is %s, on %s.</p><p>Open BillWatch to mark it paid or review the details.</p>`,
		html.EscapeString(bill.Name), amount, due, bill.DueDate.Format("Monday, January 2"),
	)

	return RenderedReminder{Subject: subject, BodyText: bodyText, BodyHTML: bodyHTML}
}

// dueLine maps daysUntilDue to the human phrasing used in subjects and
// push payloads.
func dueLine(daysUntilDue int) string {
	switch {
	case daysUntilDue < -1:
		return fmt.Sprintf("%d days overdue", -daysUntilDue)
	case daysUntilDue == -1:
		return "1 day overdue"
	case daysUntilDue == 0:
		return "due today"
	case daysUntilDue == 1:
		return "due tomorrow"
	default:
		return fmt.Sprintf("due in %d days", daysUntilDue)
	}
}

// formatAmount renders cents as a dollar string. Amounts are stored in
// cents to avoid float drift.
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
