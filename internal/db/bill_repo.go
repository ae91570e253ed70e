package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"billwatch/internal/types"
)

// BillRepository provides the read-side bill access the reminder pipeline
// needs. Bill CRUD lives in an external collaborator; the drain worker only
// re-fetches current bill state at fire time, which is what makes the
// pipeline correct when a bill is paid between scheduling and delivery.
type BillRepository struct {
	db DBTX
}

// NewBillRepository creates a new BillRepository backed by the given
// database connection (pool or transaction).
func NewBillRepository(db DBTX) *BillRepository {
	return &BillRepository{db: db}
}

// GetByID returns the bill, or (nil, nil) when no such bill exists. A
// missing bill is an expected business skip for the drain worker, not an
// error.
func (r *BillRepository) GetByID(ctx context.Context, id string) (*types.Bill, error) {
	var (
		bill       types.Bill
		recurrence string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, amount_cents, due_date, paid, recurrence
		 FROM bills
		 WHERE id = $1`,
		id,
	).Scan(
		&bill.ID,
		&bill.UserID,
		&bill.Name,
		&bill.AmountCents,
		&bill.DueDate,
		&bill.Paid,
		&recurrence,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get bill", err)
	}

	bill.Recurrence = types.Recurrence(recurrence)
	bill.DueDate = bill.DueDate.UTC().Truncate(24 * time.Hour)
	return &bill, nil
}
