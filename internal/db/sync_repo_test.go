package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"billwatch/internal/types"
)

// ============================================================
// SyncLockRepository Tests
// ============================================================

func TestSyncLockRepository_Acquire_FreshLease(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSyncLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(context.Background(), "mailbox_sync:user_1", "owner-1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestSyncLockRepository_Acquire_LiveLeaseHeldElsewhere(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSyncLockRepository(db)

	// ON CONFLICT ... WHERE expires_at < now did not fire: zero rows.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(context.Background(), "mailbox_sync:user_1", "owner-2", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "a live lease must not be stolen")
}

func TestSyncLockRepository_Acquire_ExpiryComputedFromTTL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSyncLockRepository(db)

	ttl := 30 * time.Minute
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 4 {
			return false
		}
		lockedAt, ok1 := args[2].(time.Time)
		expiresAt, ok2 := args[3].(time.Time)
		return ok1 && ok2 && expiresAt.Sub(lockedAt) == ttl
	})).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	_, err := repo.Acquire(context.Background(), "mailbox_sync:user_1", "owner-1", ttl)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSyncLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSyncLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	acquired, err := repo.Acquire(context.Background(), "mailbox_sync:user_1", "owner-1", time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSyncLockRepository_Release_OwnerScoped(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSyncLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == "mailbox_sync:user_1" && args[1] == "owner-1"
	})).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Release(context.Background(), "mailbox_sync:user_1", "owner-1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// ============================================================
// MailboxRepository Tests
// ============================================================

func scanMailboxRow(row []any, dest ...any) error {
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*string) = row[1].(string)
	*dest[2].(**time.Time) = row[2].(*time.Time)
	*dest[3].(**time.Time) = row[3].(*time.Time)
	*dest[4].(**string) = row[4].(*string)
	return nil
}

func TestMailboxRepository_ListEligible(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMailboxRepository(db)

	synced := time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC)
	lastErr := "imap timeout"
	rows := newMockRows([][]any{
		{"user_1", "gmail", (*time.Time)(nil), (*time.Time)(nil), (*string)(nil)},
		{"user_2", "gmail", &synced, &synced, &lastErr},
	}, scanMailboxRow)

	now := time.Date(2026, 6, 17, 3, 0, 0, 0, time.UTC)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 3 {
			return false
		}
		successCutoff := args[0].(time.Time)
		errorCutoff := args[1].(time.Time)
		return successCutoff.Equal(now.Add(-20*time.Hour)) && errorCutoff.Equal(now.Add(-time.Hour))
	})).
		Return(rows, nil)

	conns, err := repo.ListEligible(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, conns, 2)

	assert.Equal(t, "user_1", conns[0].UserID)
	assert.True(t, conns[0].LastSyncedAt.IsZero(), "never-synced maps to zero time")
	assert.Equal(t, "imap timeout", conns[1].LastError)
	db.AssertExpectations(t)
}

func TestMailboxRepository_RecordSyncSuccess_ClearsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMailboxRepository(db)

	at := time.Date(2026, 6, 17, 3, 5, 0, 0, time.UTC)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "last_error = NULL")
	}), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RecordSyncSuccess(context.Background(), "user_1", at)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestMailboxRepository_RecordSyncFailure_DefaultsMessage(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMailboxRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 3 && args[1] == "unknown error"
	})).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RecordSyncFailure(context.Background(), "user_1", time.Now(), "")
	require.NoError(t, err)
	db.AssertExpectations(t)
}
