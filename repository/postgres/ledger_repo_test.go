package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

var columns = []string{"account_id", "username", "last_access", "inactive_at", "delete_at", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestLedgerGet(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock, nil, 10)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inactive := created.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM iam_ledger WHERE account_id = $1 AND username = $2")).
		WithArgs("111", "alice").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("111", "alice", (*time.Time)(nil), &inactive, (*time.Time)(nil), created, inactive))

	record, err := repo.Get(ctx, domain.RecordKey{AccountID: "111", Username: "alice"})
	require.NoError(t, err)
	assert.Nil(t, record.LastAccess)
	require.NotNil(t, record.InactiveAt)
	assert.Equal(t, inactive, *record.InactiveAt)
	assert.Equal(t, domain.StateInactive, record.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerGetMissingAndFailing(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock, nil, 10)
	ctx := context.Background()
	key := domain.RecordKey{AccountID: "111", Username: "ghost"}

	mock.ExpectQuery("FROM iam_ledger").WithArgs("111", "ghost").WillReturnError(pgx.ErrNoRows)
	_, err := repo.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	mock.ExpectQuery("FROM iam_ledger").WithArgs("111", "ghost").WillReturnError(errors.New("connection reset"))
	_, err = repo.Get(ctx, key)
	require.Error(t, err)
	assert.False(t, domain.IsNotFound(err))
	assert.Equal(t, domain.ErrCodeInternal, domain.CodeOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerPut(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock, nil, 10)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (account_id, username) DO UPDATE")).
		WithArgs("111", "bob", nil, nil, nil, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Put(context.Background(), &domain.LedgerRecord{AccountID: "111", Username: "bob", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Put(context.Background(), &domain.LedgerRecord{}), domain.ErrInvalidPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerUpdateFields(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock, nil, 10)
	now := time.Now().UTC()
	key := domain.RecordKey{AccountID: "111", Username: "bob"}

	mock.ExpectExec(regexp.QuoteMeta("inactive_at = COALESCE(inactive_at, $5)")).
		WithArgs("111", "bob", false, nil, now, nil, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateFields(context.Background(), key, domain.Fields{InactiveAt: &now, UpdatedAt: now}))

	mock.ExpectExec("UPDATE iam_ledger").
		WithArgs("111", "bob", false, nil, nil, now, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.UpdateFields(context.Background(), key, domain.Fields{DeleteAt: &now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerScanFollowsPages(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock, nil, 2)
	now := time.Now().UTC()
	filter := repository.PendingDeletion("111")

	mock.ExpectQuery("ORDER BY account_id, username").
		WithArgs("111", true, true, false, false, "", "", 2).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("111", "a", (*time.Time)(nil), &now, (*time.Time)(nil), now, now).
			AddRow("111", "b", (*time.Time)(nil), &now, (*time.Time)(nil), now, now))
	mock.ExpectQuery("ORDER BY account_id, username").
		WithArgs("111", true, true, false, false, "111", "b", 2).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("111", "c", (*time.Time)(nil), &now, (*time.Time)(nil), now, now))

	records, err := repo.Scan(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[2].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEnsureTable(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS iam_ledger").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, NewLedgerRepository(mock, nil, 0).EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())

	called := false
	migrated := NewLedgerRepository(mock, func(context.Context) error { called = true; return nil }, 0)
	require.NoError(t, migrated.EnsureTable(context.Background()))
	assert.True(t, called)
}
