package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("detach policy: %w", WrapError(ErrCodeThrottled, "rate exceeded", errors.New("Throttling")))

	assert.Equal(t, ErrCodeThrottled, CodeOf(wrapped))
	assert.Equal(t, ErrCodeUnavailable, CodeOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(ErrPrincipalNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrRecordNotFound)))
}

func TestParseMode(t *testing.T) {
	for _, raw := range []string{"sync", " Deactivate ", "DELETE"} {
		mode, err := ParseMode(raw)
		require.NoError(t, err, raw)
		assert.Contains(t, Modes(), mode)
	}

	_, err := ParseMode("prod")
	require.Error(t, err)
	assert.True(t, IsDomainError(err, ErrCodeInvalid))
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Contains(t, err.Error(), `"prod"`)
}

func TestActivity(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	used := created.Add(48 * time.Hour)

	none := NoActivity()
	assert.True(t, none.IsSentinel())
	assert.Equal(t, created, none.Baseline(created))
	assert.Nil(t, none.LastAccess())

	seen := ObservedAt(used, SourceCredential)
	assert.False(t, seen.IsSentinel())
	assert.Equal(t, used, seen.Baseline(created))
	require.NotNil(t, seen.LastAccess())
	assert.Equal(t, used, *seen.LastAccess())
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30, AgeDays(now, now.AddDate(0, 0, -30)))
	assert.Equal(t, 29, AgeDays(now, now.AddDate(0, 0, -30).Add(time.Second)))
	assert.Equal(t, 0, AgeDays(now, now.Add(time.Hour)))
	assert.Equal(t, 0, AgeDays(now, time.Time{}))
}

func TestLedgerRecordState(t *testing.T) {
	now := time.Now().UTC()
	rec := &LedgerRecord{AccountID: "111", Username: "alice"}
	assert.Equal(t, StateActive, rec.State())

	Fields{InactiveAt: &now, UpdatedAt: now}.Apply(rec)
	assert.Equal(t, StateInactive, rec.State())

	Fields{DeleteAt: &now, UpdatedAt: now}.Apply(rec)
	assert.Equal(t, StateDeleted, rec.State())
	assert.Equal(t, "111/alice", rec.Key().String())

	var missing *LedgerRecord
	assert.Equal(t, StateActive, missing.State())
}

func TestNextUpdatedAt(t *testing.T) {
	prev := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, prev.Add(time.Hour), NextUpdatedAt(prev, prev.Add(time.Hour)))
	assert.Equal(t, prev.Add(time.Microsecond), NextUpdatedAt(prev, prev))
	assert.Equal(t, prev.Add(time.Microsecond), NextUpdatedAt(prev, prev.Add(-time.Minute)))
}

func TestRunSummaryFinish(t *testing.T) {
	now := time.Now()
	s := &RunSummary{ID: "r1", Mode: ModeDelete, Status: RunRunning, StartedAt: now}
	s.Accounts = []AccountResult{
		{AccountID: "222", Principals: []PrincipalResult{{Username: "carol", Outcome: OutcomeErrored}, {Username: "bob", Outcome: OutcomeDeleted}}},
		{AccountID: "111", Principals: []PrincipalResult{{Username: "dave", Outcome: OutcomeDeleted}}},
	}

	s.Finish(now)

	assert.Equal(t, RunCompletedWithErrors, s.Status)
	assert.Equal(t, "111", s.Accounts[0].AccountID)
	assert.Equal(t, "bob", s.Accounts[1].Principals[0].Username)
	assert.Equal(t, 2, s.Totals[OutcomeDeleted])
	assert.Equal(t, 1, s.Totals[OutcomeErrored])
	require.NotNil(t, s.FinishedAt)

	clean := &RunSummary{Status: RunRunning, Accounts: []AccountResult{{AccountID: "1"}}}
	clean.Finish(now)
	assert.Equal(t, RunCompleted, clean.Status)

	rejected := &RunSummary{}
	rejected.Reject(ErrInvalidMode, now)
	assert.Equal(t, RunRejected, rejected.Status)
	assert.Equal(t, "invalid mode", rejected.Error)
}
