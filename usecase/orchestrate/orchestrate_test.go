package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/infrastructure/memory"
	"github.com/fastygo/iamcleaner/usecase/activity"
	"github.com/fastygo/iamcleaner/usecase/classify"
	"github.com/fastygo/iamcleaner/usecase/deactivate"
	"github.com/fastygo/iamcleaner/usecase/deletion"
	"github.com/fastygo/iamcleaner/usecase/reconcile"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	dir    *memory.Directory
	ledger *memory.Ledger
	logs   *observer.ObservedLogs
	uc     *UseCase
}

func newFixture(cfg Config) *fixture {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	dir := memory.NewDirectory()
	ledger := memory.NewLedger()
	reconciler := reconcile.New(ledger, clock, logger)
	uc := New(Deps{
		Sessions:   dir,
		Ledger:     ledger,
		Activity:   activity.New(logger),
		Classifier: classify.New(30, 7, clock),
		Reconciler: reconciler,
		Deactivate: deactivate.New(reconciler, logger),
		Deletion:   deletion.New(reconciler, logger),
		Clock:      clock,
	}, cfg, logger)
	return &fixture{dir: dir, ledger: ledger, logs: logs, uc: uc}
}

func (f *fixture) inactiveFor(accountID, username string, days int) {
	at := now.AddDate(0, 0, -days)
	_ = f.ledger.Put(context.Background(), &domain.LedgerRecord{
		AccountID: accountID, Username: username, InactiveAt: &at, CreatedAt: at, UpdatedAt: at,
	})
}

func outcomes(summary *domain.RunSummary) map[string]domain.Outcome {
	out := make(map[string]domain.Outcome)
	for _, acct := range summary.Accounts {
		for _, p := range acct.Principals {
			out[acct.AccountID+"/"+p.Username] = p.Outcome
		}
	}
	return out
}

func TestDeactivateFlagsAndStripsZombie(t *testing.T) {
	f := newFixture(Config{WorkersPrincipals: 2})
	keyUsed := now.AddDate(0, 0, -45)
	f.dir.AddUser("111", memory.User{
		Username:           "alice",
		CreatedAt:          now.AddDate(-1, 0, 0),
		LoginProfile:       true,
		Credentials:        []domain.Credential{{ID: "AKIA1"}},
		CredentialLastUsed: map[string]time.Time{"AKIA1": keyUsed},
		Policies:           []domain.Policy{{ARN: "arn:aws:iam::aws:policy/PowerUserAccess"}},
	})
	recent := now.AddDate(0, 0, -2)
	f.dir.AddUser("111", memory.User{Username: "erin", CreatedAt: now.AddDate(-1, 0, 0), PasswordLastUsed: &recent})

	summary := f.uc.Run(context.Background(), Request{Mode: "deactivate", Accounts: []string{"111"}})

	assert.Equal(t, domain.RunCompleted, summary.Status)
	got := outcomes(summary)
	assert.Equal(t, domain.OutcomeDeactivated, got["111/alice"])
	assert.Equal(t, domain.OutcomeSkipped, got["111/erin"])

	alice, _ := f.dir.User("111", "alice")
	assert.Equal(t, domain.CredentialInactive, alice.Credentials[0].Status)
	assert.False(t, alice.LoginProfile)
	assert.Empty(t, alice.Policies)

	record, err := f.ledger.Get(context.Background(), domain.RecordKey{AccountID: "111", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, now, *record.InactiveAt)
}

func TestDeleteScenario(t *testing.T) {
	f := newFixture(Config{})
	f.dir.AddUser("111", memory.User{Username: "bob", Credentials: []domain.Credential{{ID: "AKIA2", Status: domain.CredentialInactive}}})
	f.dir.AddUser("111", memory.User{Username: "carol"})
	f.dir.AddUser("111", memory.User{Username: "frank"})
	f.dir.Fail(memory.OpDeletePrincipal, "111", "carol",
		domain.WrapError(domain.ErrCodeForbidden, "access denied", errors.New("AccessDenied")))
	f.inactiveFor("111", "bob", 10)
	f.inactiveFor("111", "carol", 10)
	f.inactiveFor("111", "frank", 3)
	f.inactiveFor("222", "mallory", 30)

	summary := f.uc.Run(context.Background(), Request{Mode: "delete", Accounts: []string{"111"}})

	assert.Equal(t, domain.RunCompletedWithErrors, summary.Status)
	got := outcomes(summary)
	assert.Equal(t, domain.OutcomeDeleted, got["111/bob"])
	assert.Equal(t, domain.OutcomeErrored, got["111/carol"])
	assert.Equal(t, domain.OutcomeSkipped, got["111/frank"])
	assert.NotContains(t, got, "111/mallory", "rows of other accounts are not processed")

	ctx := context.Background()
	bob, _ := f.ledger.Get(ctx, domain.RecordKey{AccountID: "111", Username: "bob"})
	assert.Equal(t, domain.StateDeleted, bob.State())
	carol, _ := f.ledger.Get(ctx, domain.RecordKey{AccountID: "111", Username: "carol"})
	assert.Nil(t, carol.DeleteAt)

	again := f.uc.Run(ctx, Request{Mode: "delete", Accounts: []string{"111"}})
	assert.NotContains(t, outcomes(again), "111/bob", "deleted rows leave the pending scan")
}

func TestSyncAcrossAccountsWithDeniedAccount(t *testing.T) {
	f := newFixture(Config{Accounts: []string{"111", "222", "333"}, WorkersAccounts: 3})
	f.dir.AddUser("111", memory.User{Username: "alice", CreatedAt: now.AddDate(0, -1, 0)})
	f.dir.AddUser("333", memory.User{Username: "zoe", CreatedAt: now.AddDate(0, -1, 0)})
	f.dir.Deny("222")

	summary := f.uc.Run(context.Background(), Request{Mode: "sync"})

	require.Len(t, summary.Accounts, 3)
	assert.Equal(t, domain.RunCompletedWithErrors, summary.Status)
	assert.Equal(t, domain.ErrCodeForbidden, summary.Accounts[1].ErrorCode)
	assert.Equal(t, 2, summary.Totals[domain.OutcomeSynced])

	record, err := f.ledger.Get(context.Background(), domain.RecordKey{AccountID: "333", Username: "zoe"})
	require.NoError(t, err)
	assert.Nil(t, record.LastAccess)

	runLogs := f.logs.FilterField(zap.String("run_id", summary.ID)).FilterMessage("run finished")
	assert.Equal(t, 1, runLogs.Len())
}

func TestInvalidModeHasNoSideEffects(t *testing.T) {
	f := newFixture(Config{})
	f.dir.AddUser("111", memory.User{Username: "alice"})

	summary := f.uc.Run(context.Background(), Request{Mode: "purge", Accounts: []string{"111"}})
	assert.Equal(t, domain.RunRejected, summary.Status)
	assert.Contains(t, summary.Error, "invalid mode")
	assert.Empty(t, f.dir.Calls())

	_, err := f.ledger.Get(context.Background(), domain.RecordKey{AccountID: "111", Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	stored, err := f.uc.Get(context.Background(), summary.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRejected, stored.Status)
}

func TestNoAccountsIsRejected(t *testing.T) {
	f := newFixture(Config{})
	_, err := f.uc.Start(context.Background(), Request{Mode: "sync"})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
}

func TestDryRunOnlyFlags(t *testing.T) {
	f := newFixture(Config{DryRun: true})
	f.dir.AddUser("111", memory.User{Username: "old", CreatedAt: now.AddDate(0, 0, -90), LoginProfile: true})
	f.dir.AddUser("111", memory.User{Username: "stale"})
	f.inactiveFor("111", "stale", 20)

	deactivated := f.uc.Run(context.Background(), Request{Mode: "deactivate", Accounts: []string{"111"}})
	assert.True(t, deactivated.DryRun)
	assert.Equal(t, domain.OutcomeFlagged, outcomes(deactivated)["111/old"])

	deleted := f.uc.Run(context.Background(), Request{Mode: "delete", Accounts: []string{"111"}})
	assert.Equal(t, domain.OutcomeFlagged, outcomes(deleted)["111/stale"])

	assert.Empty(t, f.dir.Calls())
	_, err := f.ledger.Get(context.Background(), domain.RecordKey{AccountID: "111", Username: "old"})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStartRejectsOverlappingRun(t *testing.T) {
	f := newFixture(Config{Accounts: []string{"111"}})
	f.dir.EnsureAccount("111")

	require.NoError(t, f.uc.acquire(context.Background(), domain.ModeSync, "other"))
	_, err := f.uc.Start(context.Background(), Request{Mode: "sync"})
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	f.uc.release("other", domain.ModeSync)
	started, err := f.uc.Start(context.Background(), Request{Mode: "sync"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, started.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.uc.Wait(ctx))

	finished, err := f.uc.Get(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)
}

func TestCancelledRunSkipsAccounts(t *testing.T) {
	f := newFixture(Config{})
	f.dir.AddUser("111", memory.User{Username: "alice"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := f.uc.Run(ctx, Request{Mode: "sync", Accounts: []string{"111"}})
	require.Len(t, summary.Accounts, 1)
	assert.Equal(t, domain.ErrCodeUnavailable, summary.Accounts[0].ErrorCode)
	assert.Equal(t, domain.RunCompletedWithErrors, summary.Status)
}
