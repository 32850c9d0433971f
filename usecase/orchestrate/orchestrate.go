package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/iamcleaner/domain"
	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
	"github.com/fastygo/iamcleaner/repository"
	"github.com/fastygo/iamcleaner/usecase"
	"github.com/fastygo/iamcleaner/usecase/activity"
	"github.com/fastygo/iamcleaner/usecase/classify"
	"github.com/fastygo/iamcleaner/usecase/deactivate"
	"github.com/fastygo/iamcleaner/usecase/deletion"
	"github.com/fastygo/iamcleaner/usecase/reconcile"
)

const recentRuns = 64

// Config tunes a run.
type Config struct {
	// Accounts is used when a request names none.
	Accounts          []string
	WorkersAccounts   int
	WorkersPrincipals int
	DryRun            bool
	LockTTL           time.Duration
}

// Request triggers one run.
type Request struct {
	Mode     string
	Accounts []string
}

// Deps are the collaborators of the orchestrator. Runs may be nil.
type Deps struct {
	Sessions   usecase.SessionProvider
	Ledger     repository.LedgerRepository
	Runs       repository.RunRepository
	Activity   *activity.UseCase
	Classifier *classify.UseCase
	Reconciler *reconcile.UseCase
	Deactivate *deactivate.UseCase
	Deletion   *deletion.UseCase
	Clock      usecase.Clock
}

// UseCase fans a mode out over accounts and reports a run summary.
type UseCase struct {
	cfg         Config
	sessions    usecase.SessionProvider
	store       repository.LedgerRepository
	runs        repository.RunRepository
	activity    *activity.UseCase
	classifier  *classify.UseCase
	ledger      *reconcile.UseCase
	deactivator *deactivate.UseCase
	deleter     *deletion.UseCase
	dispatcher  *usecase.Dispatcher
	now         usecase.Clock
	logger      *zap.Logger

	root     context.Context
	inflight sync.WaitGroup

	mu      sync.Mutex
	running map[domain.Mode]string
	recent  map[string]domain.RunSummary
	order   []string
}

func New(deps Deps, cfg Config, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = usecase.SystemClock
	}
	if cfg.WorkersAccounts <= 0 {
		cfg.WorkersAccounts = 1
	}
	if cfg.WorkersPrincipals <= 0 {
		cfg.WorkersPrincipals = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Hour
	}
	uc := &UseCase{
		cfg:         cfg,
		sessions:    deps.Sessions,
		store:       deps.Ledger,
		runs:        deps.Runs,
		activity:    deps.Activity,
		classifier:  deps.Classifier,
		ledger:      deps.Reconciler,
		deactivator: deps.Deactivate,
		deleter:     deps.Deletion,
		dispatcher:  usecase.NewDispatcher(),
		now:         deps.Clock,
		logger:      logger,
		root:        context.Background(),
		running:     make(map[domain.Mode]string),
		recent:      make(map[string]domain.RunSummary),
	}
	uc.registerPipelines()
	return uc
}

// SetRootContext sets the context background runs derive from. Cancelling it
// stops Start-ed runs before their next account.
func (uc *UseCase) SetRootContext(ctx context.Context) {
	if ctx != nil {
		uc.root = ctx
	}
}

// Run executes a request synchronously and returns its summary.
func (uc *UseCase) Run(ctx context.Context, req Request) *domain.RunSummary {
	summary, plan, err := uc.begin(ctx, req)
	if err != nil {
		return summary
	}
	uc.execute(ctx, summary, plan)
	return summary
}

// Start validates the request, takes the run lock and executes the run in the
// background. The returned summary is a snapshot in the running state. The
// error is INVALID or CONFLICT when the run was rejected.
func (uc *UseCase) Start(ctx context.Context, req Request) (*domain.RunSummary, error) {
	summary, plan, err := uc.begin(ctx, req)
	if err != nil {
		return summary, err
	}
	snapshot := *summary

	uc.inflight.Add(1)
	go func() {
		defer uc.inflight.Done()
		uc.execute(uc.root, summary, plan)
	}()
	return &snapshot, nil
}

// Wait blocks until every background run finished or ctx ends.
func (uc *UseCase) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a stored run summary.
func (uc *UseCase) Get(ctx context.Context, id string) (*domain.RunSummary, error) {
	uc.mu.Lock()
	cached, ok := uc.recent[id]
	uc.mu.Unlock()
	if ok {
		return &cached, nil
	}
	if uc.runs == nil {
		return nil, domain.ErrRunNotFound
	}
	return uc.runs.Get(ctx, id)
}

type plan struct {
	mode     domain.Mode
	accounts []string
	dryRun   bool
}

// begin validates the request and takes the lock. Rejected runs have no side effects
// beyond their own summary record.
func (uc *UseCase) begin(ctx context.Context, req Request) (*domain.RunSummary, plan, error) {
	summary := &domain.RunSummary{
		ID:        uuid.NewString(),
		Status:    domain.RunRunning,
		DryRun:    uc.cfg.DryRun,
		StartedAt: uc.now().UTC(),
	}
	log := uc.logger.With(zap.String("run_id", summary.ID))

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		log.Warn("run rejected", zap.String("mode", req.Mode), zap.Error(err))
		summary.Mode = domain.Mode(req.Mode)
		uc.reject(ctx, summary, err)
		return summary, plan{}, err
	}
	summary.Mode = mode

	accounts := dedupe(req.Accounts)
	if len(accounts) == 0 {
		accounts = dedupe(uc.cfg.Accounts)
	}
	if len(accounts) == 0 {
		err := domain.WrapError(domain.ErrCodeInvalid, "invalid payload", errors.New("no accounts to process"))
		log.Warn("run rejected", zap.Error(err))
		uc.reject(ctx, summary, err)
		return summary, plan{}, err
	}

	if err := uc.acquire(ctx, mode, summary.ID); err != nil {
		log.Warn("run rejected", zap.String("mode", string(mode)), zap.Error(err))
		uc.reject(ctx, summary, err)
		return summary, plan{}, err
	}

	uc.remember(ctx, summary)
	return summary, plan{mode: mode, accounts: accounts, dryRun: uc.cfg.DryRun}, nil
}

func (uc *UseCase) execute(ctx context.Context, summary *domain.RunSummary, p plan) {
	ctx = appLogger.ContextWithRunID(ctx, summary.ID)
	ctx = withDryRun(ctx, p.dryRun)
	log := appLogger.WithRunID(ctx, uc.logger).With(zap.String("mode", string(p.mode)))
	defer uc.release(summary.ID, p.mode)

	log.Info("run started", zap.Strings("accounts", p.accounts), zap.Bool("dry_run", p.dryRun))

	if err := uc.store.EnsureTable(ctx); err != nil {
		log.Error("ledger unavailable", zap.Error(err))
		summary.Error = fmt.Sprintf("ensure ledger: %v", err)
		summary.Finish(uc.now())
		uc.remember(ctx, summary)
		return
	}

	results := make([]domain.AccountResult, len(p.accounts))
	var g errgroup.Group
	g.SetLimit(uc.cfg.WorkersAccounts)
	for i, accountID := range p.accounts {
		i, accountID := i, accountID
		g.Go(func() error {
			results[i] = uc.runAccount(ctx, p.mode, accountID)
			return nil
		})
	}
	_ = g.Wait()

	summary.Accounts = results
	summary.Finish(uc.now())
	uc.remember(ctx, summary)

	fields := []zap.Field{zap.String("status", string(summary.Status))}
	for outcome, n := range summary.Totals {
		fields = append(fields, zap.Int(string(outcome), n))
	}
	log.Info("run finished", fields...)
}

func (uc *UseCase) runAccount(ctx context.Context, mode domain.Mode, accountID string) domain.AccountResult {
	log := appLogger.WithRunID(ctx, uc.logger).With(zap.String("account_id", accountID))
	result := domain.AccountResult{AccountID: accountID}

	if err := ctx.Err(); err != nil {
		result.Error = "run cancelled before account started"
		result.ErrorCode = domain.ErrCodeUnavailable
		return result
	}

	backend, err := uc.sessions.Assume(ctx, accountID)
	if err != nil {
		log.Error("assume session failed", zap.String("code", string(domain.CodeOf(err))), zap.Error(err))
		result.Error = err.Error()
		result.ErrorCode = domain.CodeOf(err)
		return result
	}

	principals, err := uc.dispatcher.Dispatch(ctx, mode, backend)
	if err != nil {
		log.Error("account pipeline failed", zap.String("code", string(domain.CodeOf(err))), zap.Error(err))
		result.Error = err.Error()
		result.ErrorCode = domain.CodeOf(err)
	}
	result.Principals = principals
	log.Info("account processed", zap.Int("principals", len(principals)))
	return result
}

func (uc *UseCase) acquire(ctx context.Context, mode domain.Mode, runID string) error {
	uc.mu.Lock()
	if _, busy := uc.running[mode]; busy {
		uc.mu.Unlock()
		return domain.ErrRunInProgress
	}
	uc.running[mode] = runID
	uc.mu.Unlock()

	if uc.runs == nil {
		return nil
	}
	if err := uc.runs.Acquire(ctx, mode, runID, uc.cfg.LockTTL); err != nil {
		uc.mu.Lock()
		delete(uc.running, mode)
		uc.mu.Unlock()
		return err
	}
	return nil
}

func (uc *UseCase) release(runID string, mode domain.Mode) {
	uc.mu.Lock()
	if uc.running[mode] == runID {
		delete(uc.running, mode)
	}
	uc.mu.Unlock()

	if uc.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.runs.Release(ctx, mode, runID); err != nil {
		uc.logger.Warn("failed to release run lock", zap.String("run_id", runID), zap.Error(err))
	}
}

func (uc *UseCase) reject(ctx context.Context, summary *domain.RunSummary, err error) {
	summary.Reject(err, uc.now())
	uc.remember(ctx, summary)
}

// remember keeps a copy in memory and persists it when a run store is configured.
func (uc *UseCase) remember(ctx context.Context, summary *domain.RunSummary) {
	snapshot := *summary
	uc.mu.Lock()
	if _, seen := uc.recent[snapshot.ID]; !seen {
		uc.order = append(uc.order, snapshot.ID)
		if len(uc.order) > recentRuns {
			delete(uc.recent, uc.order[0])
			uc.order = uc.order[1:]
		}
	}
	uc.recent[snapshot.ID] = snapshot
	uc.mu.Unlock()

	if uc.runs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := uc.runs.Save(saveCtx, &snapshot); err != nil {
		uc.logger.Warn("failed to store run summary", zap.String("run_id", snapshot.ID), zap.Error(err))
	}
}

func dedupe(accounts []string) []string {
	seen := make(map[string]struct{}, len(accounts))
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
