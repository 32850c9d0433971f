package orchestrate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/usecase"
)

func (uc *UseCase) registerPipelines() {
	uc.dispatcher.Register(domain.ModeSync, uc.syncAccount)
	uc.dispatcher.Register(domain.ModeDeactivate, uc.deactivateAccount)
	uc.dispatcher.Register(domain.ModeDelete, uc.deleteAccount)
}

// syncAccount records the current activity of every principal in the ledger.
func (uc *UseCase) syncAccount(ctx context.Context, backend usecase.IdentityBackend) ([]domain.PrincipalResult, error) {
	principals, err := backend.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	return uc.forEach(ctx, len(principals), func(ctx context.Context, i int) domain.PrincipalResult {
		p := principals[i]
		activity, err := uc.activity.Resolve(ctx, backend, p)
		if err != nil {
			return errored(p.Username, err, nil)
		}
		if err := uc.ledger.Sync(ctx, p.Key(), activity); err != nil {
			return errored(p.Username, err, nil)
		}
		return domain.PrincipalResult{Username: p.Username, Outcome: domain.OutcomeSynced}
	}), nil
}

// deactivateAccount strips access from principals past the inactivity threshold.
func (uc *UseCase) deactivateAccount(ctx context.Context, backend usecase.IdentityBackend) ([]domain.PrincipalResult, error) {
	principals, err := backend.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	dryRun := dryRunFrom(ctx)
	return uc.forEach(ctx, len(principals), func(ctx context.Context, i int) domain.PrincipalResult {
		p := principals[i]
		activity, err := uc.activity.Resolve(ctx, backend, p)
		if err != nil {
			return errored(p.Username, err, nil)
		}
		if !uc.classifier.IsZombie(p, activity) {
			return domain.PrincipalResult{Username: p.Username, Outcome: domain.OutcomeSkipped}
		}
		if dryRun {
			return domain.PrincipalResult{Username: p.Username, Outcome: domain.OutcomeFlagged}
		}
		steps, err := uc.deactivator.Execute(ctx, backend, p)
		if err != nil {
			return errored(p.Username, err, steps)
		}
		return domain.PrincipalResult{Username: p.Username, Outcome: domain.OutcomeDeactivated, Steps: steps}
	}), nil
}

// deleteAccount removes principals whose ledger rows have been inactive long enough.
// Only rows of the backend's own account are considered.
func (uc *UseCase) deleteAccount(ctx context.Context, backend usecase.IdentityBackend) ([]domain.PrincipalResult, error) {
	records, err := uc.ledger.Pending(ctx, backend.AccountID())
	if err != nil {
		return nil, err
	}
	dryRun := dryRunFrom(ctx)
	return uc.forEach(ctx, len(records), func(ctx context.Context, i int) domain.PrincipalResult {
		record := records[i]
		if !uc.classifier.IsDeleteCandidate(record) {
			return domain.PrincipalResult{Username: record.Username, Outcome: domain.OutcomeSkipped}
		}
		if dryRun {
			return domain.PrincipalResult{Username: record.Username, Outcome: domain.OutcomeFlagged}
		}
		steps, err := uc.deleter.Execute(ctx, backend, record.Key())
		if err != nil {
			return errored(record.Username, err, steps)
		}
		return domain.PrincipalResult{Username: record.Username, Outcome: domain.OutcomeDeleted, Steps: steps}
	}), nil
}

// forEach runs fn for n principals with at most WorkersPrincipals in flight.
func (uc *UseCase) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) domain.PrincipalResult) []domain.PrincipalResult {
	results := make([]domain.PrincipalResult, n)
	var g errgroup.Group
	g.SetLimit(uc.cfg.WorkersPrincipals)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func errored(username string, err error, steps []domain.StepFailure) domain.PrincipalResult {
	return domain.PrincipalResult{
		Username: username,
		Outcome:  domain.OutcomeErrored,
		Error:    err.Error(),
		Steps:    steps,
	}
}

type dryRunKey struct{}

func withDryRun(ctx context.Context, dryRun bool) context.Context {
	return context.WithValue(ctx, dryRunKey{}, dryRun)
}

func dryRunFrom(ctx context.Context) bool {
	dryRun, _ := ctx.Value(dryRunKey{}).(bool)
	return dryRun
}
