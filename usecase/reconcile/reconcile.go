package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
	"github.com/fastygo/iamcleaner/usecase"
	"github.com/fastygo/iamcleaner/usecase/classify"
)

// DeletePolicy decides whether an inactive row is due for deletion.
type DeletePolicy interface {
	IsDeleteCandidate(record domain.LedgerRecord) bool
}

// UseCase is the only writer of the ledger.
type UseCase struct {
	ledger repository.LedgerRepository
	policy DeletePolicy
	now    usecase.Clock
	logger *zap.Logger
}

func New(ledger repository.LedgerRepository, clock usecase.Clock, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = usecase.SystemClock
	}
	return &UseCase{
		ledger: ledger,
		policy: classify.New(classify.DefaultInactiveDays, classify.DefaultDeleteDays, clock),
		now:    clock,
		logger: logger,
	}
}

// WithDeletePolicy replaces the default delete thresholds used by Candidates.
func (uc *UseCase) WithDeletePolicy(policy DeletePolicy) *UseCase {
	if policy != nil {
		uc.policy = policy
	}
	return uc
}

// Sync records the latest activity of a principal. A new row is inserted on
// first sight; otherwise only last_access and updated_at change.
func (uc *UseCase) Sync(ctx context.Context, key domain.RecordKey, activity domain.Activity) error {
	existing, err := uc.lookup(ctx, key)
	if err != nil {
		return err
	}
	now := uc.now().UTC()

	if existing == nil {
		record := &domain.LedgerRecord{
			AccountID:  key.AccountID,
			Username:   key.Username,
			LastAccess: activity.LastAccess(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := uc.ledger.Put(ctx, record); err != nil {
			return fmt.Errorf("sync %s: %w", key, err)
		}
		uc.logger.Debug("ledger row created", zap.String("key", key.String()))
		return nil
	}

	fields := domain.Fields{
		LastAccess:      activity.LastAccess(),
		ClearLastAccess: activity.IsSentinel(),
		UpdatedAt:       domain.NextUpdatedAt(existing.UpdatedAt, now),
	}
	if err := uc.ledger.UpdateFields(ctx, key, fields); err != nil {
		return fmt.Errorf("sync %s: %w", key, err)
	}
	return nil
}

// MarkInactive stamps inactive_at once. A principal deactivated before it was
// ever synced gets a full row.
func (uc *UseCase) MarkInactive(ctx context.Context, key domain.RecordKey) error {
	existing, err := uc.lookup(ctx, key)
	if err != nil {
		return err
	}
	now := uc.now().UTC()

	if existing == nil {
		record := &domain.LedgerRecord{
			AccountID:  key.AccountID,
			Username:   key.Username,
			InactiveAt: &now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := uc.ledger.Put(ctx, record); err != nil {
			return fmt.Errorf("mark inactive %s: %w", key, err)
		}
		return nil
	}

	fields := domain.Fields{
		InactiveAt: &now,
		UpdatedAt:  domain.NextUpdatedAt(existing.UpdatedAt, now),
	}
	if err := uc.ledger.UpdateFields(ctx, key, fields); err != nil {
		return fmt.Errorf("mark inactive %s: %w", key, err)
	}
	return nil
}

// MarkDeleted stamps delete_at once and back-fills inactive_at so that a
// deleted row is always also inactive.
func (uc *UseCase) MarkDeleted(ctx context.Context, key domain.RecordKey) error {
	existing, err := uc.lookup(ctx, key)
	if err != nil {
		return err
	}
	now := uc.now().UTC()

	if existing == nil {
		record := &domain.LedgerRecord{
			AccountID:  key.AccountID,
			Username:   key.Username,
			InactiveAt: &now,
			DeleteAt:   &now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := uc.ledger.Put(ctx, record); err != nil {
			return fmt.Errorf("mark deleted %s: %w", key, err)
		}
		return nil
	}

	fields := domain.Fields{
		InactiveAt: &now,
		DeleteAt:   &now,
		UpdatedAt:  domain.NextUpdatedAt(existing.UpdatedAt, now),
	}
	if err := uc.ledger.UpdateFields(ctx, key, fields); err != nil {
		return fmt.Errorf("mark deleted %s: %w", key, err)
	}
	return nil
}

// Pending lists the rows of an account that are inactive but not deleted.
func (uc *UseCase) Pending(ctx context.Context, accountID string) ([]domain.LedgerRecord, error) {
	records, err := uc.ledger.Scan(ctx, repository.PendingDeletion(accountID))
	if err != nil {
		return nil, fmt.Errorf("scan pending deletions of %s: %w", accountID, err)
	}
	return records, nil
}

// Candidates lists the pending rows the next delete run would act on.
func (uc *UseCase) Candidates(ctx context.Context, accountID string) ([]domain.LedgerRecord, error) {
	pending, err := uc.Pending(ctx, accountID)
	if err != nil {
		return nil, err
	}
	due := make([]domain.LedgerRecord, 0, len(pending))
	for _, record := range pending {
		if uc.policy.IsDeleteCandidate(record) {
			due = append(due, record)
		}
	}
	return due, nil
}

// List returns the rows of an account in the given state; an empty state lists all rows.
func (uc *UseCase) List(ctx context.Context, accountID string, state domain.LifecycleState) ([]domain.LedgerRecord, error) {
	return uc.ledger.Scan(ctx, repository.FilterForState(accountID, state))
}

// lookup returns nil when the row does not exist. Any other error is returned.
func (uc *UseCase) lookup(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error) {
	record, err := uc.ledger.Get(ctx, key)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", key, err)
	}
	return record, nil
}
