package classify

import (
	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/usecase"
)

const (
	DefaultInactiveDays = 30
	DefaultDeleteDays   = 7
)

// UseCase decides lifecycle transitions from day thresholds.
type UseCase struct {
	inactiveDays int
	deleteDays   int
	now          usecase.Clock
}

// New builds a classifier. Non-positive thresholds fall back to the defaults.
func New(inactiveDays, deleteDays int, clock usecase.Clock) *UseCase {
	if inactiveDays <= 0 {
		inactiveDays = DefaultInactiveDays
	}
	if deleteDays <= 0 {
		deleteDays = DefaultDeleteDays
	}
	if clock == nil {
		clock = usecase.SystemClock
	}
	return &UseCase{inactiveDays: inactiveDays, deleteDays: deleteDays, now: clock}
}

// InactiveAge returns the whole days since the principal was last active,
// measured from creation for the sentinel.
func (uc *UseCase) InactiveAge(principal domain.Principal, activity domain.Activity) int {
	return domain.AgeDays(uc.now(), activity.Baseline(principal.CreatedAt))
}

// IsZombie reports whether the principal crossed the inactivity threshold.
// A real timestamp qualifies at exactly the threshold; the creation-time
// baseline of the sentinel must exceed it.
func (uc *UseCase) IsZombie(principal domain.Principal, activity domain.Activity) bool {
	age := uc.InactiveAge(principal, activity)
	if activity.IsSentinel() {
		return age > uc.inactiveDays
	}
	return age >= uc.inactiveDays
}

// IsDeleteCandidate reports whether a ledger row has been inactive long enough to delete.
func (uc *UseCase) IsDeleteCandidate(record domain.LedgerRecord) bool {
	if record.InactiveAt == nil || record.DeleteAt != nil {
		return false
	}
	return domain.AgeDays(uc.now(), *record.InactiveAt) >= uc.deleteDays
}
