package repository

import (
	"context"

	"github.com/fastygo/iamcleaner/domain"
)

// LedgerFilter narrows a scan. The zero value matches every row. Build one per call.
type LedgerFilter struct {
	AccountID string
	// InactiveOnly keeps rows with inactive_at set.
	InactiveOnly bool
	// ExcludeDeleted drops rows with delete_at set.
	ExcludeDeleted bool
	// DeletedOnly keeps rows with delete_at set.
	DeletedOnly bool
	// ActiveOnly keeps rows without inactive_at.
	ActiveOnly bool
}

// PendingDeletion selects the rows of one account that are inactive but not yet deleted.
func PendingDeletion(accountID string) LedgerFilter {
	return LedgerFilter{AccountID: accountID, InactiveOnly: true, ExcludeDeleted: true}
}

// FilterForState builds the filter listing the rows of one account in a lifecycle state.
func FilterForState(accountID string, state domain.LifecycleState) LedgerFilter {
	switch state {
	case domain.StateActive:
		return LedgerFilter{AccountID: accountID, ActiveOnly: true}
	case domain.StateInactive:
		return PendingDeletion(accountID)
	case domain.StateDeleted:
		return LedgerFilter{AccountID: accountID, DeletedOnly: true}
	default:
		return LedgerFilter{AccountID: accountID}
	}
}

// Match evaluates the filter in memory, for stores without server-side predicates.
func (f LedgerFilter) Match(r *domain.LedgerRecord) bool {
	if r == nil {
		return false
	}
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.InactiveOnly && r.InactiveAt == nil {
		return false
	}
	if f.ActiveOnly && r.InactiveAt != nil {
		return false
	}
	if f.ExcludeDeleted && r.DeleteAt != nil {
		return false
	}
	if f.DeletedOnly && r.DeleteAt == nil {
		return false
	}
	return true
}

// LedgerRepository is the durable lifecycle record store.
type LedgerRepository interface {
	// EnsureTable creates the backing table when absent. Safe to call repeatedly.
	EnsureTable(ctx context.Context) error
	// Get returns domain.ErrRecordNotFound when no row exists for key.
	Get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error)
	// Put writes a full row, replacing any existing one.
	Put(ctx context.Context, record *domain.LedgerRecord) error
	// UpdateFields writes the populated fields of an existing row.
	UpdateFields(ctx context.Context, key domain.RecordKey, fields domain.Fields) error
	// Scan returns every matching row, following continuation tokens until exhausted.
	Scan(ctx context.Context, filter LedgerFilter) ([]domain.LedgerRecord, error)
}
