package domain

import (
	"fmt"
	"time"
)

// LifecycleState is derived from which ledger fields are populated.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateInactive LifecycleState = "inactive"
	StateDeleted  LifecycleState = "deleted"
)

// RecordKey identifies a ledger row.
type RecordKey struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s", k.AccountID, k.Username)
}

// LedgerRecord is the durable lifecycle record of one principal. A nil timestamp is "empty".
type LedgerRecord struct {
	AccountID  string     `json:"account_id"`
	Username   string     `json:"username"`
	LastAccess *time.Time `json:"last_access,omitempty"`
	InactiveAt *time.Time `json:"inactive_at,omitempty"`
	DeleteAt   *time.Time `json:"delete_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key returns the composite key of the record.
func (r *LedgerRecord) Key() RecordKey {
	return RecordKey{AccountID: r.AccountID, Username: r.Username}
}

// State infers the lifecycle stage.
func (r *LedgerRecord) State() LifecycleState {
	switch {
	case r == nil:
		return StateActive
	case r.DeleteAt != nil:
		return StateDeleted
	case r.InactiveAt != nil:
		return StateInactive
	default:
		return StateActive
	}
}

// NextUpdatedAt returns now, or the smallest instant after previous when the
// clock has not moved past it, so updated_at strictly advances on every write.
func NextUpdatedAt(previous, now time.Time) time.Time {
	now = now.UTC()
	if !previous.IsZero() && !now.After(previous) {
		return previous.Add(time.Microsecond).UTC()
	}
	return now
}

// Fields is the set of ledger columns one update touches. Nil pointers are left
// untouched. InactiveAt and DeleteAt are write-once: an existing value is kept.
type Fields struct {
	LastAccess      *time.Time
	ClearLastAccess bool
	InactiveAt      *time.Time
	DeleteAt        *time.Time
	UpdatedAt       time.Time
}

// Apply writes the populated fields onto r.
func (f Fields) Apply(r *LedgerRecord) {
	if f.ClearLastAccess {
		r.LastAccess = nil
	}
	if f.LastAccess != nil {
		at := *f.LastAccess
		r.LastAccess = &at
	}
	if f.InactiveAt != nil && r.InactiveAt == nil {
		at := *f.InactiveAt
		r.InactiveAt = &at
	}
	if f.DeleteAt != nil && r.DeleteAt == nil {
		at := *f.DeleteAt
		r.DeleteAt = &at
	}
	if !f.UpdatedAt.IsZero() {
		r.UpdatedAt = f.UpdatedAt
	}
}
