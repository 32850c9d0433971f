package domain

import "time"

// ActivitySource names the signal a canonical activity was taken from.
type ActivitySource string

const (
	SourcePassword   ActivitySource = "password"
	SourceCredential ActivitySource = "credential"
	SourceNone       ActivitySource = "none"
)

// Activity is the canonical last-access value of a principal. When Source is
// SourceNone the principal never used a password or credential and At is zero.
type Activity struct {
	At     time.Time      `json:"at,omitempty"`
	Source ActivitySource `json:"source"`
}

// NoActivity is the sentinel for principals without any usage signal.
func NoActivity() Activity {
	return Activity{Source: SourceNone}
}

// ObservedAt builds an activity from a concrete usage timestamp.
func ObservedAt(at time.Time, source ActivitySource) Activity {
	return Activity{At: at, Source: source}
}

// IsSentinel reports whether no usage signal exists.
func (a Activity) IsSentinel() bool {
	return a.Source == SourceNone || a.Source == "" || a.At.IsZero()
}

// Baseline returns the instant the age of the principal is measured from:
// the usage timestamp, or createdAt for the sentinel.
func (a Activity) Baseline(createdAt time.Time) time.Time {
	if a.IsSentinel() {
		return createdAt
	}
	return a.At
}

// LastAccess is the value persisted in the ledger: nil for the sentinel.
func (a Activity) LastAccess() *time.Time {
	if a.IsSentinel() {
		return nil
	}
	at := a.At.UTC()
	return &at
}

// AgeDays returns the number of whole days elapsed between from and now.
func AgeDays(now, from time.Time) int {
	if from.IsZero() || now.Before(from) {
		return 0
	}
	return int(now.Sub(from) / (24 * time.Hour))
}
