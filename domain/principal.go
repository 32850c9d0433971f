package domain

import "time"

// CredentialStatus mirrors the enabled state of an access credential.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "Active"
	CredentialInactive CredentialStatus = "Inactive"
)

// Principal is an IAM user as observed on the backend during a single listing call.
type Principal struct {
	AccountID        string     `json:"account_id"`
	Username         string     `json:"username"`
	ARN              string     `json:"arn,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	PasswordLastUsed *time.Time `json:"password_last_used,omitempty"`
}

// Key returns the ledger key the principal is tracked under.
func (p Principal) Key() RecordKey {
	return RecordKey{AccountID: p.AccountID, Username: p.Username}
}

// Credential describes a programmatic access key owned by a principal.
type Credential struct {
	ID        string           `json:"id"`
	Username  string           `json:"username"`
	Status    CredentialStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// Policy is a managed policy attached directly to a principal.
type Policy struct {
	ARN  string `json:"arn"`
	Name string `json:"name"`
}
