package usecase

import (
	"context"
	"time"

	"github.com/fastygo/iamcleaner/domain"
)

// IdentityBackend is an account-scoped handle on the identity directory.
// Every method returns errors classified with the domain taxonomy.
type IdentityBackend interface {
	AccountID() string

	ListPrincipals(ctx context.Context) ([]domain.Principal, error)
	ListCredentials(ctx context.Context, username string) ([]domain.Credential, error)
	// LastCredentialUse returns nil when the credential was never used.
	LastCredentialUse(ctx context.Context, credentialID string) (*time.Time, error)
	DisableCredential(ctx context.Context, username, credentialID string) error
	DeleteCredential(ctx context.Context, username, credentialID string) error
	RemoveLoginProfile(ctx context.Context, username string) error

	ListAttachedPolicies(ctx context.Context, username string) ([]domain.Policy, error)
	DetachPolicy(ctx context.Context, username, policyARN string) error
	ListInlinePolicies(ctx context.Context, username string) ([]string, error)
	DeleteInlinePolicy(ctx context.Context, username, policyName string) error

	ListRoles(ctx context.Context, username string) ([]string, error)
	RemoveRole(ctx context.Context, username, role string) error
	ListGroups(ctx context.Context, username string) ([]string, error)
	RemoveFromGroup(ctx context.Context, username, group string) error

	DeletePrincipal(ctx context.Context, username string) error
}

// SessionProvider yields an IdentityBackend scoped to one account.
// It fails with a FORBIDDEN error when the account cannot be reached.
type SessionProvider interface {
	Assume(ctx context.Context, accountID string) (IdentityBackend, error)
}

// Clock returns the current time. Use cases take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now().UTC()
}
