// Package resilience decorates identity backends with timeouts and retries.
package resilience

import (
	"context"
	"time"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/retry"
	"github.com/fastygo/iamcleaner/usecase"
)

// Provider wraps every backend handed out by the inner provider.
type Provider struct {
	inner  usecase.SessionProvider
	runner *retry.Runner
}

func NewProvider(inner usecase.SessionProvider, runner *retry.Runner) *Provider {
	return &Provider{inner: inner, runner: runner}
}

func (p *Provider) Assume(ctx context.Context, accountID string) (usecase.IdentityBackend, error) {
	backend, err := retry.Value(ctx, p.runner, "assume", func(ctx context.Context) (usecase.IdentityBackend, error) {
		return p.inner.Assume(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	return Wrap(backend, p.runner), nil
}

// Wrap returns backend with every call routed through runner.
func Wrap(backend usecase.IdentityBackend, runner *retry.Runner) usecase.IdentityBackend {
	return &retryingBackend{inner: backend, runner: runner}
}

type retryingBackend struct {
	inner  usecase.IdentityBackend
	runner *retry.Runner
}

func (b *retryingBackend) AccountID() string { return b.inner.AccountID() }

func (b *retryingBackend) ListPrincipals(ctx context.Context) ([]domain.Principal, error) {
	return retry.Value(ctx, b.runner, "list_principals", b.inner.ListPrincipals)
}

func (b *retryingBackend) ListCredentials(ctx context.Context, username string) ([]domain.Credential, error) {
	return retry.Value(ctx, b.runner, "list_credentials", func(ctx context.Context) ([]domain.Credential, error) {
		return b.inner.ListCredentials(ctx, username)
	})
}

func (b *retryingBackend) LastCredentialUse(ctx context.Context, credentialID string) (*time.Time, error) {
	return retry.Value(ctx, b.runner, "last_credential_use", func(ctx context.Context) (*time.Time, error) {
		return b.inner.LastCredentialUse(ctx, credentialID)
	})
}

func (b *retryingBackend) DisableCredential(ctx context.Context, username, credentialID string) error {
	return b.runner.Do(ctx, "disable_credential", func(ctx context.Context) error {
		return b.inner.DisableCredential(ctx, username, credentialID)
	})
}

func (b *retryingBackend) DeleteCredential(ctx context.Context, username, credentialID string) error {
	return b.runner.Do(ctx, "delete_credential", func(ctx context.Context) error {
		return b.inner.DeleteCredential(ctx, username, credentialID)
	})
}

func (b *retryingBackend) RemoveLoginProfile(ctx context.Context, username string) error {
	return b.runner.Do(ctx, "remove_login_profile", func(ctx context.Context) error {
		return b.inner.RemoveLoginProfile(ctx, username)
	})
}

func (b *retryingBackend) ListAttachedPolicies(ctx context.Context, username string) ([]domain.Policy, error) {
	return retry.Value(ctx, b.runner, "list_attached_policies", func(ctx context.Context) ([]domain.Policy, error) {
		return b.inner.ListAttachedPolicies(ctx, username)
	})
}

func (b *retryingBackend) DetachPolicy(ctx context.Context, username, policyARN string) error {
	return b.runner.Do(ctx, "detach_policy", func(ctx context.Context) error {
		return b.inner.DetachPolicy(ctx, username, policyARN)
	})
}

func (b *retryingBackend) ListInlinePolicies(ctx context.Context, username string) ([]string, error) {
	return retry.Value(ctx, b.runner, "list_inline_policies", func(ctx context.Context) ([]string, error) {
		return b.inner.ListInlinePolicies(ctx, username)
	})
}

func (b *retryingBackend) DeleteInlinePolicy(ctx context.Context, username, policyName string) error {
	return b.runner.Do(ctx, "delete_inline_policy", func(ctx context.Context) error {
		return b.inner.DeleteInlinePolicy(ctx, username, policyName)
	})
}

func (b *retryingBackend) ListRoles(ctx context.Context, username string) ([]string, error) {
	return retry.Value(ctx, b.runner, "list_roles", func(ctx context.Context) ([]string, error) {
		return b.inner.ListRoles(ctx, username)
	})
}

func (b *retryingBackend) RemoveRole(ctx context.Context, username, role string) error {
	return b.runner.Do(ctx, "remove_role", func(ctx context.Context) error {
		return b.inner.RemoveRole(ctx, username, role)
	})
}

func (b *retryingBackend) ListGroups(ctx context.Context, username string) ([]string, error) {
	return retry.Value(ctx, b.runner, "list_groups", func(ctx context.Context) ([]string, error) {
		return b.inner.ListGroups(ctx, username)
	})
}

func (b *retryingBackend) RemoveFromGroup(ctx context.Context, username, group string) error {
	return b.runner.Do(ctx, "remove_from_group", func(ctx context.Context) error {
		return b.inner.RemoveFromGroup(ctx, username, group)
	})
}

func (b *retryingBackend) DeletePrincipal(ctx context.Context, username string) error {
	return b.runner.Do(ctx, "delete_principal", func(ctx context.Context) error {
		return b.inner.DeletePrincipal(ctx, username)
	})
}
