package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fastygo/iamcleaner/domain"
)

type backend struct {
	dir       *Directory
	accountID string
}

func (b *backend) AccountID() string { return b.accountID }

// begin locks the directory and runs the common prelude of every call.
func (b *backend) begin(ctx context.Context, op, target string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, op, err)
	}
	b.dir.mu.Lock()
	if err := b.dir.check(op, b.accountID, target); err != nil {
		b.dir.mu.Unlock()
		return err
	}
	return nil
}

func (b *backend) end() { b.dir.mu.Unlock() }

func (b *backend) user(username string) (*User, error) {
	u, ok := b.dir.accounts[b.accountID][username]
	if !ok {
		return nil, fmt.Errorf("%w: user %s does not exist in %s", domain.ErrPrincipalNotFound, username, b.accountID)
	}
	return u, nil
}

func notFound(what, name string) error {
	return domain.WrapError(domain.ErrCodeNotFound, what+" not found", fmt.Errorf("%s %s", what, name))
}

func (b *backend) ListPrincipals(ctx context.Context) ([]domain.Principal, error) {
	if err := b.begin(ctx, OpListPrincipals, AnyTarget); err != nil {
		return nil, err
	}
	defer b.end()
	users := b.dir.accounts[b.accountID]
	out := make([]domain.Principal, 0, len(users))
	for _, u := range users {
		p := domain.Principal{
			AccountID: b.accountID,
			Username:  u.Username,
			ARN:       fmt.Sprintf("arn:aws:iam::%s:user/%s", b.accountID, u.Username),
			CreatedAt: u.CreatedAt,
		}
		if u.PasswordLastUsed != nil {
			at := *u.PasswordLastUsed
			p.PasswordLastUsed = &at
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (b *backend) ListCredentials(ctx context.Context, username string) ([]domain.Credential, error) {
	if err := b.begin(ctx, OpListCredentials, username); err != nil {
		return nil, err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return nil, err
	}
	return append([]domain.Credential(nil), u.Credentials...), nil
}

func (b *backend) LastCredentialUse(ctx context.Context, credentialID string) (*time.Time, error) {
	if err := b.begin(ctx, OpLastCredentialUse, credentialID); err != nil {
		return nil, err
	}
	defer b.end()
	for _, u := range b.dir.accounts[b.accountID] {
		for _, c := range u.Credentials {
			if c.ID != credentialID {
				continue
			}
			if at, ok := u.CredentialLastUsed[credentialID]; ok {
				return &at, nil
			}
			return nil, nil
		}
	}
	return nil, notFound("access key", credentialID)
}

func (b *backend) DisableCredential(ctx context.Context, username, credentialID string) error {
	if err := b.begin(ctx, OpDisableCredential, credentialID); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	for i := range u.Credentials {
		if u.Credentials[i].ID == credentialID {
			u.Credentials[i].Status = domain.CredentialInactive
			b.dir.record(OpDisableCredential, b.accountID, credentialID)
			return nil
		}
	}
	return notFound("access key", credentialID)
}

func (b *backend) DeleteCredential(ctx context.Context, username, credentialID string) error {
	if err := b.begin(ctx, OpDeleteCredential, credentialID); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	for i := range u.Credentials {
		if u.Credentials[i].ID == credentialID {
			u.Credentials = append(u.Credentials[:i], u.Credentials[i+1:]...)
			delete(u.CredentialLastUsed, credentialID)
			b.dir.record(OpDeleteCredential, b.accountID, credentialID)
			return nil
		}
	}
	return notFound("access key", credentialID)
}

func (b *backend) RemoveLoginProfile(ctx context.Context, username string) error {
	if err := b.begin(ctx, OpRemoveLoginProfile, username); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	if !u.LoginProfile {
		return notFound("login profile", username)
	}
	u.LoginProfile = false
	b.dir.record(OpRemoveLoginProfile, b.accountID, username)
	return nil
}

func (b *backend) ListAttachedPolicies(ctx context.Context, username string) ([]domain.Policy, error) {
	if err := b.begin(ctx, OpListAttachedPolicies, username); err != nil {
		return nil, err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return nil, err
	}
	return append([]domain.Policy(nil), u.Policies...), nil
}

func (b *backend) DetachPolicy(ctx context.Context, username, policyARN string) error {
	if err := b.begin(ctx, OpDetachPolicy, policyARN); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	for i := range u.Policies {
		if u.Policies[i].ARN == policyARN {
			u.Policies = append(u.Policies[:i], u.Policies[i+1:]...)
			b.dir.record(OpDetachPolicy, b.accountID, policyARN)
			return nil
		}
	}
	return notFound("policy", policyARN)
}

func (b *backend) ListInlinePolicies(ctx context.Context, username string) ([]string, error) {
	return b.listNames(ctx, OpListInlinePolicies, username, func(u *User) []string { return u.InlinePolicies })
}

func (b *backend) DeleteInlinePolicy(ctx context.Context, username, policyName string) error {
	return b.removeName(ctx, OpDeleteInlinePolicy, username, policyName, func(u *User) *[]string { return &u.InlinePolicies })
}

func (b *backend) ListRoles(ctx context.Context, username string) ([]string, error) {
	return b.listNames(ctx, OpListRoles, username, func(u *User) []string { return u.Roles })
}

func (b *backend) RemoveRole(ctx context.Context, username, role string) error {
	return b.removeName(ctx, OpRemoveRole, username, role, func(u *User) *[]string { return &u.Roles })
}

func (b *backend) ListGroups(ctx context.Context, username string) ([]string, error) {
	return b.listNames(ctx, OpListGroups, username, func(u *User) []string { return u.Groups })
}

func (b *backend) RemoveFromGroup(ctx context.Context, username, group string) error {
	return b.removeName(ctx, OpRemoveFromGroup, username, group, func(u *User) *[]string { return &u.Groups })
}

// DeletePrincipal refuses with CONFLICT while the user still owns attachments.
func (b *backend) DeletePrincipal(ctx context.Context, username string) error {
	if err := b.begin(ctx, OpDeletePrincipal, username); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	if len(u.Credentials) > 0 || len(u.Policies) > 0 || len(u.InlinePolicies) > 0 || len(u.Groups) > 0 || u.LoginProfile {
		return domain.WrapError(domain.ErrCodeConflict, "delete conflict",
			fmt.Errorf("user %s still has attached entities", username))
	}
	delete(b.dir.accounts[b.accountID], username)
	b.dir.record(OpDeletePrincipal, b.accountID, username)
	return nil
}

func (b *backend) listNames(ctx context.Context, op, username string, field func(*User) []string) ([]string, error) {
	if err := b.begin(ctx, op, username); err != nil {
		return nil, err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), field(u)...), nil
}

func (b *backend) removeName(ctx context.Context, op, username, name string, field func(*User) *[]string) error {
	if err := b.begin(ctx, op, name); err != nil {
		return err
	}
	defer b.end()
	u, err := b.user(username)
	if err != nil {
		return err
	}
	names := field(u)
	for i, n := range *names {
		if n == name {
			*names = append((*names)[:i], (*names)[i+1:]...)
			b.dir.record(op, b.accountID, name)
			return nil
		}
	}
	return notFound(op, name)
}
