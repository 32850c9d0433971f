package aws

import (
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/usecase"
)

// IAMAPI is the subset of the IAM client the backend uses.
type IAMAPI interface {
	iam.ListUsersAPIClient
	iam.ListAccessKeysAPIClient
	iam.ListAttachedUserPoliciesAPIClient
	iam.ListUserPoliciesAPIClient
	iam.ListGroupsForUserAPIClient
	GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
	UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
	DeleteLoginProfile(ctx context.Context, params *iam.DeleteLoginProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteLoginProfileOutput, error)
	DetachUserPolicy(ctx context.Context, params *iam.DetachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error)
	DeleteUserPolicy(ctx context.Context, params *iam.DeleteUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteUserPolicyOutput, error)
	RemoveUserFromGroup(ctx context.Context, params *iam.RemoveUserFromGroupInput, optFns ...func(*iam.Options)) (*iam.RemoveUserFromGroupOutput, error)
	DeleteUser(ctx context.Context, params *iam.DeleteUserInput, optFns ...func(*iam.Options)) (*iam.DeleteUserOutput, error)
}

// Backend is an IdentityBackend over the IAM API of one account.
type Backend struct {
	client    IAMAPI
	accountID string
}

var _ usecase.IdentityBackend = (*Backend)(nil)

func NewBackend(client IAMAPI, accountID string) *Backend {
	return &Backend{client: client, accountID: accountID}
}

func (b *Backend) AccountID() string { return b.accountID }

func (b *Backend) ListPrincipals(ctx context.Context) ([]domain.Principal, error) {
	var out []domain.Principal
	pages := iam.NewListUsersPaginator(b.client, &iam.ListUsersInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify("list users", err)
		}
		for _, u := range page.Users {
			out = append(out, domain.Principal{
				AccountID:        b.accountID,
				Username:         awssdk.ToString(u.UserName),
				ARN:              awssdk.ToString(u.Arn),
				CreatedAt:        awssdk.ToTime(u.CreateDate).UTC(),
				PasswordLastUsed: utc(u.PasswordLastUsed),
			})
		}
	}
	return out, nil
}

func (b *Backend) ListCredentials(ctx context.Context, username string) ([]domain.Credential, error) {
	var out []domain.Credential
	pages := iam.NewListAccessKeysPaginator(b.client, &iam.ListAccessKeysInput{UserName: awssdk.String(username)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify("list access keys", err)
		}
		for _, k := range page.AccessKeyMetadata {
			status := domain.CredentialActive
			if k.Status == types.StatusTypeInactive {
				status = domain.CredentialInactive
			}
			out = append(out, domain.Credential{
				ID:        awssdk.ToString(k.AccessKeyId),
				Username:  username,
				Status:    status,
				CreatedAt: awssdk.ToTime(k.CreateDate).UTC(),
			})
		}
	}
	return out, nil
}

func (b *Backend) LastCredentialUse(ctx context.Context, credentialID string) (*time.Time, error) {
	out, err := b.client.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{AccessKeyId: awssdk.String(credentialID)})
	if err != nil {
		return nil, classify("get access key last used", err)
	}
	if out.AccessKeyLastUsed == nil {
		return nil, nil
	}
	return utc(out.AccessKeyLastUsed.LastUsedDate), nil
}

func (b *Backend) DisableCredential(ctx context.Context, username, credentialID string) error {
	_, err := b.client.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
		UserName:    awssdk.String(username),
		AccessKeyId: awssdk.String(credentialID),
		Status:      types.StatusTypeInactive,
	})
	return classify("disable access key", err)
}

func (b *Backend) DeleteCredential(ctx context.Context, username, credentialID string) error {
	_, err := b.client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    awssdk.String(username),
		AccessKeyId: awssdk.String(credentialID),
	})
	return classify("delete access key", err)
}

func (b *Backend) RemoveLoginProfile(ctx context.Context, username string) error {
	_, err := b.client.DeleteLoginProfile(ctx, &iam.DeleteLoginProfileInput{UserName: awssdk.String(username)})
	return classify("delete login profile", err)
}

func (b *Backend) ListAttachedPolicies(ctx context.Context, username string) ([]domain.Policy, error) {
	var out []domain.Policy
	pages := iam.NewListAttachedUserPoliciesPaginator(b.client, &iam.ListAttachedUserPoliciesInput{UserName: awssdk.String(username)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify("list attached user policies", err)
		}
		for _, p := range page.AttachedPolicies {
			out = append(out, domain.Policy{ARN: awssdk.ToString(p.PolicyArn), Name: awssdk.ToString(p.PolicyName)})
		}
	}
	return out, nil
}

func (b *Backend) DetachPolicy(ctx context.Context, username, policyARN string) error {
	_, err := b.client.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
		UserName:  awssdk.String(username),
		PolicyArn: awssdk.String(policyARN),
	})
	return classify("detach user policy", err)
}

func (b *Backend) ListInlinePolicies(ctx context.Context, username string) ([]string, error) {
	var out []string
	pages := iam.NewListUserPoliciesPaginator(b.client, &iam.ListUserPoliciesInput{UserName: awssdk.String(username)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify("list user policies", err)
		}
		out = append(out, page.PolicyNames...)
	}
	return out, nil
}

func (b *Backend) DeleteInlinePolicy(ctx context.Context, username, policyName string) error {
	_, err := b.client.DeleteUserPolicy(ctx, &iam.DeleteUserPolicyInput{
		UserName:   awssdk.String(username),
		PolicyName: awssdk.String(policyName),
	})
	return classify("delete user policy", err)
}

// ListRoles returns nothing: IAM users cannot hold role memberships.
func (b *Backend) ListRoles(ctx context.Context, username string) ([]string, error) {
	return nil, nil
}

// RemoveRole reports NOT_FOUND for the same reason.
func (b *Backend) RemoveRole(ctx context.Context, username, role string) error {
	return domain.WrapError(domain.ErrCodeNotFound, "remove role", nil)
}

func (b *Backend) ListGroups(ctx context.Context, username string) ([]string, error) {
	var out []string
	pages := iam.NewListGroupsForUserPaginator(b.client, &iam.ListGroupsForUserInput{UserName: awssdk.String(username)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify("list groups for user", err)
		}
		for _, g := range page.Groups {
			out = append(out, awssdk.ToString(g.GroupName))
		}
	}
	return out, nil
}

func (b *Backend) RemoveFromGroup(ctx context.Context, username, group string) error {
	_, err := b.client.RemoveUserFromGroup(ctx, &iam.RemoveUserFromGroupInput{
		UserName:  awssdk.String(username),
		GroupName: awssdk.String(group),
	})
	return classify("remove user from group", err)
}

func (b *Backend) DeletePrincipal(ctx context.Context, username string) error {
	_, err := b.client.DeleteUser(ctx, &iam.DeleteUserInput{UserName: awssdk.String(username)})
	return classify("delete user", err)
}

func utc(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
