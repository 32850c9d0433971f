package aws

import (
	"context"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/config"
)

// fakeIAM serves two pages of users and fails DeleteUser. Calls to methods it
// does not override panic through the nil embedded interface.
type fakeIAM struct {
	IAMAPI
	listCalls int
}

func (f *fakeIAM) ListUsers(ctx context.Context, in *iam.ListUsersInput, _ ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	f.listCalls++
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if in.Marker == nil {
		return &iam.ListUsersOutput{
			Users:       []types.User{{UserName: awssdk.String("alice"), Arn: awssdk.String("arn:aws:iam::111:user/alice"), CreateDate: &created}},
			IsTruncated: true,
			Marker:      awssdk.String("page-2"),
		}, nil
	}
	used := created.Add(time.Hour)
	return &iam.ListUsersOutput{
		Users: []types.User{{UserName: awssdk.String("bob"), CreateDate: &created, PasswordLastUsed: &used}},
	}, nil
}

func (f *fakeIAM) GetAccessKeyLastUsed(ctx context.Context, in *iam.GetAccessKeyLastUsedInput, _ ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error) {
	return &iam.GetAccessKeyLastUsedOutput{AccessKeyLastUsed: &types.AccessKeyLastUsed{}}, nil
}

func (f *fakeIAM) DeleteUser(ctx context.Context, in *iam.DeleteUserInput, _ ...func(*iam.Options)) (*iam.DeleteUserOutput, error) {
	return nil, &types.DeleteConflictException{Message: awssdk.String("must delete access keys first")}
}

func TestBackendListPrincipalsFollowsMarker(t *testing.T) {
	fake := &fakeIAM{}
	principals, err := NewBackend(fake, "111").ListPrincipals(context.Background())
	require.NoError(t, err)
	require.Len(t, principals, 2)
	assert.Equal(t, 2, fake.listCalls)
	assert.Equal(t, "111", principals[0].AccountID)
	assert.Nil(t, principals[0].PasswordLastUsed)
	require.NotNil(t, principals[1].PasswordLastUsed)
}

func TestBackendNeverUsedKey(t *testing.T) {
	last, err := NewBackend(&fakeIAM{}, "111").LastCredentialUse(context.Background(), "AKIA1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestBackendClassifiesErrors(t *testing.T) {
	b := NewBackend(&fakeIAM{}, "111")
	err := b.DeletePrincipal(context.Background(), "alice")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeConflict))

	roles, err := b.ListRoles(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.True(t, domain.IsNotFound(b.RemoveRole(context.Background(), "alice", "admin")))
}

func TestSessionNaming(t *testing.T) {
	p := NewSessionProvider(awssdk.Config{Region: "us-east-1"}, config.AWSConfig{
		AssumeRoleName: "iam-cleaner",
		SessionPrefix:  "cleaner-session",
	}, nil)
	assert.Equal(t, "arn:aws:iam::123456789012:role/iam-cleaner", p.RoleARN("123456789012"))
	assert.Equal(t, "cleaner-session-123456789012", p.SessionName("123456789012"))
}
