package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/infrastructure/memory"
	"github.com/fastygo/iamcleaner/internal/retry"
	"github.com/fastygo/iamcleaner/usecase"
)

// flaky fails the first n ListPrincipals calls with a throttling error.
type flaky struct {
	usecase.IdentityBackend
	remaining int
	calls     int
}

func (f *flaky) ListPrincipals(ctx context.Context) ([]domain.Principal, error) {
	f.calls++
	if f.remaining > 0 {
		f.remaining--
		return nil, domain.WrapError(domain.ErrCodeThrottled, "rate exceeded", errors.New("Throttling"))
	}
	return f.IdentityBackend.ListPrincipals(ctx)
}

func runner() *retry.Runner {
	return retry.New(retry.Config{MaxAttempts: 4, MinInterval: time.Millisecond, MaxInterval: time.Millisecond}, nil)
}

func TestWrapRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewDirectory()
	dir.AddUser("111", memory.User{Username: "alice"})
	inner, err := dir.Assume(ctx, "111")
	require.NoError(t, err)

	f := &flaky{IdentityBackend: inner, remaining: 2}
	principals, err := Wrap(f, runner()).ListPrincipals(ctx)
	require.NoError(t, err)
	assert.Len(t, principals, 1)
	assert.Equal(t, 3, f.calls)
}

func TestProviderDoesNotRetryForbidden(t *testing.T) {
	dir := memory.NewDirectory()
	dir.Deny("222")

	_, err := NewProvider(dir, runner()).Assume(context.Background(), "222")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeForbidden))
}

func TestProviderWrapsBackends(t *testing.T) {
	dir := memory.NewDirectory()
	dir.AddUser("111", memory.User{Username: "alice", LoginProfile: true})

	backend, err := NewProvider(dir, runner()).Assume(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "111", backend.AccountID())
	require.NoError(t, backend.RemoveLoginProfile(context.Background(), "alice"))
	assert.True(t, domain.IsNotFound(backend.RemoveLoginProfile(context.Background(), "alice")))
}
