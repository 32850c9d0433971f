package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/iamcleaner/domain"
)

func newRepo(t *testing.T) (*miniredis.Miniredis, *runRepository) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, NewRunRepository(client, time.Hour).(*runRepository)
}

func TestRunRepositorySaveGet(t *testing.T) {
	srv, repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	summary := &domain.RunSummary{ID: "r-1", Mode: domain.ModeSync, Status: domain.RunCompleted, StartedAt: time.Now().UTC()}
	require.NoError(t, repo.Save(ctx, summary))

	got, err := repo.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSync, got.Mode)
	assert.Equal(t, domain.RunCompleted, got.Status)

	srv.FastForward(2 * time.Hour)
	_, err = repo.Get(ctx, "r-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	assert.ErrorIs(t, repo.Save(ctx, &domain.RunSummary{}), domain.ErrInvalidPayload)
}

func TestRunRepositoryLock(t *testing.T) {
	srv, repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Acquire(ctx, domain.ModeDelete, "a", time.Minute))
	assert.ErrorIs(t, repo.Acquire(ctx, domain.ModeDelete, "b", time.Minute), domain.ErrRunInProgress)
	require.NoError(t, repo.Acquire(ctx, domain.ModeSync, "b", time.Minute), "locks are per mode")

	require.NoError(t, repo.Release(ctx, domain.ModeDelete, "b"))
	assert.True(t, srv.Exists("lock:run:delete"), "foreign owner must not release")

	require.NoError(t, repo.Release(ctx, domain.ModeDelete, "a"))
	require.NoError(t, repo.Acquire(ctx, domain.ModeDelete, "b", time.Minute))

	srv.FastForward(2 * time.Minute)
	require.NoError(t, repo.Acquire(ctx, domain.ModeDelete, "c", time.Minute), "expired lock is free")
}
