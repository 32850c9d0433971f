package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/config"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
)

type fakeStarter struct {
	mu   sync.Mutex
	reqs []orchestrate.Request
	err  error
}

func (f *fakeStarter) Start(ctx context.Context, req orchestrate.Request) (*domain.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RunSummary{ID: "run-1", Mode: domain.Mode(req.Mode), Status: domain.RunRunning}, nil
}

func TestNewSchedulerRegistersConfiguredModes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := NewScheduler(config.ScheduleConfig{Sync: "@every 5m", Delete: "0 3 * * *"}, &fakeStarter{}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, []domain.Mode{domain.ModeSync, domain.ModeDelete}, s.Modes())

	s.Start()
	s.Stop(context.Background())

	started := logs.FilterMessage("scheduler started").All()
	require.Len(t, started, 1)
	assert.Equal(t, []interface{}{"sync", "delete"}, started[0].ContextMap()["modes"])
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(config.ScheduleConfig{Deactivate: "every tuesday"}, &fakeStarter{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deactivate")
}

func TestTrigger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	starter := &fakeStarter{}
	s, err := NewScheduler(config.ScheduleConfig{}, starter, zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, s.Modes())

	s.Trigger(context.Background(), domain.ModeDeactivate)
	require.Len(t, starter.reqs, 1)
	assert.Equal(t, "deactivate", starter.reqs[0].Mode)
	assert.Empty(t, starter.reqs[0].Accounts)
	assert.Equal(t, 1, logs.FilterMessage("scheduled run started").Len())

	starter.err = domain.ErrRunInProgress
	s.Trigger(context.Background(), domain.ModeDeactivate)
	assert.Equal(t, 1, logs.FilterMessage("scheduled run skipped").Len())
}
