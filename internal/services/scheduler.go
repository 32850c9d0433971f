package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/config"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
)

// RunStarter launches a run in the background.
type RunStarter interface {
	Start(ctx context.Context, req orchestrate.Request) (*domain.RunSummary, error)
}

// Scheduler triggers runs on cron specs, one entry per mode.
type Scheduler struct {
	runs    RunStarter
	logger  *zap.Logger
	cron    *cron.Cron
	entries map[domain.Mode]cron.EntryID
}

// NewScheduler registers a job for every mode with a non-empty spec.
func NewScheduler(cfg config.ScheduleConfig, runs RunStarter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		runs:    runs,
		logger:  logger,
		cron:    cron.New(cron.WithLogger(cronLogger{logger})),
		entries: make(map[domain.Mode]cron.EntryID),
	}

	specs := map[domain.Mode]string{
		domain.ModeSync:       cfg.Sync,
		domain.ModeDeactivate: cfg.Deactivate,
		domain.ModeDelete:     cfg.Delete,
	}
	for _, mode := range domain.Modes() {
		spec := specs[mode]
		if spec == "" {
			continue
		}
		mode := mode
		id, err := s.cron.AddFunc(spec, func() { s.Trigger(context.Background(), mode) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", mode, spec, err)
		}
		s.entries[mode] = id
	}
	return s, nil
}

// Modes returns the scheduled modes.
func (s *Scheduler) Modes() []domain.Mode {
	var out []domain.Mode
	for _, mode := range domain.Modes() {
		if _, ok := s.entries[mode]; ok {
			out = append(out, mode)
		}
	}
	return out
}

// Trigger starts a run for mode with the configured accounts. A run already
// in progress for that mode is skipped.
func (s *Scheduler) Trigger(ctx context.Context, mode domain.Mode) {
	summary, err := s.runs.Start(ctx, orchestrate.Request{Mode: string(mode)})
	switch {
	case domain.IsDomainError(err, domain.ErrCodeConflict):
		s.logger.Info("scheduled run skipped", zap.String("mode", string(mode)), zap.Error(err))
	case err != nil:
		s.logger.Error("scheduled run rejected", zap.String("mode", string(mode)), zap.Error(err))
	default:
		s.logger.Info("scheduled run started", zap.String("mode", string(mode)), zap.String("run_id", summary.ID))
	}
}

// Start launches the cron scheduler.
func (s *Scheduler) Start() {
	if s == nil || s.cron == nil {
		return
	}
	s.cron.Start()
	var modes []string
	for _, mode := range s.Modes() {
		modes = append(modes, string(mode))
	}
	s.logger.Info("scheduler started", zap.Strings("modes", modes))
}

// Stop halts the scheduler and waits for running triggers.
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil || s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.logger.Info("scheduler stopped")
}

type cronLogger struct{ logger *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
