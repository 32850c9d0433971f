// Package retry runs backend calls under a per-call timeout with bounded
// exponential backoff for transient failures.
package retry

import (
	"context"
	"time"

	"github.com/lestrrat-go/backoff/v2"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
)

// Config bounds one retried call.
type Config struct {
	MaxAttempts int
	MinInterval time.Duration
	MaxInterval time.Duration
	Jitter      float64
	CallTimeout time.Duration
}

// Runner executes operations under Config.
type Runner struct {
	cfg    Config
	policy backoff.Policy
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = 10 * cfg.MinInterval
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = 0
	}
	return &Runner{
		cfg: cfg,
		policy: backoff.Exponential(
			backoff.WithMinInterval(cfg.MinInterval),
			backoff.WithMaxInterval(cfg.MaxInterval),
			backoff.WithJitterFactor(cfg.Jitter),
			backoff.WithMaxRetries(cfg.MaxAttempts),
		),
		logger: logger,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error or the
// attempts are exhausted. Each attempt gets its own CallTimeout deadline.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := r.policy.Start(ctx)
	var (
		err     error
		attempt int
	)
	for backoff.Continue(b) {
		attempt++
		err = r.call(ctx, fn)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		r.logger.Debug("retrying backend call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.String("code", string(domain.CodeOf(err))),
			zap.Error(err),
		)
		if attempt >= r.cfg.MaxAttempts {
			break
		}
	}
	if err == nil {
		// The context ended before the first attempt.
		return domain.WrapError(domain.ErrCodeUnavailable, op, ctx.Err())
	}
	return err
}

func (r *Runner) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && domain.CodeOf(err) == domain.ErrCodeInternal {
		return domain.WrapError(domain.ErrCodeUnavailable, "call timed out", err)
	}
	return err
}

// Value runs fn through r.Do and returns its result.
func Value[T any](ctx context.Context, r *Runner, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
