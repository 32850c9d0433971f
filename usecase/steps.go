package usecase

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
)

// StepLog collects the outcome of best-effort sub-steps. NOT_FOUND counts as
// success because the desired absent state already holds.
type StepLog struct {
	logger   *zap.Logger
	errs     *multierror.Error
	failures []domain.StepFailure
}

// NewStepLog returns an empty step log writing to logger.
func NewStepLog(logger *zap.Logger) *StepLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepLog{logger: logger}
}

// Record notes the result of one step and reports whether it counts as done.
func (l *StepLog) Record(step, target string, err error) bool {
	if err == nil {
		return true
	}
	if domain.IsNotFound(err) {
		l.logger.Debug("step target already absent", zap.String("step", step), zap.String("target", target))
		return true
	}
	code := domain.CodeOf(err)
	l.logger.Warn("step failed",
		zap.String("step", step),
		zap.String("target", target),
		zap.String("code", string(code)),
		zap.Error(err),
	)
	l.errs = multierror.Append(l.errs, fmt.Errorf("%s %s: %w", step, target, err))
	l.failures = append(l.failures, domain.StepFailure{Step: step, Target: target, Code: code, Error: err.Error()})
	return false
}

// Failures returns the failed steps in the order they happened.
func (l *StepLog) Failures() []domain.StepFailure {
	return l.failures
}

// Err returns the aggregated step error, or nil when every step succeeded.
func (l *StepLog) Err() error {
	return l.errs.ErrorOrNil()
}
