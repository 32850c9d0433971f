package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across backends, the ledger and transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeThrottled    ErrorCode = "THROTTLED"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrRecordNotFound    = NewError(ErrCodeNotFound, "ledger record not found")
	ErrRunNotFound       = NewError(ErrCodeNotFound, "run not found")
	ErrPrincipalNotFound = NewError(ErrCodeNotFound, "principal not found")
	ErrInvalidMode       = NewError(ErrCodeInvalid, "invalid mode")
	ErrInvalidPayload    = NewError(ErrCodeInvalid, "invalid payload")
	ErrUnauthorized      = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrRunInProgress     = NewError(ErrCodeConflict, "a run with this mode is already in progress")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the classification of err. Unclassified errors are INTERNAL,
// except context deadlines which count as UNAVAILABLE.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeUnavailable
	}
	return ErrCodeInternal
}

// IsNotFound reports whether the desired absent state already holds.
func IsNotFound(err error) bool {
	return IsDomainError(err, ErrCodeNotFound)
}

// IsRetryable reports whether err is transient: throttling or a timeout.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeThrottled, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
