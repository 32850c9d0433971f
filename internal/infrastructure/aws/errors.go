package aws

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"

	"github.com/fastygo/iamcleaner/domain"
)

var apiErrorCodes = map[string]domain.ErrorCode{
	"NoSuchEntity":              domain.ErrCodeNotFound,
	"NoSuchEntityException":     domain.ErrCodeNotFound,
	"ResourceNotFoundException": domain.ErrCodeNotFound,

	"AccessDenied":            domain.ErrCodeForbidden,
	"AccessDeniedException":   domain.ErrCodeForbidden,
	"UnauthorizedOperation":   domain.ErrCodeForbidden,
	"AuthorizationError":      domain.ErrCodeForbidden,
	"InvalidClientTokenId":    domain.ErrCodeForbidden,
	"ExpiredToken":            domain.ErrCodeForbidden,
	"RegionDisabledException": domain.ErrCodeForbidden,

	"Throttling":                             domain.ErrCodeThrottled,
	"ThrottlingException":                    domain.ErrCodeThrottled,
	"RequestLimitExceeded":                   domain.ErrCodeThrottled,
	"TooManyRequests":                        domain.ErrCodeThrottled,
	"TooManyRequestsException":               domain.ErrCodeThrottled,
	"ProvisionedThroughputExceededException": domain.ErrCodeThrottled,

	"DeleteConflict":          domain.ErrCodeConflict,
	"DeleteConflictException": domain.ErrCodeConflict,
	"ConcurrentModification":  domain.ErrCodeConflict,
	"EntityAlreadyExists":     domain.ErrCodeConflict,

	"ServiceFailure":     domain.ErrCodeUnavailable,
	"ServiceUnavailable": domain.ErrCodeUnavailable,
	"InternalFailure":    domain.ErrCodeUnavailable,

	"ValidationError": domain.ErrCodeInvalid,
	"InvalidInput":    domain.ErrCodeInvalid,
}

// classify maps an SDK error onto the domain taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErrorCodes[apiErr.ErrorCode()]; ok {
			return domain.WrapError(code, op, err)
		}
		return domain.WrapError(domain.ErrCodeInternal, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrCodeUnavailable, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrCodeUnavailable, op, err)
	}
	return domain.WrapError(domain.ErrCodeInternal, op, err)
}
