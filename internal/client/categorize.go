package client

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/kjstillabower/forecast-cache-service/internal/circuitbreaker"
)

// ErrorCategory is a bounded label for provider errors on weatherApiErrorsTotal.
type ErrorCategory string

const (
	ErrorCategoryTimeout           ErrorCategory = "timeout"
	ErrorCategoryCanceled          ErrorCategory = "canceled"
	ErrorCategoryNetwork           ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey     ErrorCategory = "invalid_api_key"
	ErrorCategoryRateLimited       ErrorCategory = "rate_limited"
	ErrorCategoryUpstreamStatus    ErrorCategory = "upstream_status"
	ErrorCategoryCircuitOpen       ErrorCategory = "circuit_open"
	ErrorCategoryMalformedResponse ErrorCategory = "malformed_response"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// CategorizeError maps a client error to an ErrorCategory. Provider classifications
// win over transport causes since both are wrapped into the same chain.
func CategorizeError(err error) ErrorCategory {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstreamStatus
	case errors.Is(err, ErrRemoteMalformedResponse):
		return ErrorCategoryMalformedResponse
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
