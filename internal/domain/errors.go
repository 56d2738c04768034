// Package domain provides the canonical types shared across the gateway pipeline.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error. Every terminal
// pipeline outcome maps onto exactly one kind.
type ErrorKind string

const (
	// ErrorKindInvalidAuth indicates no usable credential was presented.
	ErrorKindInvalidAuth ErrorKind = "invalid_auth"

	// ErrorKindRateLimited indicates the identity exhausted its window.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindNotFound indicates no route matched the request.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindValidation indicates a malformed client payload.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindBackendUnavailable indicates the upstream call failed
	// (timeout, transport error, non-2xx, or a malformed response body).
	ErrorKindBackendUnavailable ErrorKind = "backend_unavailable"

	// ErrorKindInternal indicates an unexpected fault.
	ErrorKindInternal ErrorKind = "internal"
)

// GatewayError is the canonical error returned by pipeline stages. The
// Message is safe to echo to clients; wrapped detail stays in logs.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	err     error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *GatewayError) Unwrap() error {
	return e.err
}

// HTTPStatusCode returns the status code for this error's kind.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindInvalidAuth:
		return http.StatusUnauthorized
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a gateway error with no wrapped cause.
func NewError(kind ErrorKind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// WrapError creates a gateway error wrapping an internal cause.
func WrapError(kind ErrorKind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, err: err}
}

// ErrInvalidAuth creates an authentication failure.
func ErrInvalidAuth(message string) *GatewayError {
	return NewError(ErrorKindInvalidAuth, message)
}

// ErrRateLimited creates a rate limit rejection.
func ErrRateLimited(message string) *GatewayError {
	return NewError(ErrorKindRateLimited, message)
}

// ErrNotFound creates a route-miss error.
func ErrNotFound(message string) *GatewayError {
	return NewError(ErrorKindNotFound, message)
}

// ErrValidation creates a malformed-payload error.
func ErrValidation(message string) *GatewayError {
	return NewError(ErrorKindValidation, message)
}

// ErrBackendUnavailable creates an upstream failure error. The wrapped
// cause (upstream status, transport error) is for logs only.
func ErrBackendUnavailable(err error) *GatewayError {
	return WrapError(ErrorKindBackendUnavailable, "Backend unavailable", err)
}

// ErrInternal creates an internal fault with a generic client message.
func ErrInternal(err error) *GatewayError {
	return WrapError(ErrorKindInternal, "Internal server error", err)
}

// KindOf extracts the error kind, defaulting to internal for unknown errors.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrorKindInternal
}

// AsGatewayError converts any error into a GatewayError, wrapping unknown
// errors as internal faults so clients never see raw detail.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return ErrInternal(err)
}
