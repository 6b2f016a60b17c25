// Package errors provides a structured error type threaded through the
// gateway so that HTTP handlers can branch on a stable code instead of
// string-matching error messages.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies the category of a GatewayError.
type Code string

const (
	CodeConfigInvalid     Code = "CONFIG_INVALID"
	CodeBackendNotFound   Code = "BACKEND_NOT_FOUND"
	CodeUnknownAlgorithm  Code = "UNKNOWN_ALGORITHM"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeNoHealthyBackend  Code = "NO_HEALTHY_BACKEND"
	CodeUpstreamTimeout   Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamTransport Code = "UPSTREAM_TRANSPORT_ERROR"
	CodePipelineFault     Code = "PIPELINE_FAULT"
)

// GatewayError carries a stable code, a human message, and the time the
// error occurred, alongside whatever error it wraps.
type GatewayError struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v (at %s)", e.Code, e.Message, e.Err, e.Timestamp.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s] %s (at %s)", e.Code, e.Message, e.Timestamp.Format(time.RFC3339))
}

// New creates a GatewayError with no wrapped cause.
func New(code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap creates a GatewayError around an existing error.
func Wrap(err error, code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message, Timestamp: time.Now(), Err: err}
}

// Is implements error matching by code, so errors.Is(err, New(CodeX, "")) works
// regardless of message or timestamp.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Unwrap returns the wrapped error, if any.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// As is a thin re-export of the stdlib helper so callers only need this package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a thin re-export of the stdlib helper so callers only need this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// GetCode extracts the Code from err if it is (or wraps) a GatewayError.
func GetCode(err error) Code {
	var gwErr *GatewayError
	if As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}
