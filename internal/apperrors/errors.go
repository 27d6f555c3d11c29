// Package apperrors provides the error taxonomy from spec §7: Validation,
// Transient, Structural, Poison and Fatal, each carrying an HTTP status for
// the API surface and a stable code for log correlation.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError per spec §7's taxonomy table.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindTransient  Kind = "TRANSIENT"
	KindStructural Kind = "STRUCTURAL"
	KindPoison     Kind = "POISON"
	KindFatal      Kind = "FATAL"
)

// AppError is an application error with a kind, an HTTP status and an
// optionally wrapped cause.
type AppError struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Validation builds a synchronously-surfaced validation error (HTTP 400).
func Validation(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Conflict builds a duplicate/conflict validation error (HTTP 409), used for
// duplicate display-name renames (spec §4.1, §8 Scenario F).
func Conflict(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message, HTTPStatus: http.StatusConflict}
}

// CapacityExceeded builds the "session cap reached" error (HTTP 429, spec §8
// Boundary behavior).
func CapacityExceeded(message string) *AppError {
	return &AppError{Kind: KindValidation, Code: "SESSION_CAP_REACHED", Message: message, HTTPStatus: http.StatusTooManyRequests}
}

// Transient wraps an error that callers may retry with backoff (spec §7).
func Transient(code, message string, cause error) *AppError {
	return &AppError{Kind: KindTransient, Code: code, Message: message, HTTPStatus: http.StatusServiceUnavailable, Err: cause}
}

// Structural marks an error that should silently fail the current action and
// transition the owning session to killed (spec §7).
func Structural(code, message string, cause error) *AppError {
	return &AppError{Kind: KindStructural, Code: code, Message: message, HTTPStatus: http.StatusGone, Err: cause}
}

// Poison marks a malformed input that should be quarantined rather than
// retried (spec §7).
func Poison(code, message string, cause error) *AppError {
	return &AppError{Kind: KindPoison, Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Err: cause}
}

// Fatal marks a startup-time integrity failure; callers should exit non-zero.
func Fatal(code, message string, cause error) *AppError {
	return &AppError{Kind: KindFatal, Code: code, Message: message, HTTPStatus: http.StatusInternalServerError, Err: cause}
}

// NotFound is a convenience validation-class 404.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s with id %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, k Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}
