// Package apierrors defines the structured error that crosses the run
// boundary. Internal failures of any shape are normalized into an Error
// (code + message) before they are persisted on a run or streamed to a
// client; raw error types never appear in client-visible DTOs.
package apierrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for clients.
type Code string

const (
	// CodeInternalServerError covers unexpected failures and programming
	// errors surfaced at the run boundary.
	CodeInternalServerError Code = "internal_server_error"
	// CodeInvalidInput covers client-contract violations (bad submit
	// payloads, transitions requested from the wrong state).
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound reports a missing entity.
	CodeNotFound Code = "not_found"
	// CodeTooManyRequests reports a quota ceiling hit.
	CodeTooManyRequests Code = "too_many_requests"
)

// Error is the structured error persisted on runs and returned to clients.
type Error struct {
	Code    Code   `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// From normalizes an arbitrary error into an Error. Existing Errors pass
// through unchanged; anything else becomes an internal server error carrying
// the original message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Code: CodeInternalServerError, Message: err.Error()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code, so callers can
// match on taxonomy without comparing messages.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}
