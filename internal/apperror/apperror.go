// Package apperror defines the error taxonomy shared by every layer.
//
// HOW ERRORS FLOW:
// The store, the orchestrator and the HTTP layer all speak in terms of the
// sentinel errors below. Lower layers wrap them (fmt.Errorf("...: %w", err)),
// upper layers test for them with errors.Is and decide what to do:
//
//	ErrStorage        → abort the operation, surface to the caller
//	ErrNotFound       → surface, non-fatal
//	ErrTransient      → retried by the orchestrator, never surfaced
//	ErrRejected       → shown on the pending meal, no durable row
//	ErrAnalysisFailed → stored on the durable row (status "failed")
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrStorage        = errors.New("storage failure")
	ErrTransient      = errors.New("transient network failure")
	ErrRejected       = errors.New("upload rejected")
	ErrAnalysisFailed = errors.New("analysis failed")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error (driver, network, filesystem)
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so errors.Is
// matches ErrStorage as well as e.g. os.ErrNotExist.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Storage reports a disk or transaction failure during op.
func Storage(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: fmt.Sprintf("storage failure while %s", op),
		Cause:   cause,
	}
}

// Transient marks a connectivity-class failure that is safe to retry.
func Transient(cause error) *AppError {
	msg := "network unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{
		Err:     ErrTransient,
		Message: msg,
		Cause:   cause,
	}
}

// Rejected marks an upload the analysis service refused. Never retried.
func Rejected(message string) *AppError {
	if message == "" {
		message = "Failed to upload image"
	}
	return &AppError{
		Err:     ErrRejected,
		Message: message,
	}
}

func AnalysisFailed(reason string) *AppError {
	if reason == "" {
		reason = "analysis failed"
	}
	return &AppError{
		Err:     ErrAnalysisFailed,
		Message: reason,
	}
}

// Message returns the human-readable message of err, preferring the
// AppError message over the wrapped chain.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
