// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// Domain kinds. They are matched in addition to the class sentinel, so a
// caller can ask for either errors.Is(err, ErrNotFound) or
// errors.Is(err, ErrTaskNotFound).
var (
	ErrUnknownAction = errors.New("unknown action")
	ErrTaskNotFound  = errors.New("task not found")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Class sentinel, drives the HTTP status
	Kind     error  // Optional domain kind (e.g. ErrTaskNotFound)
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "task_id", "action")
	Resource string // For not found/conflict (e.g., "task", "release")
	Op       string // Operation that failed (e.g., "release.get")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the class sentinel, the domain kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.Sentinel, e.Kind, e.Cause} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// UnknownAction reports an action label that maps to no lifecycle operation.
func UnknownAction(action string) error {
	return &Error{
		Sentinel: ErrValidation,
		Kind:     ErrUnknownAction,
		Message:  fmt.Sprintf("unknown action %q (expected initialize, run, publish or cancel)", action),
		Field:    "action",
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// TaskNotFound reports a job id that was never dispatched.
func TaskNotFound(id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Kind:     ErrTaskNotFound,
		Message:  fmt.Sprintf("task %s not found", id),
		Resource: "task",
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Unauthorized creates an error for a request without usable credentials.
func Unauthorized(message string) error {
	return &Error{
		Sentinel: ErrUnauthorized,
		Message:  message,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
