package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("task_id", "task ID is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "task ID is required" {
		t.Errorf("expected message 'task ID is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "task_id" {
		t.Errorf("expected field 'task_id', got %q", appErr.Field)
	}
}

func TestUnknownAction(t *testing.T) {
	t.Parallel()
	err := UnknownAction("explode")

	if !errors.Is(err, ErrUnknownAction) {
		t.Error("expected error to match ErrUnknownAction")
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("expected unknown action to be classified as validation")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("unknown action must not match ErrNotFound")
	}
}

func TestTaskNotFound(t *testing.T) {
	t.Parallel()
	err := TaskNotFound("t1")

	if !errors.Is(err, ErrTaskNotFound) {
		t.Error("expected error to match ErrTaskNotFound")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "task t1 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("release", "RE_123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if errors.Is(err, ErrTaskNotFound) {
		t.Error("release not found must not match ErrTaskNotFound")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "release" {
		t.Errorf("expected resource 'release', got %q", appErr.Resource)
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Internal("release.get", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if err.Error() != "release.get: connection refused" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("task_id", "required"), http.StatusBadRequest},
		{"unknown action", UnknownAction("x"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("missing token"), http.StatusUnauthorized},
		{"task not found", TaskNotFound("t1"), http.StatusNotFound},
		{"not found", NotFound("release", "r1"), http.StatusNotFound},
		{"conflict", Conflict("task", "exists"), http.StatusConflict},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}
