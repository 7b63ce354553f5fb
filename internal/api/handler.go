// Package api provides the HTTP API handlers and routing for the coordinator.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"coordinator/internal/apperrors"
	"coordinator/internal/health"
	"coordinator/internal/task"

	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Service banner messages.
const (
	statusReady       = "ready for work"
	statusUnavailable = "service unavailable"
)

// TaskService is the part of the task manager the API drives.
type TaskService interface {
	Dispatch(ctx context.Context, cmd task.Command) (*task.Status, error)
	Status(ctx context.Context, id string) (*task.Status, error)
	List() *task.ListResponse
}

// Handler contains HTTP handlers for the tasks API
type Handler struct {
	tasks  TaskService
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(tasks TaskService, healthChecker *health.Checker) *Handler {
	return &Handler{
		tasks:  tasks,
		health: healthChecker,
	}
}

// StatusResponse is the service banner.
type StatusResponse struct {
	Message string `json:"message"`
}

// DispatchTask handles POST /tasks. Job-level failures are reported through
// the returned state, never through the HTTP status.
func (h *Handler) DispatchTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var cmd task.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	cmd.Credentials = CredentialsFrom(r.Context())

	status, err := h.tasks.Dispatch(r.Context(), cmd)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ListTasks handles GET /tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tasks.List())
}

// GetTask handles GET /tasks/{taskId}. Querying a RUNNING task may move it
// to COMPLETED or FAILED.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required")
		return
	}

	status, err := h.tasks.Status(r.Context(), taskID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// Status handles GET /status, the service banner.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.health.Readiness(r.Context()).IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Message: statusUnavailable})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Message: statusReady})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if the container runtime is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	writeError(w, status, err.Error())
}
