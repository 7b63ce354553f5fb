package api

import (
	"net/http"

	"coordinator/internal/health"
	"coordinator/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Tasks         TaskService
	Metrics       *observability.Metrics // optional
	HealthChecker *health.Checker
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Tasks, cfg.HealthChecker)

	r := chi.NewRouter()

	// Outermost first: the request id must exist before anything logs.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(InstrumentMiddleware(cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware())

	// Probes and banner - no credentials required
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)
	r.Get("/status", handler.Status)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", handler.ListTasks)
		r.Get("/{taskId}", handler.GetTask)
		r.With(
			middleware.AllowContentType("application/json"),
			RequireCredentials(),
		).Post("/", handler.DispatchTask)
	})

	return r
}
