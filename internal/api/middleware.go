package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"coordinator/internal/apperrors"
	"coordinator/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type credentialsKey struct{}

// CredentialsFrom returns the caller credentials stored by
// RequireCredentials, or "".
func CredentialsFrom(ctx context.Context) string {
	v, _ := ctx.Value(credentialsKey{}).(string)
	return v
}

// InstrumentMiddleware logs every request and, when metrics is non-nil,
// records latency, traffic and errors labelled by route pattern.
func InstrumentMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			slog.InfoContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", elapsed,
				"requestId", middleware.GetReqID(r.Context()),
			)
			if metrics != nil {
				metrics.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), status, elapsed.Seconds())
			}
		})
	}
}

// routePattern is the matched chi pattern (e.g. /tasks/{taskId}), or the raw
// path for requests that matched no route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return strings.TrimSuffix(p, "/*")
		}
	}
	return r.URL.Path
}

// CORSMiddleware adds CORS headers and answers preflight requests.
func CORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCredentials rejects requests without an Authorization header. The
// header is not interpreted here: it is handed on untouched to the services
// that authorize the caller.
func RequireCredentials() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credentials := r.Header.Get("Authorization")
			if strings.TrimSpace(credentials) == "" {
				err := apperrors.Unauthorized("Authorization header required")
				writeError(w, apperrors.HTTPStatus(err), err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), credentialsKey{}, credentials)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
