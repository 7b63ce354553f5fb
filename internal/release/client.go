// Package release looks up release metadata on the release coordinator.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coordinator/internal/apperrors"
	"coordinator/internal/config"
	"coordinator/internal/observability"
	"coordinator/internal/task"
	"coordinator/pkg/backoff"
	"coordinator/pkg/circuitbreaker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Lookup outcomes reported to metrics.
const (
	outcomeFound    = "found"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// Release is the release coordinator's view of a release.
type Release struct {
	ID      string   `json:"kf_id"`
	Name    string   `json:"name"`
	State   string   `json:"state"`
	Studies []string `json:"studies"`
}

// statusError is a non-2xx answer from the release coordinator.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("release coordinator returned status %d", e.code)
}

// Config holds the client settings.
type Config struct {
	URL        string
	Timeout    time.Duration // per request, default 10s
	MaxRetries int           // retries after the first attempt
	Backoff    *backoff.Config
	Breaker    circuitbreaker.Config
	Metrics    *observability.Metrics

	TracerProvider trace.TracerProvider // defaults to the global provider
}

// ConfigFrom maps the release section of the service configuration.
func ConfigFrom(rc config.ReleaseConfig, metrics *observability.Metrics) Config {
	return Config{
		URL:        rc.URL,
		Timeout:    rc.Timeout,
		MaxRetries: rc.MaxRetries,
		Metrics:    metrics,
	}
}

// Client fetches releases. Concurrent lookups of the same release with the
// same credentials share one request.
type Client struct {
	base    string
	http    *http.Client
	cfg     Config
	breaker *circuitbreaker.Breaker
	group   singleflight.Group
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient validates the base URL and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid release coordinator url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	logger := slog.With("component", "release")
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		logger.Info("Release coordinator circuit changed", "from", from, "to", to)
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		breaker: circuitbreaker.New(u.Host, breakerCfg),
		tracer:  tp.Tracer("coordinator/release"),
		logger:  logger,
	}, nil
}

// Get fetches a release. A release the coordinator does not know yields a
// not-found error.
func (c *Client) Get(ctx context.Context, releaseID, credentials string) (*Release, error) {
	ctx, span := c.tracer.Start(ctx, "release.Get", trace.WithAttributes(
		attribute.String("release.id", releaseID),
	))
	defer span.End()

	start := time.Now()
	v, err, shared := c.group.Do(releaseID+"\x00"+credentials, func() (any, error) {
		return c.fetchWithRetry(ctx, releaseID, credentials)
	})
	span.SetAttributes(attribute.Bool("release.shared", shared))

	switch {
	case err == nil:
		c.cfg.Metrics.RecordReleaseLookup(ctx, outcomeFound, time.Since(start))
		return v.(*Release), nil
	case errors.Is(err, apperrors.ErrNotFound):
		c.cfg.Metrics.RecordReleaseLookup(ctx, outcomeNotFound, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	default:
		c.cfg.Metrics.RecordReleaseLookup(ctx, outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperrors.Internal("release.get", err)
	}
}

// ReleaseStudies returns the study ids of a release.
func (c *Client) ReleaseStudies(ctx context.Context, releaseID, credentials string) ([]string, error) {
	r, err := c.Get(ctx, releaseID, credentials)
	if err != nil {
		return nil, err
	}
	return r.Studies, nil
}

// Ready reports whether the release coordinator answers HTTP at all.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("release coordinator unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) fetchWithRetry(ctx context.Context, releaseID, credentials string) (*Release, error) {
	var release *Release
	err := backoff.Retry(ctx, c.cfg.MaxRetries, c.cfg.Backoff, func(attempt int) error {
		err := c.breaker.Do(func() error {
			r, err := c.fetch(ctx, releaseID, credentials)
			release = r
			return err
		}, isCallerError)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, circuitbreaker.ErrOpen), isCallerError(err):
			return backoff.Permanent(err)
		}
		c.logger.Debug("Release lookup attempt failed", "releaseId", releaseID, "attempt", attempt, "error", err)
		return err
	})
	return release, err
}

func (c *Client) fetch(ctx context.Context, releaseID, credentials string) (*Release, error) {
	endpoint := c.base + "/releases/" + url.PathEscape(releaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if credentials != "" {
		req.Header.Set("Authorization", credentials)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, apperrors.NotFound("release", releaseID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	var r Release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode release %s: %w", releaseID, err)
	}
	return &r, nil
}

// isCallerError reports answers caused by the request itself: retrying them
// cannot help and they say nothing about the coordinator's health.
func isCallerError(err error) bool {
	if errors.Is(err, apperrors.ErrNotFound) {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}

var _ task.StudyResolver = (*Client)(nil)
