// Package backoff provides exponential backoff and a context-aware retry loop.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential returns the wait before retry number attempt: attempt 1 waits
// Initial, attempt 2 twice that, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, ceiling := 100*time.Millisecond, 5*time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			ceiling = cfg.Max
		}
	}
	if attempt <= 1 {
		return min(initial, ceiling)
	}

	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// permanentError stops Retry immediately.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx is done, or
// retries extra attempts have failed. fn receives the 0-based attempt number.
// The error returned is the last one from fn, unwrapped from Permanent.
func Retry(ctx context.Context, retries int, cfg *Config, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), err)
			case <-time.After(Exponential(attempt, cfg)):
			}
		}

		if err = fn(attempt); err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
	}
	return err
}
