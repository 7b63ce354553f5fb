// Package circuitbreaker implements the circuit breaker pattern.
//
// A breaker counts consecutive failures against one resource. Past the
// threshold it opens and rejects calls; after the cooldown it lets a single
// probe through (half-open) and closes again if that probe succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, requests allowed
	Open                  // Failing, requests blocked
	HalfOpen              // One probe in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // Failures before circuit opens (default: 5)
	Cooldown  time.Duration // Time before half-open (default: 30s)

	// OnStateChange, if set, is called after every state change with the
	// breaker's name. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Breaker guards a single resource.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// Allow reports whether a call may be attempted. In half-open state only the
// first caller is admitted until its result is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch b.state {
	case Open:
		if time.Since(b.lastFailure) <= b.cfg.Cooldown {
			return false
		}
		changed = b.setState(HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	changed := b.setState(Closed)
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// RecordFailure counts a failure. A failed half-open probe reopens at once.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	var changed func()
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		changed = b.setState(Open)
	}
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// Do runs fn if the breaker allows it and records the outcome. Errors for
// which ignore returns true are passed through without counting as failures.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil, ignore != nil && ignore(err):
		b.RecordSuccess()
	default:
		b.RecordFailure()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// setState must be called with mu held. It returns the notification to run
// once mu is released, or nil when nothing changed.
func (b *Breaker) setState(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if b.cfg.OnStateChange == nil {
		return nil
	}
	return func() { b.cfg.OnStateChange(b.name, from, to) }
}
