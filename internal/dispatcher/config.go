package dispatcher

import (
	"time"

	"coordinator/internal/config"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending events across all workers (default: 10000)
	Workers     int           // concurrent delivery goroutines (default: 10)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	// BreakerCooldown overrides how long an open circuit rejects deliveries
	// and how long a rejected event waits before it is requeued.
	BreakerCooldown time.Duration
}

// ConfigFrom maps the dispatcher section of the service configuration.
func ConfigFrom(dc config.DispatcherConfig) MemoryConfig {
	return MemoryConfig{
		BufferSize:  dc.BufferSize,
		Workers:     dc.Workers,
		HTTPTimeout: dc.HTTPTimeout,
	}.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}

// shardSize is the buffer of each worker's queue.
func (c MemoryConfig) shardSize() int {
	return max(1, c.BufferSize/c.Workers)
}
