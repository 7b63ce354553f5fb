package docker

import (
	"time"

	"coordinator/internal/config"
	"coordinator/internal/observability"
)

// Config holds configuration for the Docker runtime.
type Config struct {
	Image       string
	Network     string
	CPU         float64 // cores, 0 = unlimited
	Memory      int     // MB, 0 = unlimited
	PullImage   bool
	StopTimeout time.Duration
	Env         []string // extra KEY=VALUE entries

	Retention           time.Duration // how long exited containers are kept (0 disables removal)
	MaintenanceInterval time.Duration // how often to sweep exited containers (default 1m)

	Metrics *observability.Metrics // optional
}

// ConfigFrom maps the runtime section of the service configuration.
func ConfigFrom(rc config.RuntimeConfig, metrics *observability.Metrics) Config {
	return Config{
		Image:               rc.Image,
		Network:             rc.Network,
		CPU:                 rc.CPU,
		Memory:              rc.Memory,
		PullImage:           rc.PullImage,
		StopTimeout:         rc.StopTimeout,
		Env:                 rc.Env,
		Retention:           rc.Retention,
		MaintenanceInterval: rc.MaintenanceInterval,
		Metrics:             metrics,
	}
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	return c
}
