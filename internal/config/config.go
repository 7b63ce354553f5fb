// Package config loads coordinator configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete coordinator configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Release    ReleaseConfig    `yaml:"release"`
	Poller     PollerConfig     `yaml:"poller"`
	Callback   CallbackConfig   `yaml:"callback"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port              string        `yaml:"port"`
	MetricsPort       string        `yaml:"metrics_port"`
	ShutdownDrainWait time.Duration `yaml:"shutdown_drain_wait"` // Time to wait for load balancer to drain (0 to skip)
}

// RuntimeConfig describes the ETL container every task runs.
type RuntimeConfig struct {
	Image       string        `yaml:"image"`
	Network     string        `yaml:"network"`
	CPU         float64       `yaml:"cpu"`    // cores, 0 = unlimited
	Memory      int           `yaml:"memory"` // MB, 0 = unlimited
	PullImage   bool          `yaml:"pull_image"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Env         []string      `yaml:"env"` // KEY=VALUE entries added to every container

	Retention           time.Duration `yaml:"retention"`            // how long exited containers are kept, 0 = forever
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"` // how often exited containers are swept
}

// ReleaseConfig points at the release coordinator that owns release metadata.
type ReleaseConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PollerConfig controls background completion detection.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables the poller
	Rate     float64       `yaml:"rate"`     // runtime inspections per second
}

// CallbackConfig enables lifecycle CloudEvents.
type CallbackConfig struct {
	URL     string   `yaml:"url"` // empty disables callbacks
	KeyFile string   `yaml:"key_file"`
	Events  []string `yaml:"events"` // empty = all
	Key     string   `yaml:"-"`
}

// DispatcherConfig sizes the async callback dispatcher.
type DispatcherConfig struct {
	BufferSize  int           `yaml:"buffer_size"`
	Workers     int           `yaml:"workers"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// LoggingConfig selects log level and an optional rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`        // empty = stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotation threshold
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TracingConfig controls span sampling and export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`     // OTLP/HTTP traces URL, empty = log spans only
	SampleRatio float64 `yaml:"sample_ratio"` // fraction of root spans kept
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			MetricsPort:       "9090",
			ShutdownDrainWait: 5 * time.Second,
		},
		Runtime: RuntimeConfig{
			Image:       "kidsfirstdrc/kf-portal-etl:latest",
			PullImage:   true,
			StopTimeout: 10 * time.Second,

			Retention:           time.Hour,
			MaintenanceInterval: time.Minute,
		},
		Release: ReleaseConfig{
			URL:        "http://localhost:5000",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Poller: PollerConfig{
			Interval: 15 * time.Second,
			Rate:     20,
		},
		Dispatcher: DispatcherConfig{
			BufferSize:  10000,
			Workers:     10,
			HTTPTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.Callback.Key = GetSecretFile(cfg.Callback.KeyFile)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = GetEnv("PORT", c.Server.Port)
	c.Server.MetricsPort = GetEnv("METRICS_PORT", c.Server.MetricsPort)
	c.Server.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.Server.ShutdownDrainWait)

	c.Runtime.Image = GetEnv("ETL_IMAGE", c.Runtime.Image)
	c.Runtime.Network = GetEnv("ETL_NETWORK", c.Runtime.Network)
	c.Runtime.CPU = GetFloatEnv("ETL_CPU", c.Runtime.CPU)
	c.Runtime.Memory = GetIntEnv("ETL_MEMORY", c.Runtime.Memory)
	c.Runtime.PullImage = GetBoolEnv("ETL_PULL_IMAGE", c.Runtime.PullImage)
	c.Runtime.StopTimeout = GetDurationEnv("ETL_STOP_TIMEOUT", c.Runtime.StopTimeout)
	c.Runtime.Env = GetListEnv("ETL_ENV", c.Runtime.Env)
	c.Runtime.Retention = GetDurationEnv("ETL_RETENTION", c.Runtime.Retention)
	c.Runtime.MaintenanceInterval = GetDurationEnv("ETL_MAINTENANCE_INTERVAL", c.Runtime.MaintenanceInterval)

	c.Release.URL = GetEnv("RELEASE_COORDINATOR_URL", c.Release.URL)
	c.Release.Timeout = GetDurationEnv("RELEASE_TIMEOUT", c.Release.Timeout)
	c.Release.MaxRetries = GetIntEnv("RELEASE_MAX_RETRIES", c.Release.MaxRetries)

	c.Poller.Interval = GetDurationEnv("POLL_INTERVAL", c.Poller.Interval)
	c.Poller.Rate = GetFloatEnv("POLL_RATE", c.Poller.Rate)

	c.Callback.URL = GetEnv("CALLBACK_URL", c.Callback.URL)
	c.Callback.KeyFile = GetEnv("CALLBACK_KEY_FILE", c.Callback.KeyFile)
	c.Callback.Events = GetListEnv("CALLBACK_EVENTS", c.Callback.Events)

	c.Dispatcher.BufferSize = GetIntEnv("DISPATCHER_BUFFER_SIZE", c.Dispatcher.BufferSize)
	c.Dispatcher.Workers = GetIntEnv("DISPATCHER_WORKERS", c.Dispatcher.Workers)
	c.Dispatcher.HTTPTimeout = GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", c.Dispatcher.HTTPTimeout)

	c.Logging.Level = GetEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = GetEnv("LOG_FILE", c.Logging.File)

	c.Tracing.Endpoint = GetEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRatio = GetFloatEnv("TRACE_SAMPLE_RATIO", c.Tracing.SampleRatio)
}
