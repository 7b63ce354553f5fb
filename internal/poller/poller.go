// Package poller detects finished containers for RUNNING tasks in the
// background, so tasks reach COMPLETED or FAILED without a client asking.
package poller

import (
	"context"
	"log/slog"
	"time"

	"coordinator/internal/config"
	"coordinator/internal/observability"
	"coordinator/internal/task"

	"golang.org/x/time/rate"
)

// Source lists the tasks to inspect.
type Source interface {
	Running() []*task.Task
}

// Config controls the sweep cadence.
type Config struct {
	Interval time.Duration // between sweeps
	Rate     float64       // runtime inspections per second, 0 = unlimited
	Metrics  *observability.Metrics
}

// ConfigFrom maps the poller section of the service configuration.
func ConfigFrom(pc config.PollerConfig, metrics *observability.Metrics) Config {
	return Config{Interval: pc.Interval, Rate: pc.Rate, Metrics: metrics}
}

// Poller periodically queries the state of every RUNNING task.
type Poller struct {
	source  Source
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a poller. Run does nothing when cfg.Interval is not positive.
func New(source Source, cfg Config) *Poller {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Poller{
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.With("component", "poller"),
	}
}

// Run sweeps every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.Interval <= 0 {
		p.logger.Info("Completion poller disabled")
		return
	}
	p.logger.Info("Completion poller started", "interval", p.cfg.Interval, "rate", p.cfg.Rate)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Completion poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep inspects each RUNNING task once and returns how many left RUNNING.
func (p *Poller) Sweep(ctx context.Context) int {
	start := time.Now()
	running := p.source.Running()

	inspected, finished := 0, 0
	for _, t := range running {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		inspected++
		if state := t.State(ctx); state != task.StateRunning {
			finished++
			p.logger.Debug("Task finished", "taskId", t.ID(), "state", state)
		}
	}

	p.cfg.Metrics.RecordPollSweep(ctx, inspected, time.Since(start))
	if finished > 0 {
		p.logger.Info("Sweep detected finished tasks", "inspected", inspected, "finished", finished)
	}
	return finished
}
