// coordinator is the HTTP service that drives ETL tasks through their
// container lifecycle.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coordinator/internal/api"
	"coordinator/internal/config"
	"coordinator/internal/dispatcher"
	"coordinator/internal/health"
	"coordinator/internal/notify"
	"coordinator/internal/observability"
	"coordinator/internal/poller"
	"coordinator/internal/release"
	"coordinator/internal/runtime/docker"
	"coordinator/internal/task"

	"golang.org/x/sync/errgroup"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			slog.Warn("Tracer provider shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		slog.Info("Exporting traces", "endpoint", cfg.Tracing.Endpoint, "sampleRatio", cfg.Tracing.SampleRatio)
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcher.ConfigFrom(cfg.Dispatcher), metrics)

	// Connect to Docker (logs containers left over from a previous run)
	dockerRuntime, err := docker.New(ctx, docker.ConfigFrom(cfg.Runtime, metrics))
	if err != nil {
		return err
	}
	defer dockerRuntime.Close()

	slog.Info("Connected to Docker daemon", "image", cfg.Runtime.Image)

	releaseCfg := release.ConfigFrom(cfg.Release, metrics)
	releaseCfg.TracerProvider = tracerProvider
	releases, err := release.NewClient(releaseCfg)
	if err != nil {
		return err
	}

	observers := task.Observers{metrics}
	managerCfg := task.ManagerConfig{
		Runtime:        dockerRuntime,
		Studies:        releases,
		TracerProvider: tracerProvider,
	}
	if cfg.Callback.URL != "" {
		notifier := notify.New(notify.ConfigFrom(cfg.Callback), eventDispatcher)
		observers = append(observers, notifier)
		managerCfg.Publisher = notifier
		slog.Info("Lifecycle callbacks enabled", "events", cfg.Callback.Events, "signed", cfg.Callback.Key != "")
	} else {
		slog.Warn("Lifecycle callbacks disabled - no CALLBACK_URL configured")
	}
	managerCfg.Observer = observers

	manager, err := task.NewManager(managerCfg)
	if err != nil {
		return err
	}

	// Create health checker
	healthChecker := health.NewChecker(
		health.Check{Name: "runtime", Probe: dockerRuntime, Critical: true},
		health.Check{Name: "release", Probe: releases},
	)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Tasks:         manager,
		Metrics:       metrics,
		HealthChecker: healthChecker,
	})

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Server.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// The group context ends on the first signal or the first server error.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		slog.Info("Starting API server", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	pollCtx, stopPoller := context.WithCancel(context.Background())
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.New(manager, poller.ConfigFrom(cfg.Poller, metrics)).Run(pollCtx)
	}()

	<-gctx.Done()
	if sigCtx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.Server.ShutdownDrainWait > 0 && sigCtx.Err() != nil {
		slog.Info("Waiting for traffic to drain", "duration", cfg.Server.ShutdownDrainWait)
		time.Sleep(cfg.Server.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}
	serveErr := g.Wait()

	// Phase 3: Stop background completion detection
	stopPoller()
	<-pollerDone

	// Phase 4: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// ETL containers are not stopped; their task state is lost with the process.
	slog.Info("Shutdown complete", "tasks", manager.Len(), "running", len(manager.Running()))
	return serveErr
}
