// Package docker implements task.Runtime on a Docker daemon.
// Every task runs a single ETL container and the container ID is its handle.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"coordinator/internal/observability"
	"coordinator/internal/task"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	managedByLabel = "managed-by"
	managedByValue = "coordinator"
	releaseLabel   = "release.id"
	studiesLabel   = "study.ids"
)

var errContainerGone = errors.New("container no longer exists")

// Runtime runs ETL containers on the host Docker daemon.
type Runtime struct {
	client  *client.Client
	cfg     Config
	metrics *observability.Metrics

	pulls singleflight.Group

	cancelMaintenance context.CancelFunc
	maintenanceWg     sync.WaitGroup
}

// New connects to the daemon described by the DOCKER_* environment and
// starts the sweep of expired containers.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &Runtime{
		client:  dockerClient,
		cfg:     cfg.withDefaults(),
		metrics: cfg.Metrics,
	}

	if err := r.reportOrphans(ctx); err != nil {
		slog.Warn("Failed to list existing ETL containers", "error", err)
	}

	maintenanceCtx, cancel := context.WithCancel(context.Background())
	r.cancelMaintenance = cancel
	if r.cfg.Retention > 0 {
		r.maintenanceWg.Add(1)
		go func() {
			defer r.maintenanceWg.Done()
			r.runMaintenance(maintenanceCtx)
		}()
	}

	return r, nil
}

// Create pulls the image if needed and creates (but does not start) the ETL
// container for a release.
func (r *Runtime) Create(ctx context.Context, studyIDs []string, releaseID string) (task.Handle, error) {
	if r.cfg.PullImage {
		if err := r.pullImageIfNeeded(ctx, r.cfg.Image); err != nil {
			return "", task.NewRuntimeError(task.OpProvision, "", fmt.Errorf("pull image %s: %w", r.cfg.Image, err))
		}
	}

	containerConfig, hostConfig := containerSpec(r.cfg, studyIDs, releaseID)
	name := containerName(releaseID)

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", task.NewRuntimeError(task.OpProvision, "", err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("Docker warning on container create", "container", name, "warning", w)
	}

	slog.Debug("Container created", "container", name, "containerId", resp.ID, "releaseId", releaseID)
	return task.Handle(resp.ID), nil
}

// Start starts a created container. A container that fails to start is
// removed, since its task is failed and nothing will run it.
func (r *Runtime) Start(ctx context.Context, h task.Handle) error {
	if err := r.client.ContainerStart(ctx, string(h), container.StartOptions{}); err != nil {
		r.removeIfUnstarted(ctx, h)
		return task.NewRuntimeError(task.OpExecute, h, err)
	}
	return nil
}

// IsComplete reports whether the container has stopped running.
func (r *Runtime) IsComplete(ctx context.Context, h task.Handle) (bool, error) {
	state, err := r.inspect(ctx, h)
	if err != nil {
		return false, err
	}
	return exited(state), nil
}

// FinishedWithErrors reports whether the container exited abnormally.
func (r *Runtime) FinishedWithErrors(ctx context.Context, h task.Handle) (bool, error) {
	state, err := r.inspect(ctx, h)
	if err != nil {
		return false, err
	}
	return failedExit(state), nil
}

// Cancel stops the container. A container that is already gone counts as
// stopped. One that was never started is removed outright: the maintenance
// sweep only collects exited containers.
func (r *Runtime) Cancel(ctx context.Context, h task.Handle) error {
	timeout := int(r.cfg.StopTimeout.Seconds())
	err := r.client.ContainerStop(ctx, string(h), container.StopOptions{Timeout: &timeout})
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return task.NewRuntimeError(task.OpCancel, h, err)
	}
	r.removeIfUnstarted(ctx, h)
	return nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runtime) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close stops maintenance and releases the client.
func (r *Runtime) Close() error {
	if r.cancelMaintenance != nil {
		r.cancelMaintenance()
	}
	r.maintenanceWg.Wait()
	return r.client.Close()
}

func (r *Runtime) inspect(ctx context.Context, h task.Handle) (*container.State, error) {
	resp, err := r.client.ContainerInspect(ctx, string(h))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			err = errContainerGone
		}
		return nil, task.NewRuntimeError(task.OpInspect, h, err)
	}
	if resp.State == nil {
		return nil, task.NewRuntimeError(task.OpInspect, h, errors.New("daemon returned no container state"))
	}
	return resp.State, nil
}

// removeIfUnstarted deletes a container still in the created status.
func (r *Runtime) removeIfUnstarted(ctx context.Context, h task.Handle) {
	state, err := r.inspect(ctx, h)
	if err != nil || !unstarted(state) {
		return
	}
	if err := r.client.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		slog.Warn("Failed to remove unstarted container", "containerId", h, "error", err)
		return
	}
	r.metrics.RecordContainersRemoved(ctx, 1)
	slog.Debug("Removed unstarted container", "containerId", h)
}

// pullImageIfNeeded pulls the image unless it is already present. Concurrent
// initializations share one pull.
func (r *Runtime) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err, _ := r.pulls.Do(imageName, func() (any, error) {
		if _, err := r.client.ImageInspect(ctx, imageName); err == nil {
			return nil, nil
		}

		start := time.Now()
		slog.Info("Pulling ETL image", "image", imageName)
		reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
		if err == nil {
			_, err = io.Copy(io.Discard, reader)
			reader.Close()
		}
		r.metrics.RecordImagePull(ctx, time.Since(start), err)
		return nil, err
	})
	return err
}

// reportOrphans logs containers left behind by a previous process. Their
// tasks are gone, so nothing will ever poll them.
func (r *Runtime) reportOrphans(ctx context.Context) error {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		return err
	}
	for _, c := range containers {
		slog.Warn("ETL container from a previous run is still running",
			"containerId", c.ID, "releaseId", c.Labels[releaseLabel], "state", c.State)
	}
	return nil
}

// runMaintenance periodically removes containers that exited more than
// Retention ago.
func (r *Runtime) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.removeExpired(ctx)
		}
	}
}

func (r *Runtime) removeExpired(ctx context.Context) {
	logger := slog.With("component", "maintenance")

	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", managedByLabel+"="+managedByValue),
			filters.Arg("status", "exited"),
			filters.Arg("status", "dead"),
		),
	})
	if err != nil {
		logger.Warn("Failed to list exited containers", "error", err)
		return
	}

	now := time.Now()
	removed := 0
	for _, c := range containers {
		resp, err := r.client.ContainerInspect(ctx, c.ID)
		if err != nil || resp.State == nil {
			continue
		}
		if !expired(resp.State, now, r.cfg.Retention) {
			continue
		}
		if err := r.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn("Failed to remove container", "containerId", c.ID, "error", err)
			continue
		}
		removed++
		logger.Debug("Removed expired container", "containerId", c.ID, "releaseId", c.Labels[releaseLabel])
	}

	if removed > 0 {
		r.metrics.RecordContainersRemoved(ctx, removed)
		logger.Info("Maintenance complete", "removed", removed)
	}
}

// containerSpec builds the create request for one ETL run.
func containerSpec(cfg Config, studyIDs []string, releaseID string) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(cfg.Env)+2)
	env = append(env,
		"STUDY_IDS="+strings.Join(studyIDs, ","),
		"RELEASE_ID="+releaseID,
	)
	env = append(env, cfg.Env...)

	containerConfig := &container.Config{
		Image: cfg.Image,
		Env:   env,
		Labels: map[string]string{
			managedByLabel: managedByValue,
			releaseLabel:   releaseID,
			studiesLabel:   strings.Join(studyIDs, ","),
		},
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(cfg.CPU * 1e9),
			Memory:   int64(cfg.Memory) * 1024 * 1024,
		},
	}
	if cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(cfg.Network)
	}

	return containerConfig, hostConfig
}

// containerName is unique per create so a re-run of the same release never
// collides with a container kept for retention.
func containerName(releaseID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '-'
	}, releaseID)
	return fmt.Sprintf("etl-%s-%s", clean, uuid.NewString()[:8])
}

// exited reports whether a container has run and stopped.
func exited(s *container.State) bool {
	switch s.Status {
	case "exited", "dead":
		return true
	}
	return false
}

// unstarted reports whether a container was created but never run.
func unstarted(s *container.State) bool {
	return s.Status == "created"
}

// failedExit reports a non-zero exit, an OOM kill or a daemon-side error.
func failedExit(s *container.State) bool {
	return s.ExitCode != 0 || s.OOMKilled || s.Error != ""
}

func expired(s *container.State, now time.Time, retention time.Duration) bool {
	if s.Running || retention <= 0 {
		return false
	}
	finishedAt, err := time.Parse(time.RFC3339Nano, s.FinishedAt)
	if err != nil {
		return false
	}
	return now.Sub(finishedAt) > retention
}

var _ task.Runtime = (*Runtime)(nil)
