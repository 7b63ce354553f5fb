package task

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"coordinator/internal/apperrors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxTaskIDLength = 128

// taskIDPattern allows alphanumeric, hyphens, and underscores
var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ManagerConfig holds the collaborators shared by every task.
type ManagerConfig struct {
	Runtime   Runtime       // required
	Studies   StudyResolver // optional, used when a command carries no study ids
	Publisher Publisher     // optional publication work
	Observer  Observer      // optional

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Manager is the task registry and command dispatcher.
//
// The registry map is guarded by mu and only ever grows: a task lives as long
// as the process. Each task serializes its own lifecycle operations, so
// commands for different tasks proceed in parallel.
type Manager struct {
	cfg    ManagerConfig
	tracer trace.Tracer

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewManager creates an empty registry.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Manager{
		cfg:    cfg,
		tracer: tp.Tracer("coordinator/task"),
		tasks:  make(map[string]*Task),
	}, nil
}

// Dispatch applies a command: it resolves (or creates) the task and invokes
// the lifecycle operation the action names, then returns the task's status.
//
// Only malformed commands return an error. Runtime failures surface as a
// FAILED state and inapplicable actions leave the task unchanged.
func (m *Manager) Dispatch(ctx context.Context, cmd Command) (*Status, error) {
	ctx, span := m.tracer.Start(ctx, "task.Dispatch", trace.WithAttributes(
		attribute.String("task.id", cmd.TaskID),
		attribute.String("task.release", cmd.ReleaseID),
		attribute.String("task.action", cmd.Action),
	))
	defer span.End()

	if err := validateTaskID(cmd.TaskID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	action, err := ParseAction(cmd.Action)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	t := m.resolve(ctx, cmd)

	switch action {
	case ActionInitialize:
		t.Initialize(ctx, func(ctx context.Context) []string {
			return m.studiesFor(ctx, t, cmd)
		})
	case ActionRun:
		t.Run(ctx)
	case ActionPublish:
		t.Publish(ctx)
	case ActionCancel:
		t.Cancel(ctx)
	}

	status := t.Status(ctx)
	span.SetAttributes(attribute.String("task.state", string(status.State)))
	return &status, nil
}

// Task returns the task registered under id.
func (m *Manager) Task(id string) (*Task, error) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.TaskNotFound(id)
	}
	return t, nil
}

// Status returns the status of a task, detecting completion if it is running.
func (m *Manager) Status(ctx context.Context, id string) (*Status, error) {
	t, err := m.Task(id)
	if err != nil {
		return nil, err
	}
	status := t.Status(ctx)
	return &status, nil
}

// List returns a snapshot of every task ordered by id. It never polls the
// runtime.
func (m *Manager) List() *ListResponse {
	tasks := m.all()
	statuses := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, t.Snapshot())
	}
	return &ListResponse{Tasks: statuses}
}

// Running returns the tasks currently in RUNNING.
func (m *Manager) Running() []*Task {
	var running []*Task
	for _, t := range m.all() {
		if t.Snapshot().State == StateRunning {
			running = append(running, t)
		}
	}
	return running
}

// Len returns the number of registered tasks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func (m *Manager) all() []*Task {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id < tasks[j].id })
	return tasks
}

// resolve returns the registered task or creates it, seeded with the
// command's own study ids. If another caller registers the same id first,
// its task wins.
func (m *Manager) resolve(ctx context.Context, cmd Command) *Task {
	m.mu.RLock()
	t, ok := m.tasks[cmd.TaskID]
	m.mu.RUnlock()
	if ok {
		if cmd.ReleaseID != "" && cmd.ReleaseID != t.release {
			t.logger.Warn("Command release differs from task release, ignoring", "commandRelease", cmd.ReleaseID)
		}
		return t
	}

	studies := normalizeStudies(cmd.StudyIDs)

	m.mu.Lock()
	if t, ok := m.tasks[cmd.TaskID]; ok {
		m.mu.Unlock()
		return t
	}
	t = newTask(cmd.TaskID, cmd.ReleaseID, studies, config{
		runtime:   m.cfg.Runtime,
		publisher: m.cfg.Publisher,
		observer:  m.cfg.Observer,
	})
	m.tasks[cmd.TaskID] = t
	m.mu.Unlock()

	t.logger.Info("Task registered", "studies", len(studies))
	if m.cfg.Observer != nil {
		m.cfg.Observer.TaskCreated(ctx, t.Snapshot())
	}
	return t
}

// studiesFor picks the data-source ids for an initializing command: those it
// carries, else those already held by the task, else those of the task's
// release. A failed lookup yields an empty set, which the initialize guard
// turns into FAILED.
func (m *Manager) studiesFor(ctx context.Context, t *Task, cmd Command) []string {
	if len(cmd.StudyIDs) > 0 {
		return normalizeStudies(cmd.StudyIDs)
	}
	if held := t.Studies(); len(held) > 0 {
		return held
	}
	if m.cfg.Studies == nil || strings.TrimSpace(t.release) == "" {
		return nil
	}

	studies, err := m.cfg.Studies.ReleaseStudies(ctx, t.release, cmd.Credentials)
	if err != nil {
		t.logger.Warn("Release study lookup failed", "error", err)
		return nil
	}
	return normalizeStudies(studies)
}

// normalizeStudies trims, drops blanks, sorts and de-duplicates.
func normalizeStudies(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func validateTaskID(id string) error {
	if id == "" {
		return apperrors.Validation("task_id", "task ID is required")
	}
	if len(id) > maxTaskIDLength {
		return apperrors.Validation("task_id", fmt.Sprintf("task ID exceeds maximum length of %d", maxTaskIDLength))
	}
	if !taskIDPattern.MatchString(id) {
		return apperrors.Validation("task_id", "task ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	return nil
}
