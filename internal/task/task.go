package task

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	errNoStudies    = errors.New("no data-source ids to process")
	errBlankRelease = errors.New("release id is blank")
)

// Task is one ETL job driven by the lifecycle FSM.
//
// Lifecycle operations and status queries on the same task are serialized by
// opMu, so a check-and-apply can never interleave with another. The state
// fields live behind mu, which is only held for the instant a transition is
// applied; Snapshot therefore never waits on runtime I/O.
type Task struct {
	id        string
	release   string
	createdAt time.Time

	runtime   Runtime
	publisher Publisher
	observer  Observer
	logger    *slog.Logger

	opMu sync.Mutex

	mu        sync.RWMutex
	studies   []string // replaced only while CREATED
	state     State
	progress  int
	handle    Handle
	updatedAt time.Time
}

// config carries a task's collaborators.
type config struct {
	runtime   Runtime
	publisher Publisher
	observer  Observer
}

func newTask(id, release string, studies []string, cfg config) *Task {
	now := time.Now()
	return &Task{
		id:        id,
		release:   release,
		studies:   slices.Clone(studies),
		createdAt: now,
		runtime:   cfg.runtime,
		publisher: cfg.publisher,
		observer:  cfg.observer,
		logger:    slog.With("taskId", id, "releaseId", release),
		state:     StateCreated,
		updatedAt: now,
	}
}

// ID returns the job identifier.
func (t *Task) ID() string { return t.id }

// Release returns the release identifier.
func (t *Task) Release() string { return t.release }

// Studies returns a copy of the data-source ids the task was seeded with.
func (t *Task) Studies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.studies)
}

// CreatedAt returns when the task was registered.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Handle returns the runtime handle, empty before initialization.
func (t *Task) Handle() Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle
}

// UpdatedAt returns when the last transition was applied.
func (t *Task) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

// Snapshot returns the current status without triggering completion detection.
func (t *Task) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		TaskID:    t.id,
		ReleaseID: t.release,
		State:     t.state,
		Progress:  t.progress,
	}
}

// StudySource yields the data-source ids an initializing command supplies.
// An empty result keeps the ids the task already holds.
type StudySource func(ctx context.Context) []string

// Initialize provisions the task's container and moves CREATED -> PENDING.
// seed (optional) is consulted once the transition is known to apply, so a
// task first named by another command still takes the initializing
// command's ids. An empty study set, a blank release or a provisioning error
// fail the task.
func (t *Task) Initialize(ctx context.Context, seed StudySource) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if !t.can(EventInitialize) {
		t.refused(ActionInitialize)
		return
	}
	if seed != nil {
		if ids := seed(ctx); len(ids) > 0 {
			t.mu.Lock()
			t.studies = slices.Clone(ids)
			t.mu.Unlock()
		}
	}
	studies := t.Studies()
	t.logger.Info("Initializing task", "studies", len(studies))

	switch {
	case len(studies) == 0:
		t.apply(ctx, EventFail, errNoStudies, nil)
		return
	case strings.TrimSpace(t.release) == "":
		t.apply(ctx, EventFail, errBlankRelease, nil)
		return
	}

	h, err := t.runtime.Create(context.WithoutCancel(ctx), studies, t.release)
	if err != nil {
		t.apply(ctx, EventFail, err, nil)
		return
	}
	t.apply(ctx, EventInitialize, nil, func() { t.handle = h })
}

// Run moves PENDING -> RUNNING and starts the container. A start error fails
// the task.
func (t *Task) Run(ctx context.Context) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if !t.apply(ctx, EventRun, nil, nil) {
		t.refused(ActionRun)
		return
	}
	if err := t.runtime.Start(context.WithoutCancel(ctx), t.Handle()); err != nil {
		t.apply(ctx, EventFail, err, nil)
	}
}

// Publish moves COMPLETED -> PUBLISHING, performs the publication work and,
// on success, PUBLISHING -> PUBLISHED. Publication is synchronous, so
// PUBLISHING is never visible to other callers.
func (t *Task) Publish(ctx context.Context) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if !t.apply(ctx, EventPublish, nil, nil) {
		t.refused(ActionPublish)
		return
	}
	if t.publisher != nil {
		if err := t.publisher.Publish(context.WithoutCancel(ctx), t.Snapshot()); err != nil {
			t.apply(ctx, EventFail, err, nil)
			return
		}
	}
	t.apply(ctx, EventPublishingDone, nil, nil)
}

// Cancel moves PENDING or RUNNING -> CANCELLED and asks the runtime to stop
// the container. The transition stands whether or not the container stops.
// In any other state Cancel does nothing.
func (t *Task) Cancel(ctx context.Context) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if !t.apply(ctx, EventCancel, nil, nil) {
		t.refused(ActionCancel)
		return
	}
	h := t.Handle()
	if h == "" {
		return
	}
	if err := t.runtime.Cancel(context.WithoutCancel(ctx), h); err != nil {
		t.logger.Warn("Container cancellation failed", "handle", h, "error", err)
	}
}

// State returns the current state. It is a query with a side effect: when
// the task is RUNNING the runtime is polled, and a finished container moves
// the task to COMPLETED (clean exit) or FAILED (error exit or inspection
// failure) before the state is returned.
func (t *Task) State(ctx context.Context) State {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.Snapshot().State == StateRunning {
		t.detectCompletion(ctx)
	}
	return t.Snapshot().State
}

// Status is State followed by a Snapshot.
func (t *Task) Status(ctx context.Context) Status {
	t.State(ctx)
	return t.Snapshot()
}

// detectCompletion must be called with opMu held.
func (t *Task) detectCompletion(ctx context.Context) {
	rctx := context.WithoutCancel(ctx)
	h := t.Handle()

	done, err := t.runtime.IsComplete(rctx, h)
	if err != nil {
		t.apply(ctx, EventFail, err, nil)
		return
	}
	if !done {
		return
	}

	failed, err := t.runtime.FinishedWithErrors(rctx, h)
	switch {
	case err != nil:
		t.apply(ctx, EventFail, err, nil)
	case failed:
		t.apply(ctx, EventFail, errors.New("container exited with errors"), nil)
	default:
		t.apply(ctx, EventRunningDone, nil, nil)
	}
}

func (t *Task) can(ev Event) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := Next(t.state, ev)
	return ok
}

// apply fires ev. If the table allows it, mutate (optional) runs in the same
// critical section as the state change. Returns false when refused.
func (t *Task) apply(ctx context.Context, ev Event, cause error, mutate func()) bool {
	t.mu.Lock()
	from := t.state
	to, ok := Next(from, ev)
	if !ok {
		t.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	t.state = to
	if p, ok := progressByState[to]; ok {
		t.progress = p
	}
	t.updatedAt = time.Now()
	tr := Transition{
		TaskID:    t.id,
		ReleaseID: t.release,
		From:      from,
		To:        to,
		Event:     ev,
		Progress:  t.progress,
		At:        t.updatedAt,
		Age:       t.updatedAt.Sub(t.createdAt),
		Cause:     cause,
	}
	t.mu.Unlock()

	if cause != nil {
		t.logger.Warn("Task failed", "from", from, "event", ev, "error", cause)
	} else {
		t.logger.Info("Task transitioned", "from", from, "to", to, "event", ev)
	}
	if t.observer != nil {
		t.observer.TaskTransitioned(ctx, tr)
	}
	return true
}

func (t *Task) refused(a Action) {
	t.logger.Debug("Action not applicable", "action", a, "state", t.Snapshot().State)
}
