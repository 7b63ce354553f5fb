package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coordinator/internal/task"
	"coordinator/internal/testutil"
)

// recorder captures observer notifications.
type recorder struct {
	mu          sync.Mutex
	created     []task.Status
	transitions []task.Transition
}

func (r *recorder) TaskCreated(_ context.Context, s task.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, s)
}

func (r *recorder) TaskTransitioned(_ context.Context, tr task.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
}

func (r *recorder) path() []task.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]task.State, 0, len(r.transitions))
	for _, tr := range r.transitions {
		states = append(states, tr.To)
	}
	return states
}

type publisherFunc func(ctx context.Context, s task.Status) error

func (f publisherFunc) Publish(ctx context.Context, s task.Status) error { return f(ctx, s) }

func newManager(t *testing.T, rt task.Runtime, opts ...func(*task.ManagerConfig)) *task.Manager {
	t.Helper()
	cfg := task.ManagerConfig{Runtime: rt}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := task.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func dispatch(t *testing.T, m *task.Manager, id, action string, studies ...string) task.Status {
	t.Helper()
	s, err := m.Dispatch(context.Background(), task.Command{
		TaskID:    id,
		ReleaseID: "RE_1",
		Action:    action,
		StudyIDs:  studies,
	})
	if err != nil {
		t.Fatalf("Dispatch(%s, %s) error = %v", id, action, err)
	}
	return *s
}

// refresh runs completion detection for a task.
func refresh(t *testing.T, m *task.Manager, id string) task.Status {
	t.Helper()
	s, err := m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status(%s) error = %v", id, err)
	}
	return *s
}

func assertStatus(t *testing.T, got task.Status, state task.State, progress int) {
	t.Helper()
	if got.State != state || got.Progress != progress {
		t.Errorf("status = %s/%d, want %s/%d", got.State, got.Progress, state, progress)
	}
}

func TestTask_HappyPath(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	rec := &recorder{}
	published := 0
	m := newManager(t, rt, func(c *task.ManagerConfig) {
		c.Observer = rec
		c.Publisher = publisherFunc(func(_ context.Context, s task.Status) error {
			if s.State != task.StatePublishing {
				t.Errorf("publisher saw state %s, want PUBLISHING", s.State)
			}
			published++
			return nil
		})
	})

	assertStatus(t, dispatch(t, m, "job-1", "initialize", "SD_1", "SD_2"), task.StatePending, 10)
	assertStatus(t, dispatch(t, m, "job-1", "run"), task.StateRunning, 50)

	// Still running until the container exits.
	s, err := m.Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	assertStatus(t, *s, task.StateRunning, 50)

	created := rt.Created()
	if len(created) != 1 {
		t.Fatalf("containers created = %d, want 1", len(created))
	}
	if created[0].Release != "RE_1" || len(created[0].Studies) != 2 {
		t.Errorf("Create called with %+v", created[0])
	}
	if !rt.Started(created[0].Handle) {
		t.Error("container was not started")
	}

	rt.Finish(created[0].Handle, false)
	s, _ = m.Status(context.Background(), "job-1")
	assertStatus(t, *s, task.StateCompleted, 80)

	assertStatus(t, dispatch(t, m, "job-1", "publish"), task.StatePublished, 100)
	if published != 1 {
		t.Errorf("publisher called %d times, want 1", published)
	}

	want := []task.State{task.StatePending, task.StateRunning, task.StateCompleted, task.StatePublishing, task.StatePublished}
	got := rec.path()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
	if len(rec.created) != 1 {
		t.Errorf("TaskCreated called %d times, want 1", len(rec.created))
	}
}

func TestTask_InitializeGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		release string
		studies []string
	}{
		{name: "no studies", release: "RE_1"},
		{name: "blank studies", release: "RE_1", studies: []string{" ", ""}},
		{name: "blank release", release: "  ", studies: []string{"SD_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := testutil.NewFakeRuntime()
			m := newManager(t, rt)

			s, err := m.Dispatch(context.Background(), task.Command{
				TaskID: "job-1", ReleaseID: tt.release, Action: "initialize", StudyIDs: tt.studies,
			})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			assertStatus(t, *s, task.StateFailed, 0)
			if rt.Calls(testutil.OpCreate) != 0 {
				t.Error("runtime should not be asked to create a container")
			}
		})
	}
}

func TestTask_RuntimeErrorsFailTask(t *testing.T) {
	t.Parallel()
	boom := errors.New("daemon unavailable")

	tests := []struct {
		name     string
		op       string
		actions  []string
		finish   bool
		progress int
	}{
		{name: "create", op: testutil.OpCreate, actions: []string{"initialize"}, progress: 0},
		{name: "start", op: testutil.OpStart, actions: []string{"initialize", "run"}, progress: 50},
		{name: "inspect", op: testutil.OpComplete, actions: []string{"initialize", "run"}, progress: 50},
		{name: "exit status", op: testutil.OpFinished, actions: []string{"initialize", "run"}, finish: true, progress: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := testutil.NewFakeRuntime()
			m := newManager(t, rt)

			// Arm the error only when the failing step is reached so earlier
			// steps succeed.
			var s task.Status
			for i, a := range tt.actions {
				if i == len(tt.actions)-1 {
					rt.SetError(tt.op, boom)
				}
				if tt.finish && a == "run" {
					for _, c := range rt.Created() {
						rt.Finish(c.Handle, false)
					}
				}
				s = dispatch(t, m, "job-1", a, "SD_1")
			}
			assertStatus(t, s, task.StateFailed, tt.progress)
		})
	}
}

func TestTask_ExitWithErrorsFails(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt)

	dispatch(t, m, "job-1", "initialize", "SD_1")
	dispatch(t, m, "job-1", "run")
	rt.Finish(rt.Created()[0].Handle, true)

	s, err := m.Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	assertStatus(t, *s, task.StateFailed, 50)

	// FAILED is absorbing.
	for _, a := range []string{"initialize", "run", "publish", "cancel"} {
		assertStatus(t, dispatch(t, m, "job-1", a), task.StateFailed, 50)
	}
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		before     []string
		want       task.State
		wantCancel int
	}{
		{name: "created is ignored", want: task.StateCreated},
		{name: "pending", before: []string{"initialize"}, want: task.StateCancelled, wantCancel: 1},
		{name: "running", before: []string{"initialize", "run"}, want: task.StateCancelled, wantCancel: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := testutil.NewFakeRuntime()
			m := newManager(t, rt)

			for _, a := range tt.before {
				dispatch(t, m, "job-1", a, "SD_1")
			}
			s := dispatch(t, m, "job-1", "cancel", "SD_1")
			if s.State != tt.want {
				t.Errorf("state = %s, want %s", s.State, tt.want)
			}
			if got := rt.Calls(testutil.OpCancel); got != tt.wantCancel {
				t.Errorf("runtime cancel calls = %d, want %d", got, tt.wantCancel)
			}
		})
	}
}

func TestTask_CancelSurvivesRuntimeError(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt)

	dispatch(t, m, "job-1", "initialize", "SD_1")
	dispatch(t, m, "job-1", "run")
	rt.SetError(testutil.OpCancel, errors.New("no such container"))

	assertStatus(t, dispatch(t, m, "job-1", "cancel"), task.StateCancelled, 50)
}

func TestTask_CompletedIgnoresCancel(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt)

	dispatch(t, m, "job-1", "initialize", "SD_1")
	dispatch(t, m, "job-1", "run")
	rt.Finish(rt.Created()[0].Handle, false)
	refresh(t, m, "job-1")

	assertStatus(t, dispatch(t, m, "job-1", "cancel"), task.StateCompleted, 80)
	if rt.Calls(testutil.OpCancel) != 0 {
		t.Error("completed task should not cancel its container")
	}
}

func TestTask_PublishErrorFails(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt, func(c *task.ManagerConfig) {
		c.Publisher = publisherFunc(func(context.Context, task.Status) error {
			return errors.New("indexing failed")
		})
	})

	dispatch(t, m, "job-1", "initialize", "SD_1")
	dispatch(t, m, "job-1", "run")
	rt.Finish(rt.Created()[0].Handle, false)
	refresh(t, m, "job-1")

	assertStatus(t, dispatch(t, m, "job-1", "publish"), task.StateFailed, 90)
}

func TestTask_RepeatedActionsAreIdempotent(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt)

	dispatch(t, m, "job-1", "initialize", "SD_1")
	assertStatus(t, dispatch(t, m, "job-1", "initialize", "SD_1"), task.StatePending, 10)
	if got := rt.Calls(testutil.OpCreate); got != 1 {
		t.Errorf("Create calls = %d, want 1", got)
	}

	dispatch(t, m, "job-1", "run")
	assertStatus(t, dispatch(t, m, "job-1", "run"), task.StateRunning, 50)
	if got := rt.Calls(testutil.OpStart); got != 1 {
		t.Errorf("Start calls = %d, want 1", got)
	}
}

func TestTask_SnapshotDoesNotPoll(t *testing.T) {
	t.Parallel()
	rt := testutil.NewFakeRuntime()
	m := newManager(t, rt)

	dispatch(t, m, "job-1", "initialize", "SD_1")
	dispatch(t, m, "job-1", "run")
	before := rt.Calls(testutil.OpComplete)

	tk, err := m.Task("job-1")
	if err != nil {
		t.Fatalf("Task() error = %v", err)
	}
	rt.Finish(tk.Handle(), false)
	if s := tk.Snapshot(); s.State != task.StateRunning {
		t.Errorf("Snapshot() state = %s, want RUNNING", s.State)
	}
	m.List()
	if got := rt.Calls(testutil.OpComplete); got != before {
		t.Errorf("IsComplete calls = %d, want %d", got, before)
	}

	if got := tk.State(context.Background()); got != task.StateCompleted {
		t.Errorf("State() = %s, want COMPLETED", got)
	}
}
