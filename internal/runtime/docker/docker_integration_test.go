//go:build integration

package docker

import (
	"context"
	"testing"
	"time"

	"coordinator/internal/task"
	"coordinator/internal/testutil"
)

func newIntegrationRuntime(t *testing.T, env ...string) *Runtime {
	t.Helper()
	r, err := New(context.Background(), Config{
		Image:       "alpine:latest",
		PullImage:   true,
		StopTimeout: time.Second,
		Env:         env,
	})
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRuntime_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newIntegrationRuntime(t)

	m, err := task.NewManager(task.ManagerConfig{Runtime: r})
	if err != nil {
		t.Fatal(err)
	}

	for _, action := range []string{"initialize", "run"} {
		if _, err := m.Dispatch(ctx, task.Command{
			TaskID: "it-lifecycle", ReleaseID: "RE_IT", Action: action, StudyIDs: []string{"SD_1"},
		}); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", action, err)
		}
	}

	// The default alpine command exits immediately with status 0.
	testutil.MustWaitFor(t, func() bool {
		s, err := m.Status(ctx, "it-lifecycle")
		return err == nil && s.State != task.StateRunning
	}, testutil.WithTimeout(60*time.Second), testutil.WithInterval(500*time.Millisecond))

	s, _ := m.Status(ctx, "it-lifecycle")
	if s.State != task.StateCompleted {
		t.Errorf("state = %s, want COMPLETED", s.State)
	}
}

func TestRuntime_CancelStopsContainer(t *testing.T) {
	ctx := context.Background()
	r := newIntegrationRuntime(t)

	h, err := r.Create(ctx, []string{"SD_1"}, "RE_IT")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := r.Cancel(ctx, h); err != nil {
		t.Errorf("Cancel() on created container error = %v", err)
	}
	if _, err := r.IsComplete(ctx, h); err == nil {
		t.Error("expected unstarted container to be removed on cancel")
	}
	if err := r.Cancel(ctx, "does-not-exist"); err != nil {
		t.Errorf("Cancel() on missing container error = %v", err)
	}
}

func TestRuntime_InspectMissingContainer(t *testing.T) {
	r := newIntegrationRuntime(t)

	_, err := r.IsComplete(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected error for missing container")
	}
}

func TestRuntime_Ready(t *testing.T) {
	r := newIntegrationRuntime(t)
	if err := r.Ready(context.Background()); err != nil {
		t.Errorf("Ready() error = %v", err)
	}
}
