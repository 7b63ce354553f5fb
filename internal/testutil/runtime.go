package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"coordinator/internal/task"
)

// Runtime ops understood by FakeRuntime.SetError and FakeRuntime.Calls.
const (
	OpCreate   = "create"
	OpStart    = "start"
	OpComplete = "complete"
	OpFinished = "finished"
	OpCancel   = "cancel"
)

// CreateCall records the arguments of one Create.
type CreateCall struct {
	Handle  task.Handle
	Studies []string
	Release string
}

// FakeRuntime is an in-memory task.Runtime. Containers never finish on their
// own; tests call Finish to simulate an exit.
type FakeRuntime struct {
	mu       sync.Mutex
	seq      int
	errs     map[string]error
	calls    map[string]int
	created  []CreateCall
	started  map[task.Handle]bool
	finished map[task.Handle]bool
	failed   map[task.Handle]bool
	delay    time.Duration
}

// NewFakeRuntime returns a runtime where every call succeeds.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		started:  make(map[task.Handle]bool),
		finished: make(map[task.Handle]bool),
		failed:   make(map[task.Handle]bool),
	}
}

// SetError makes every subsequent call of op fail with err (nil clears it).
func (f *FakeRuntime) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

// SetDelay makes every call block for d before answering.
func (f *FakeRuntime) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Finish marks the container as exited, cleanly or with errors.
func (f *FakeRuntime) Finish(h task.Handle, withErrors bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[h] = true
	f.failed[h] = withErrors
}

// Calls returns how many times op was invoked.
func (f *FakeRuntime) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Created returns every successful Create.
func (f *FakeRuntime) Created() []CreateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

// Started reports whether Start succeeded for h.
func (f *FakeRuntime) Started(h task.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[h]
}

func (f *FakeRuntime) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err, delay := f.errs[op], f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *FakeRuntime) Create(_ context.Context, studyIDs []string, releaseID string) (task.Handle, error) {
	if err := f.enter(OpCreate); err != nil {
		return "", task.NewRuntimeError(task.OpProvision, "", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	h := task.Handle(fmt.Sprintf("container-%d", f.seq))
	f.created = append(f.created, CreateCall{Handle: h, Studies: slices.Clone(studyIDs), Release: releaseID})
	return h, nil
}

func (f *FakeRuntime) Start(_ context.Context, h task.Handle) error {
	if err := f.enter(OpStart); err != nil {
		return task.NewRuntimeError(task.OpExecute, h, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[h] = true
	return nil
}

func (f *FakeRuntime) IsComplete(_ context.Context, h task.Handle) (bool, error) {
	if err := f.enter(OpComplete); err != nil {
		return false, task.NewRuntimeError(task.OpInspect, h, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[h], nil
}

func (f *FakeRuntime) FinishedWithErrors(_ context.Context, h task.Handle) (bool, error) {
	if err := f.enter(OpFinished); err != nil {
		return false, task.NewRuntimeError(task.OpInspect, h, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[h], nil
}

func (f *FakeRuntime) Cancel(_ context.Context, h task.Handle) error {
	if err := f.enter(OpCancel); err != nil {
		return task.NewRuntimeError(task.OpCancel, h, err)
	}
	return nil
}

var _ task.Runtime = (*FakeRuntime)(nil)
