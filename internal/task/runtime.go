package task

import (
	"context"
	"fmt"
)

// Handle identifies the container provisioned for one task.
type Handle string

// Runtime is the container runtime that executes ETL jobs.
//
// Calls may block on external I/O. Cancel is best effort: an implementation
// may treat it as a no-op, and callers must not assume the container stops.
type Runtime interface {
	// Create provisions (but does not start) a container for the given
	// data-source ids and release.
	Create(ctx context.Context, studyIDs []string, releaseID string) (Handle, error)

	// Start begins execution of a created container.
	Start(ctx context.Context, h Handle) error

	// IsComplete reports, without blocking on the job, whether the container
	// has stopped running.
	IsComplete(ctx context.Context, h Handle) (bool, error)

	// FinishedWithErrors reports whether a completed container's exit status
	// indicates failure. Only meaningful after IsComplete returned true.
	FinishedWithErrors(ctx context.Context, h Handle) (bool, error)

	// Cancel asks the container to stop.
	Cancel(ctx context.Context, h Handle) error
}

// RuntimeOp names the runtime call that failed.
type RuntimeOp string

const (
	OpProvision RuntimeOp = "provision"
	OpExecute   RuntimeOp = "execute"
	OpInspect   RuntimeOp = "inspect"
	OpCancel    RuntimeOp = "cancel"
)

// RuntimeError is returned by Runtime implementations so failures can be told
// apart in logs and metrics. The task FSM treats every one of them as FAIL.
type RuntimeError struct {
	Op     RuntimeOp
	Handle Handle
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError wraps err as a failure of op on h.
func NewRuntimeError(op RuntimeOp, h Handle, err error) error {
	return &RuntimeError{Op: op, Handle: h, Err: err}
}
