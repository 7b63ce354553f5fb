package observability

import (
	"context"
	"errors"

	"coordinator/internal/task"

	"go.opentelemetry.io/otel/metric"
)

// TaskCreated counts a newly registered task as active.
func (m *Metrics) TaskCreated(ctx context.Context, _ task.Status) {
	m.TasksTotal.Add(ctx, 1)
	m.TasksActive.Add(ctx, 1)
}

// TaskTransitioned records every applied transition. Reaching a terminal
// state ends the task's active period and records its duration.
func (m *Metrics) TaskTransitioned(ctx context.Context, tr task.Transition) {
	m.TaskTransitions.Add(ctx, 1, metric.WithAttributes(
		fromAttr(tr.From),
		toAttr(tr.To),
		eventAttr(tr.Event),
	))

	var rerr *task.RuntimeError
	if errors.As(tr.Cause, &rerr) {
		m.RuntimeErrorsTotal.Add(ctx, 1, metric.WithAttributes(opAttr(string(rerr.Op))))
	}

	if tr.To.Terminal() {
		m.TasksActive.Add(ctx, -1)
		m.TaskDuration.Record(ctx, tr.Age.Seconds(), metric.WithAttributes(toAttr(tr.To)))
	}
}

var _ task.Observer = (*Metrics)(nil)
