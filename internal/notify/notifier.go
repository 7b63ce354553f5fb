package notify

import (
	"context"
	"fmt"
	"log/slog"

	"coordinator/internal/config"
	"coordinator/internal/dispatcher"
	"coordinator/internal/task"
	"coordinator/pkg/cloudevent"
)

// Config names the callback destination.
type Config struct {
	URL        string
	SigningKey string
	Events     []string // event types to send, empty = all
}

// ConfigFrom maps the callback section of the service configuration.
func ConfigFrom(cc config.CallbackConfig) Config {
	return Config{URL: cc.URL, SigningKey: cc.Key, Events: cc.Events}
}

// Notifier sends task lifecycle events through a dispatcher. It is both a
// task.Observer (one event per transition) and a task.Publisher (the
// publication event of a completed task).
type Notifier struct {
	cfg        Config
	dispatcher dispatcher.Dispatcher
	logger     *slog.Logger
}

// New creates a notifier.
func New(cfg Config, d dispatcher.Dispatcher) *Notifier {
	return &Notifier{
		cfg:        cfg,
		dispatcher: d,
		logger:     slog.With("component", "notify"),
	}
}

// TaskCreated announces a new task.
func (n *Notifier) TaskCreated(_ context.Context, s task.Status) {
	n.send(buildCreated(s))
}

// TaskTransitioned announces an applied transition. Delivery problems are
// logged and never affect the task.
func (n *Notifier) TaskTransitioned(_ context.Context, tr task.Transition) {
	n.send(buildTransition(tr))
}

// Publish hands the publication event of a completed task to the
// dispatcher. The task fails if the event cannot be queued.
func (n *Notifier) Publish(_ context.Context, s task.Status) error {
	if err := n.dispatch(buildPublish(s)); err != nil {
		return fmt.Errorf("queue publish event: %w", err)
	}
	n.logger.Info("Publish event queued", "taskId", s.TaskID, "releaseId", s.ReleaseID)
	return nil
}

func (n *Notifier) send(ev *cloudevent.CloudEvent) {
	if !FilteredEvents(ev.Type, n.cfg.Events) {
		return
	}
	if err := n.dispatch(ev); err != nil {
		n.logger.Warn("Failed to queue event", "type", ev.Type, "taskId", ev.Subject, "error", err)
	}
}

func (n *Notifier) dispatch(ev *cloudevent.CloudEvent) error {
	return n.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     ev,
		Destination: n.cfg.URL,
		SigningKey:  n.cfg.SigningKey,
	})
}

var (
	_ task.Observer  = (*Notifier)(nil)
	_ task.Publisher = (*Notifier)(nil)
)
