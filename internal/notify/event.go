// Package notify turns task lifecycle changes into CloudEvents delivered to a
// callback URL.
package notify

import (
	"slices"
	"strings"

	"coordinator/internal/task"
	"coordinator/pkg/cloudevent"
)

// Source is the CloudEvents source of every coordinator event.
const Source = "/coordinator"

// Event types. Transition events are named after the state reached.
const (
	EventTypePrefix  = "coordinator.task."
	EventTypePublish = EventTypePrefix + "publish"
)

// TransitionType returns the event type announcing that a task reached s.
func TransitionType(s task.State) string {
	return EventTypePrefix + strings.ToLower(string(s))
}

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// TransitionData is the payload of a transition event.
type TransitionData struct {
	TaskID    string     `json:"task_id"`
	ReleaseID string     `json:"release_id"`
	From      task.State `json:"from,omitempty"`
	To        task.State `json:"to"`
	Event     task.Event `json:"event,omitempty"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
}

// PublishData is the payload of the publication event.
type PublishData struct {
	TaskID    string `json:"task_id"`
	ReleaseID string `json:"release_id"`
	Progress  int    `json:"progress"`
}

func buildCreated(s task.Status) *cloudevent.CloudEvent {
	return cloudevent.New(TransitionType(s.State), Source, s.TaskID, TransitionData{
		TaskID:    s.TaskID,
		ReleaseID: s.ReleaseID,
		To:        s.State,
		Progress:  s.Progress,
	})
}

func buildTransition(tr task.Transition) *cloudevent.CloudEvent {
	data := TransitionData{
		TaskID:    tr.TaskID,
		ReleaseID: tr.ReleaseID,
		From:      tr.From,
		To:        tr.To,
		Event:     tr.Event,
		Progress:  tr.Progress,
	}
	if tr.Cause != nil {
		data.Error = tr.Cause.Error()
	}
	return cloudevent.New(TransitionType(tr.To), Source, tr.TaskID, data)
}

func buildPublish(s task.Status) *cloudevent.CloudEvent {
	return cloudevent.New(EventTypePublish, Source, s.TaskID, PublishData{
		TaskID:    s.TaskID,
		ReleaseID: s.ReleaseID,
		Progress:  s.Progress,
	})
}
