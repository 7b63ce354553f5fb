package task

import (
	"context"
	"strings"
	"time"

	"coordinator/internal/apperrors"
)

// Action is an inbound command label.
type Action string

const (
	ActionInitialize Action = "initialize"
	ActionRun        Action = "run"
	ActionPublish    Action = "publish"
	ActionCancel     Action = "cancel"
)

// ParseAction maps a label onto one of the four lifecycle actions.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseAction(label string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(label))); a {
	case ActionInitialize, ActionRun, ActionPublish, ActionCancel:
		return a, nil
	}
	return "", apperrors.UnknownAction(label)
}

// Command is a request to apply an action to a task.
type Command struct {
	TaskID    string   `json:"task_id"`
	ReleaseID string   `json:"release_id"`
	Action    string   `json:"action"`
	StudyIDs  []string `json:"study_ids,omitempty"`

	// Credentials are forwarded untouched to collaborators that need
	// authorization (the release lookup). Never serialized.
	Credentials string `json:"-"`
}

// Status is the externally visible view of a task.
type Status struct {
	TaskID    string `json:"task_id"`
	ReleaseID string `json:"release_id"`
	State     State  `json:"state"`
	Progress  int    `json:"progress"`
}

// ListResponse represents the response for listing tasks.
type ListResponse struct {
	Tasks []Status `json:"tasks"`
}

// Transition describes one applied FSM transition.
type Transition struct {
	TaskID    string
	ReleaseID string
	From      State
	To        State
	Event     Event
	Progress  int
	At        time.Time
	Age       time.Duration // time since the task was created
	Cause     error         // why FAIL was raised, nil otherwise
}

// Observer is notified of task creation and every applied transition.
// Calls for one task arrive in transition order.
type Observer interface {
	TaskCreated(ctx context.Context, s Status)
	TaskTransitioned(ctx context.Context, tr Transition)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) TaskCreated(ctx context.Context, s Status) {
	for _, obs := range o {
		obs.TaskCreated(ctx, s)
	}
}

func (o Observers) TaskTransitioned(ctx context.Context, tr Transition) {
	for _, obs := range o {
		obs.TaskTransitioned(ctx, tr)
	}
}

// Publisher performs the publication work of a completed task.
type Publisher interface {
	Publish(ctx context.Context, s Status) error
}

// StudyResolver looks up the data-source ids that belong to a release.
type StudyResolver interface {
	ReleaseStudies(ctx context.Context, releaseID, credentials string) ([]string, error)
}
