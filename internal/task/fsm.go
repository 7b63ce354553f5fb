package task

// State is a task lifecycle state.
type State string

const (
	StateCreated    State = "CREATED"    // Registered, nothing provisioned yet
	StatePending    State = "PENDING"    // Container created, waiting for run
	StateRunning    State = "RUNNING"    // Container started
	StateCompleted  State = "COMPLETED"  // Container exited cleanly, waiting for publish
	StatePublishing State = "PUBLISHING" // Publication work in progress
	StatePublished  State = "PUBLISHED"  // Terminal
	StateFailed     State = "FAILED"     // Terminal
	StateCancelled  State = "CANCELLED"  // Terminal
)

// Event drives a transition.
type Event string

const (
	EventInitialize     Event = "INITIALIZE"
	EventRun            Event = "RUN"
	EventRunningDone    Event = "RUNNING_DONE"
	EventFail           Event = "FAIL"
	EventPublish        Event = "PUBLISH"
	EventPublishingDone Event = "PUBLISHING_DONE"
	EventCancel         Event = "CANCEL"
)

// transitions is the complete (state, event) -> state table. Terminal states
// have no row, so every event is refused once one is reached.
var transitions = map[State]map[Event]State{
	StateCreated: {
		EventInitialize: StatePending,
		EventFail:       StateFailed,
	},
	StatePending: {
		EventRun:    StateRunning,
		EventCancel: StateCancelled,
		EventFail:   StateFailed,
	},
	StateRunning: {
		EventRunningDone: StateCompleted,
		EventCancel:      StateCancelled,
		EventFail:        StateFailed,
	},
	StateCompleted: {
		EventPublish: StatePublishing,
		EventFail:    StateFailed,
	},
	StatePublishing: {
		EventPublishingDone: StatePublished,
		EventFail:           StateFailed,
	},
}

// progressByState is the coarse percent reported once a state is entered.
// FAILED and CANCELLED are absent: they keep whatever progress was reached.
var progressByState = map[State]int{
	StateCreated:    0,
	StatePending:    10,
	StateRunning:    50,
	StateCompleted:  80,
	StatePublishing: 90,
	StatePublished:  100,
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{
		StateCreated, StatePending, StateRunning, StateCompleted,
		StatePublishing, StatePublished, StateFailed, StateCancelled,
	}
}

// Events lists every event.
func Events() []Event {
	return []Event{
		EventInitialize, EventRun, EventRunningDone, EventFail,
		EventPublish, EventPublishingDone, EventCancel,
	}
}

// Next returns the state reached by applying ev in from, and whether the
// transition is defined.
func Next(from State, ev Event) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// Terminal reports whether no event can leave s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StatePending, StateRunning, StateCompleted,
		StatePublishing, StatePublished, StateFailed, StateCancelled:
		return true
	}
	return false
}
