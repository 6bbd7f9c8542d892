package task

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
)

type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRevoked  State = "REVOKED"
	StateRetry    State = "RETRY"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

type EventType string

const (
	EventSent      EventType = "task-sent"
	EventReceived  EventType = "task-received"
	EventStarted   EventType = "task-started"
	EventProgress  EventType = "task-progress"
	EventSucceeded EventType = "task-succeeded"
	EventFailed    EventType = "task-failed"
	EventRejected  EventType = "task-rejected"
	EventRevoked   EventType = "task-revoked"
	EventRetried   EventType = "task-retried"

	// EventPeersApplied carries the peer set a successful job deployed.
	// It never changes the task state.
	EventPeersApplied EventType = "peers-applied"
)

var (
	ErrUnknownEvent      = errors.New("unknown task event")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrTaskNotFound      = errors.New("task not found")
	ErrQueueFull         = errors.New("task queue full")
)

var eventStates = map[EventType]State{
	EventSent:      StatePending,
	EventReceived:  StatePending,
	EventStarted:   StateStarted,
	EventProgress:  StateProgress,
	EventSucceeded: StateSuccess,
	EventFailed:    StateFailure,
	EventRejected:  StateFailure,
	EventRevoked:   StateRevoked,
	EventRetried:   StateRetry,
}

var transitions = map[State][]State{
	StatePending:  {StatePending, StateStarted, StateFailure, StateRevoked, StateRetry},
	StateStarted:  {StateProgress, StateSuccess, StateFailure, StateRevoked, StateRetry},
	StateProgress: {StateProgress, StateSuccess, StateFailure, StateRevoked, StateRetry},
	StateRetry:    {StatePending},
}

// Next resolves the state reached from current on ev. An empty current
// state is a task seen for the first time and behaves like PENDING.
func Next(current State, ev EventType) (State, error) {
	target, ok := eventStates[ev]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}
	from := current
	if from == "" {
		from = StatePending
	}
	if !slices.Contains(transitions[from], target) {
		return current, fmt.Errorf("%w: %s -> %s on %s", ErrInvalidTransition, from, target, ev)
	}
	return target, nil
}

// Event is a raw lifecycle event produced by the queue.
type Event struct {
	Type    EventType
	TaskID  string
	Name    string
	Output  string
	Error   string
	Attempt int
	// Peers is set on task-sent for jobs that deploy a peer set and on
	// peers-applied.
	Peers   []domain.PeerSpec
	Applies bool
	Time    time.Time
}

type Task struct {
	ID       string            `json:"uuid"`
	Name     string            `json:"name"`
	State    State             `json:"state"`
	Output   string            `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
	Attempts int               `json:"attempts"`
	Peers    []domain.PeerSpec `json:"-"`
	Applied  []domain.PeerSpec `json:"-"`
	Applies  bool              `json:"-"`
	Received time.Time         `json:"received"`
	Updated  time.Time         `json:"updated"`
}

// Result is the polled view: the failure reason replaces the output once a
// task failed.
func (t Task) Result() string {
	if t.State == StateFailure && t.Error != "" {
		return t.Error
	}
	return t.Output
}

// Notice is the payload broadcast for every accepted transition.
type Notice struct {
	UUID   string    `json:"uuid"`
	Name   string    `json:"name,omitempty"`
	State  State     `json:"state"`
	Output string    `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"timestamp"`
}
