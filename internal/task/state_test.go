package task

import (
	"errors"
	"testing"
)

func TestNextFollowsTransitionTable(t *testing.T) {
	steps := []struct {
		from State
		ev   EventType
		want State
	}{
		{"", EventSent, StatePending},
		{StatePending, EventReceived, StatePending},
		{StatePending, EventStarted, StateStarted},
		{StateStarted, EventProgress, StateProgress},
		{StateProgress, EventProgress, StateProgress},
		{StateProgress, EventSucceeded, StateSuccess},
		{StatePending, EventFailed, StateFailure},
		{StatePending, EventRejected, StateFailure},
		{StateProgress, EventRevoked, StateRevoked},
		{StateStarted, EventRetried, StateRetry},
		{StateRetry, EventSent, StatePending},
	}
	for _, step := range steps {
		got, err := Next(step.from, step.ev)
		if err != nil {
			t.Fatalf("%s on %s: expected no error, got %v", step.from, step.ev, err)
		}
		if got != step.want {
			t.Fatalf("%s on %s: expected %s, got %s", step.from, step.ev, step.want, got)
		}
	}
}

func TestNextRejectsLeavingTerminalStates(t *testing.T) {
	for _, from := range []State{StateSuccess, StateFailure, StateRevoked} {
		for ev := range eventStates {
			if _, err := Next(from, ev); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s on %s: expected ErrInvalidTransition, got %v", from, ev, err)
			}
		}
	}
}

func TestNextRejectsUnknownEvents(t *testing.T) {
	if _, err := Next(StatePending, "task-exploded"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestNextRejectsSkippingStart(t *testing.T) {
	if _, err := Next(StatePending, EventProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Next(StateRetry, EventStarted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
