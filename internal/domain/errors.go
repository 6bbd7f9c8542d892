package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAllocationExhausted = errors.New("address allocation exhausted")
	ErrPlaybookMissing     = errors.New("playbook does not exist")
	ErrPlaybookExecution   = errors.New("playbook execution failed")
)

// PlaybookMissingError is returned before any process is spawned.
type PlaybookMissingError struct {
	Path string
}

func (e *PlaybookMissingError) Error() string {
	return fmt.Sprintf("playbook %s does not exist", e.Path)
}

func (e *PlaybookMissingError) Is(target error) bool {
	return target == ErrPlaybookMissing
}

// PlaybookExecutionError carries the full combined output of a failed run.
type PlaybookExecutionError struct {
	Output   string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
}

func (e *PlaybookExecutionError) Error() string {
	if e.TimedOut {
		if e.Output == "" {
			return fmt.Sprintf("playbook timed out after %s", e.Timeout)
		}
		return fmt.Sprintf("playbook timed out after %s: %s", e.Timeout, e.Output)
	}
	if e.Output == "" {
		return fmt.Sprintf("playbook exited with code %d", e.ExitCode)
	}
	return e.Output
}

func (e *PlaybookExecutionError) Is(target error) bool {
	return target == ErrPlaybookExecution
}
