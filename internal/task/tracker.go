package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/observability"
)

const defaultHistory = 256

type record struct {
	task    Task
	done    chan struct{}
	settled bool
}

// Tracker folds the raw event stream into per-task state and forwards every
// accepted transition to administrators.
type Tracker struct {
	logger   *slog.Logger
	notifier domain.Notifier

	mu      sync.Mutex
	tasks   map[string]*record
	settled []string
	history int
}

func NewTracker(logger *slog.Logger, notifier domain.Notifier) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger,
		notifier: notifier,
		tasks:    make(map[string]*record),
		history:  defaultHistory,
	}
}

// Run consumes events until ctx is cancelled or the stream closes.
func (t *Tracker) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := t.Handle(ev); err != nil {
				t.logger.WarnContext(ctx, "task event rejected", "task", ev.TaskID, "event", string(ev.Type), "err", err.Error())
			}
		}
	}
}

func (t *Tracker) Handle(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Type == EventPeersApplied {
		return t.handleApplied(ev)
	}

	t.mu.Lock()
	rec := t.recordLocked(ev.TaskID)
	next, err := Next(rec.task.State, ev.Type)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("task %s: %w", ev.TaskID, err)
	}

	task := &rec.task
	if task.State == "" {
		task.Received = ev.Time
	}
	task.State = next
	task.Updated = ev.Time
	if ev.Name != "" {
		task.Name = ev.Name
	}
	switch ev.Type {
	case EventSent:
		if ev.Applies {
			task.Applies = true
			task.Peers = ev.Peers
		}
	case EventProgress:
		task.Output = ev.Output
	case EventSucceeded:
		if ev.Output != "" {
			task.Output = ev.Output
		}
	case EventFailed, EventRejected, EventRevoked:
		task.Error = ev.Error
	case EventRetried:
		task.Attempts++
		task.Error = ev.Error
	}
	if next.Terminal() && !(next == StateSuccess && task.Applies) {
		t.settleLocked(rec)
	}
	notice := Notice{
		UUID:   task.ID,
		Name:   task.Name,
		State:  task.State,
		Output: ev.Output,
		Error:  ev.Error,
		Time:   ev.Time,
	}
	t.mu.Unlock()

	observability.RecordTaskEvent(string(ev.Type))
	if next.Terminal() {
		observability.RecordTaskTerminal(string(next))
	}
	if t.notifier != nil {
		t.notifier.Emit(string(ev.Type), notice, domain.Scope{Admins: true})
	}
	return nil
}

func (t *Tracker) handleApplied(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.tasks[ev.TaskID]
	if !ok || rec.task.State != StateSuccess {
		return fmt.Errorf("task %s: %w: peers applied before success", ev.TaskID, ErrInvalidTransition)
	}
	if rec.settled {
		return fmt.Errorf("task %s: %w: peers already applied", ev.TaskID, ErrInvalidTransition)
	}
	rec.task.Applied = ev.Peers
	t.settleLocked(rec)
	return nil
}

// Status returns a snapshot of a task known to the tracker.
func (t *Tracker) Status(id string) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.tasks[id]
	if !ok || rec.task.State == "" {
		return Task{}, ErrTaskNotFound
	}
	return copyTask(rec.task), nil
}

// Wait blocks until the task settles: it reached a terminal state and, for a
// successful job carrying peers, the applied peer set was recorded.
func (t *Tracker) Wait(ctx context.Context, id string) (Task, error) {
	t.mu.Lock()
	rec := t.recordLocked(id)
	done := rec.done
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-done:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return copyTask(rec.task), nil
}

func (t *Tracker) recordLocked(id string) *record {
	rec, ok := t.tasks[id]
	if !ok {
		rec = &record{task: Task{ID: id}, done: make(chan struct{})}
		t.tasks[id] = rec
	}
	return rec
}

func (t *Tracker) settleLocked(rec *record) {
	if rec.settled {
		return
	}
	rec.settled = true
	close(rec.done)
	t.settled = append(t.settled, rec.task.ID)
	for len(t.settled) > t.history {
		delete(t.tasks, t.settled[0])
		t.settled = t.settled[1:]
	}
}

func copyTask(task Task) Task {
	task.Peers = slices.Clone(task.Peers)
	task.Applied = slices.Clone(task.Applied)
	return task
}
