package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	DefaultMaxRetries = 3
	defaultCapacity   = 64
	eventBuffer       = 256
)

// Job is a unit of work for the apply executable. A non-nil Peers marks a
// job that deploys that exact peer set; a peers-applied event follows its
// success.
type Job struct {
	Name      string
	Playbook  string
	ExtraVars map[string]string
	Peers     []domain.PeerSpec
}

func (j Job) appliesPeers() bool {
	return j.Peers != nil
}

type Handle struct {
	ID string
}

type Runner interface {
	Execute(ctx context.Context, job Job, hooks Hooks) error
}

type QueueOptions struct {
	MaxRetries int
	Capacity   int
	NewBackOff func() backoff.BackOff
}

type queued struct {
	id      string
	job     Job
	revoked bool
}

// Queue runs jobs one at a time on a single worker and publishes their
// lifecycle on one ordered event stream.
type Queue struct {
	runner     Runner
	logger     *slog.Logger
	maxRetries int
	newBackOff func() backoff.BackOff

	jobs    chan *queued
	events  chan Event
	closing chan struct{}
	once    sync.Once

	mu      sync.Mutex
	pending map[string]*queued
	running map[string]context.CancelFunc
}

func NewQueue(runner Runner, logger *slog.Logger, opts QueueOptions) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     time.Second,
				RandomizationFactor: 0.2,
				Multiplier:          2,
				MaxInterval:         30 * time.Second,
				MaxElapsedTime:      0,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		}
	}
	return &Queue{
		runner:     runner,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		newBackOff: opts.NewBackOff,
		jobs:       make(chan *queued, opts.Capacity),
		events:     make(chan Event, eventBuffer),
		closing:    make(chan struct{}),
		pending:    make(map[string]*queued),
		running:    make(map[string]context.CancelFunc),
	}
}

func (q *Queue) Events() <-chan Event {
	return q.events
}

// Submit enqueues job without waiting for it to run.
func (q *Queue) Submit(job Job) (Handle, error) {
	if job.Name == "" {
		job.Name = job.Playbook
	}
	item := &queued{id: uuid.NewString(), job: job}

	q.mu.Lock()
	q.pending[item.id] = item
	q.mu.Unlock()

	q.emit(Event{Type: EventSent, TaskID: item.id, Name: job.Name, Peers: job.Peers, Applies: job.appliesPeers()})

	select {
	case q.jobs <- item:
		return Handle{ID: item.id}, nil
	default:
		q.mu.Lock()
		delete(q.pending, item.id)
		q.mu.Unlock()
		q.emit(Event{Type: EventRejected, TaskID: item.id, Error: ErrQueueFull.Error()})
		return Handle{ID: item.id}, ErrQueueFull
	}
}

// Revoke drops a queued job or kills a running one.
func (q *Queue) Revoke(id string) error {
	q.mu.Lock()
	if item, ok := q.pending[id]; ok {
		item.revoked = true
		delete(q.pending, id)
		q.mu.Unlock()
		q.emit(Event{Type: EventRevoked, TaskID: id, Error: "revoked before start"})
		return nil
	}
	cancel, ok := q.running[id]
	q.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	cancel()
	return nil
}

// Run is the single worker loop.
func (q *Queue) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		q.once.Do(func() { close(q.closing) })
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-q.jobs:
			q.process(ctx, item)
		}
	}
}

func (q *Queue) process(ctx context.Context, item *queued) {
	q.mu.Lock()
	delete(q.pending, item.id)
	if item.revoked {
		q.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.running[item.id] = cancel
	q.mu.Unlock()

	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.running, item.id)
		q.mu.Unlock()
	}()

	bo := q.newBackOff()
	bo.Reset()
	for attempt := 0; ; attempt++ {
		var last string
		err := q.execute(runCtx, item, Hooks{
			Started: func() {
				q.emit(Event{Type: EventStarted, TaskID: item.id, Attempt: attempt})
			},
			Progress: func(output string) {
				last = output
				q.emit(Event{Type: EventProgress, TaskID: item.id, Output: output})
			},
		})

		switch {
		case err == nil:
			q.emit(Event{Type: EventSucceeded, TaskID: item.id, Output: last})
			if item.job.appliesPeers() {
				q.emit(Event{Type: EventPeersApplied, TaskID: item.id, Peers: item.job.Peers})
			}
			return
		case runCtx.Err() != nil:
			q.emit(Event{Type: EventRevoked, TaskID: item.id, Error: revokeReason(ctx)})
			return
		case IsTransient(err) && attempt < q.maxRetries:
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				q.emit(Event{Type: EventFailed, TaskID: item.id, Error: err.Error()})
				return
			}
			q.logger.WarnContext(ctx, "playbook start failed, retrying", "task", item.id, "attempt", attempt+1, "delay", delay, "err", err.Error())
			q.emit(Event{Type: EventRetried, TaskID: item.id, Error: err.Error(), Attempt: attempt + 1})
			timer := time.NewTimer(delay)
			select {
			case <-runCtx.Done():
				timer.Stop()
				q.emit(Event{Type: EventRevoked, TaskID: item.id, Error: revokeReason(ctx)})
				return
			case <-timer.C:
			}
			q.emit(Event{Type: EventSent, TaskID: item.id, Attempt: attempt + 1})
		default:
			q.emit(Event{Type: EventFailed, TaskID: item.id, Error: err.Error()})
			return
		}
	}
}

// execute turns a runner panic into a terminal error so the task still
// settles and the worker keeps serving the queue.
func (q *Queue) execute(ctx context.Context, item *queued, hooks Hooks) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "playbook runner panicked", "task", item.id, "panic", fmt.Sprint(r))
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return q.runner.Execute(ctx, item.job, hooks)
}

func (q *Queue) emit(ev Event) {
	ev.Time = time.Now().UTC()
	select {
	case q.events <- ev:
	case <-q.closing:
		q.logger.Debug("task event dropped after shutdown", "task", ev.TaskID, "event", string(ev.Type))
	}
}

func revokeReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled by shutdown"
	}
	return "revoked"
}
