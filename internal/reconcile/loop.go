package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/broadcast"
	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/observability"
	"github.com/Flarenzy/wg-ha/internal/task"
)

const (
	DefaultInterval = time.Second
	DefaultPlaybook = "apply-config.yml"
	applyTaskName   = "apply-config"
)

type Submitter interface {
	Submit(job task.Job) (task.Handle, error)
}

type Waiter interface {
	Wait(ctx context.Context, id string) (task.Task, error)
}

type Renderer interface {
	RenderPeers(peers []domain.Peer) error
}

type Publisher interface {
	EmitPartitioned(topic string, all any, byOwner map[string]any) int
}

type Config struct {
	Interval  time.Duration
	Playbook  string
	ExtraVars map[string]string
}

type Deps struct {
	Peers     domain.PeerRepository
	Applied   domain.AppliedRepository
	Renderer  Renderer
	Submitter Submitter
	Waiter    Waiter
	Publisher Publisher
}

// Loop keeps the deployed peer set in line with the accepted peers. At most
// one apply task is in flight; drift is evaluated again only after it settled.
type Loop struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu          sync.Mutex
	outstanding string
}

func NewLoop(cfg Config, deps Deps, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Playbook == "" {
		cfg.Playbook = DefaultPlaybook
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, deps: deps, logger: logger}
}

// Run ticks until ctx is cancelled. A failing iteration is logged and the
// next tick tries again.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.safeStep(ctx); err != nil && ctx.Err() == nil {
				observability.RecordReconcile("error")
				l.logger.ErrorContext(ctx, "reconcile iteration failed", "err", err.Error())
			}
		}
	}
}

func (l *Loop) safeStep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile panic: %v", r)
		}
	}()
	return l.Step(ctx)
}

// Step runs one iteration: settle the outstanding task if there is one,
// otherwise submit an apply task when the accepted peers drifted from the
// applied snapshot and wait for it.
func (l *Loop) Step(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.outstanding == "" {
		submitted, err := l.detect(ctx)
		if err != nil || !submitted {
			return err
		}
	}
	return l.settle(ctx)
}

func (l *Loop) detect(ctx context.Context) (bool, error) {
	accepted, err := l.deps.Peers.ListByStatus(ctx, domain.StatusAccepted)
	if err != nil {
		return false, fmt.Errorf("list accepted peers: %w", err)
	}
	applied, err := l.deps.Applied.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list applied peers: %w", err)
	}
	if !domain.NeedsApply(accepted, applied) {
		observability.RecordReconcile("in_sync")
		return false, nil
	}

	if err := l.deps.Renderer.RenderPeers(accepted); err != nil {
		return false, fmt.Errorf("render peers: %w", err)
	}
	handle, err := l.deps.Submitter.Submit(task.Job{
		Name:      applyTaskName,
		Playbook:  l.cfg.Playbook,
		ExtraVars: l.cfg.ExtraVars,
		Peers:     domain.Strip(accepted),
	})
	if err != nil {
		return false, fmt.Errorf("submit apply task: %w", err)
	}
	l.outstanding = handle.ID
	observability.RecordReconcile("submitted")
	l.logger.InfoContext(ctx, "apply task submitted", "task", handle.ID, "peers", len(accepted))
	return true, nil
}

func (l *Loop) settle(ctx context.Context) error {
	id := l.outstanding
	t, err := l.deps.Waiter.Wait(ctx, id)
	if err != nil {
		return fmt.Errorf("wait for task %s: %w", id, err)
	}
	l.outstanding = ""

	switch t.State {
	case task.StateSuccess:
	case task.StateFailure, task.StateRevoked:
		observability.RecordReconcile("apply_failed")
		l.logger.WarnContext(ctx, "apply task did not succeed, snapshot kept", "task", id, "state", string(t.State), "error", t.Error)
		return nil
	default:
		return fmt.Errorf("task %s settled in unexpected state %s", id, t.State)
	}

	previous, err := l.deps.Applied.List(ctx)
	if err != nil {
		return fmt.Errorf("list applied peers: %w", err)
	}
	next := t.Applied
	if next == nil {
		next = []domain.PeerSpec{}
	}
	if err := l.deps.Applied.Replace(ctx, next); err != nil {
		return fmt.Errorf("replace applied snapshot: %w", err)
	}
	observability.RecordReconcile("applied")
	l.logger.InfoContext(ctx, "applied snapshot updated", "task", id, "peers", len(next))

	l.publish(previous, next)
	return nil
}

// publish sends the new snapshot to administrators in full and to every
// owner present before or after the apply, restricted to their own peers.
func (l *Loop) publish(previous, next []domain.PeerSpec) {
	if l.deps.Publisher == nil {
		return
	}
	partitions := domain.PartitionByOwner(next)
	byOwner := make(map[string]any)
	for _, spec := range previous {
		byOwner[spec.OwnerID] = []domain.PeerSpec{}
	}
	for _, spec := range next {
		byOwner[spec.OwnerID] = partitions[spec.OwnerID]
	}
	l.deps.Publisher.EmitPartitioned(broadcast.TopicAppliedSnapshotChanged, next, byOwner)
}
