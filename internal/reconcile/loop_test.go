package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Flarenzy/wg-ha/internal/broadcast"
	"github.com/Flarenzy/wg-ha/internal/db"
	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/reconcile"
	"github.com/Flarenzy/wg-ha/internal/task"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type stubRunner struct {
	mu   sync.Mutex
	jobs []task.Job
	fail error
}

func (r *stubRunner) Execute(_ context.Context, job task.Job, hooks task.Hooks) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail
	}
	if hooks.Started != nil {
		hooks.Started()
	}
	if hooks.Progress != nil {
		hooks.Progress("ok")
	}
	return nil
}

func (r *stubRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type stubRenderer struct {
	rendered [][]domain.Peer
}

func (r *stubRenderer) RenderPeers(peers []domain.Peer) error {
	r.rendered = append(r.rendered, peers)
	return nil
}

type harness struct {
	store    *db.Memory
	peers    domain.PeerService
	runner   *stubRunner
	renderer *stubRenderer
	bus      *broadcast.Broadcaster
	loop     *reconcile.Loop
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := db.NewMemory()
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	err = store.Settings().Save(ctx, domain.Settings{Server: domain.ServerConfig{
		Addresses:  []string{"10.0.255.1/24", "fdc9:281f:4d7:9ee9::255:1/112"},
		PrivateKey: key.String(),
		PublicKey:  key.PublicKey().String(),
		ListenPort: 51820,
	}})
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}

	bus := broadcast.NewBroadcaster(broadcast.NewRegistry(16), nil, broadcast.Stores{
		Peers:    store.Peers(),
		Users:    store.Users(),
		Applied:  store.Applied(),
		Settings: store.Settings(),
	})
	allocator := domain.NewAllocator(domain.DefaultAddressPlan(), store.Settings(), store.Peers())
	peers := domain.NewPeerService(store.Peers(), store.Applied(), store.Settings(), allocator, nil, bus)

	runner := &stubRunner{}
	queue := task.NewQueue(runner, nil, task.QueueOptions{})
	tracker := task.NewTracker(nil, bus)
	go func() { _ = queue.Run(ctx) }()
	go func() { _ = tracker.Run(ctx, queue.Events()) }()

	renderer := &stubRenderer{}
	loop := reconcile.NewLoop(reconcile.Config{Interval: 10 * time.Millisecond}, reconcile.Deps{
		Peers:     store.Peers(),
		Applied:   store.Applied(),
		Renderer:  renderer,
		Submitter: queue,
		Waiter:    tracker,
		Publisher: bus,
	}, nil)

	return harness{store: store, peers: peers, runner: runner, renderer: renderer, bus: bus, loop: loop}
}

func (h harness) createPeer(t *testing.T, owner string) domain.Peer {
	t.Helper()
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	peer, err := h.peers.CreatePeer(context.Background(), domain.Actor{ID: owner}, domain.CreatePeerInput{
		Title:     owner + "-laptop",
		PublicKey: key.PublicKey().String(),
	})
	if err != nil {
		t.Fatalf("create peer: %v", err)
	}
	return peer
}

func (h harness) step(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.loop.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
}

func snapshotMessages(sub *broadcast.Subscriber) []broadcast.Message {
	var out []broadcast.Message
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Topic == broadcast.TopicAppliedSnapshotChanged {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestNewPeerIsAppliedOnce(t *testing.T) {
	h := newHarness(t)
	alice := h.bus.Registry().Connect("alice", false)
	bob := h.bus.Registry().Connect("bob", false)
	admin := h.bus.Registry().Connect("root", true)

	peer := h.createPeer(t, "alice")
	if peer.AllowedIPs[0] != "10.0.0.1/32" {
		t.Fatalf("expected host 1, got %v", peer.AllowedIPs)
	}

	h.step(t)
	if h.runner.calls() != 1 {
		t.Fatalf("expected one apply task, got %d", h.runner.calls())
	}
	if got := h.runner.jobs[0].Peers; !domain.SameSpecs(got, []domain.PeerSpec{peer.Spec()}) {
		t.Fatalf("expected job to carry the accepted set, got %v", got)
	}

	applied, err := h.store.Applied().List(context.Background())
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if !domain.SameSpecs(applied, []domain.PeerSpec{peer.Spec()}) {
		t.Fatalf("expected snapshot {A}, got %v", applied)
	}

	if msgs := snapshotMessages(alice); len(msgs) != 1 || len(msgs[0].Payload.([]domain.PeerSpec)) != 1 {
		t.Fatalf("expected one snapshot message for alice, got %v", msgs)
	}
	if msgs := snapshotMessages(admin); len(msgs) != 1 {
		t.Fatalf("expected one snapshot message for admin, got %v", msgs)
	}
	if msgs := snapshotMessages(bob); len(msgs) != 0 {
		t.Fatalf("expected no snapshot message for bob, got %v", msgs)
	}

	h.step(t)
	if h.runner.calls() != 1 {
		t.Fatalf("expected no task once in sync, got %d", h.runner.calls())
	}
}

func TestTitleOnlyEditDoesNotApply(t *testing.T) {
	h := newHarness(t)
	peer := h.createPeer(t, "alice")
	h.step(t)

	title := "renamed"
	edited, err := h.peers.UpdatePeer(context.Background(), domain.Actor{ID: "alice"}, peer.ID, domain.UpdatePeerInput{Title: &title})
	if err != nil {
		t.Fatalf("update peer: %v", err)
	}
	if edited.Title != "renamed" {
		t.Fatalf("expected renamed peer, got %q", edited.Title)
	}

	h.step(t)
	if h.runner.calls() != 1 {
		t.Fatalf("expected no new task, got %d", h.runner.calls())
	}
}

func TestOwnerRenameUnderReviewKeepsPeerApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	settings, err := h.store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	settings.Review = true
	if err := h.store.Settings().Save(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	peer := h.createPeer(t, "alice")
	if peer.Status != domain.StatusPending {
		t.Fatalf("expected pending peer under review, got %s", peer.Status)
	}
	if _, err := h.peers.ReviewPeer(ctx, domain.Actor{ID: "root", Admin: true}, peer.ID, domain.ReviewPeerInput{Status: domain.StatusAccepted}); err != nil {
		t.Fatalf("review peer: %v", err)
	}
	h.step(t)
	if h.runner.calls() != 1 {
		t.Fatalf("expected one apply task, got %d", h.runner.calls())
	}

	title := "renamed"
	edited, err := h.peers.UpdatePeer(ctx, domain.Actor{ID: "alice"}, peer.ID, domain.UpdatePeerInput{Title: &title})
	if err != nil {
		t.Fatalf("update peer: %v", err)
	}
	if edited.Status != domain.StatusAccepted {
		t.Fatalf("expected title-only edit to keep ACCEPTED, got %s", edited.Status)
	}

	h.step(t)
	if h.runner.calls() != 1 {
		t.Fatalf("expected no new task, got %d", h.runner.calls())
	}
	applied, err := h.store.Applied().List(ctx)
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected peer to stay applied, got %v", applied)
	}

	tags := []string{"ops"}
	edited, err = h.peers.UpdatePeer(ctx, domain.Actor{ID: "alice"}, peer.ID, domain.UpdatePeerInput{Tags: tags})
	if err != nil {
		t.Fatalf("update peer tags: %v", err)
	}
	if edited.Status != domain.StatusPending {
		t.Fatalf("expected tag edit to need review again, got %s", edited.Status)
	}
}

func TestDeletedPeerSendsEmptyPartition(t *testing.T) {
	h := newHarness(t)
	peer := h.createPeer(t, "alice")
	h.step(t)

	alice := h.bus.Registry().Connect("alice", false)
	if err := h.peers.DeletePeer(context.Background(), domain.Actor{ID: "alice"}, peer.ID); err != nil {
		t.Fatalf("delete peer: %v", err)
	}
	h.step(t)

	msgs := snapshotMessages(alice)
	if len(msgs) != 1 {
		t.Fatalf("expected one snapshot message, got %v", msgs)
	}
	if got := msgs[0].Payload.([]domain.PeerSpec); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestFailedApplyKeepsSnapshotAndRetries(t *testing.T) {
	h := newHarness(t)
	h.runner.fail = &domain.PlaybookExecutionError{Output: "unreachable", ExitCode: 4}
	h.createPeer(t, "alice")

	h.step(t)
	applied, _ := h.store.Applied().List(context.Background())
	if len(applied) != 0 {
		t.Fatalf("expected snapshot untouched, got %v", applied)
	}

	h.runner.mu.Lock()
	h.runner.fail = nil
	h.runner.mu.Unlock()
	h.step(t)
	if h.runner.calls() != 2 {
		t.Fatalf("expected a second attempt, got %d", h.runner.calls())
	}
	applied, _ = h.store.Applied().List(context.Background())
	if len(applied) != 1 {
		t.Fatalf("expected snapshot updated, got %v", applied)
	}
}

func TestPendingPeerIsNotApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.Settings().Save(ctx, domain.Settings{Review: true, Server: domain.ServerConfig{
		Addresses: []string{"10.0.255.1/24", "fdc9:281f:4d7:9ee9::255:1/112"},
	}}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	peer := h.createPeer(t, "alice")
	if peer.Status != domain.StatusPending {
		t.Fatalf("expected pending peer, got %s", peer.Status)
	}
	h.step(t)
	if h.runner.calls() != 0 {
		t.Fatalf("expected no task for pending peers, got %d", h.runner.calls())
	}
}

func TestRunReconcilesUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.createPeer(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		applied, _ := h.store.Applied().List(context.Background())
		if len(applied) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.runner.calls() != 1 {
		t.Fatalf("expected exactly one apply task, got %d", h.runner.calls())
	}
	if len(h.renderer.rendered) != 1 {
		t.Fatalf("expected one render, got %d", len(h.renderer.rendered))
	}
}
