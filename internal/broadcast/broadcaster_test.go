package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Flarenzy/wg-ha/internal/db"
	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/gorilla/websocket"
)

func newTestBroadcaster(t *testing.T, buffer int) (*Broadcaster, *db.Memory) {
	t.Helper()
	store := db.NewMemory()
	b := NewBroadcaster(NewRegistry(buffer), nil, Stores{
		Peers:    store.Peers(),
		Users:    store.Users(),
		Applied:  store.Applied(),
		Settings: store.Settings(),
	})
	return b, store
}

func drain(sub *Subscriber) []Message {
	var out []Message
	for {
		select {
		case msg := <-sub.Messages():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestEmitDeliversOncePerConnection(t *testing.T) {
	b, _ := newTestBroadcaster(t, 4)
	reg := b.Registry()
	aliceTab1 := reg.Connect("alice", false)
	aliceTab2 := reg.Connect("alice", false)
	bob := reg.Connect("bob", false)
	admin := reg.Connect("root", true)
	adminOwner := reg.Connect("alice-admin", true)

	n := b.Emit("peer-added", "p", domain.Scope{To: []string{"alice", "alice-admin"}, Admins: true})
	if n != 4 {
		t.Fatalf("expected 4 deliveries, got %d", n)
	}
	for name, sub := range map[string]*Subscriber{"tab1": aliceTab1, "tab2": aliceTab2, "admin": admin, "admin-owner": adminOwner} {
		if got := drain(sub); len(got) != 1 {
			t.Fatalf("%s: expected one message, got %v", name, got)
		}
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("expected bob to receive nothing, got %v", got)
	}
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	b, _ := newTestBroadcaster(t, 1)
	sub := b.Registry().Connect("alice", false)

	if n := b.Emit("a", 1, domain.Scope{To: []string{"alice"}}); n != 1 {
		t.Fatalf("expected first message delivered, got %d", n)
	}
	if n := b.Emit("b", 2, domain.Scope{To: []string{"alice"}}); n != 0 {
		t.Fatalf("expected second message dropped, got %d", n)
	}
	got := drain(sub)
	if len(got) != 1 || got[0].Topic != "a" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestEmitPartitioned(t *testing.T) {
	b, _ := newTestBroadcaster(t, 4)
	reg := b.Registry()
	alice := reg.Connect("alice", false)
	bob := reg.Connect("bob", false)
	carol := reg.Connect("carol", false)
	admin := reg.Connect("alice", true)

	all := []domain.PeerSpec{{OwnerID: "alice", PublicKey: "a"}}
	byOwner := map[string]any{
		"alice": []domain.PeerSpec{{OwnerID: "alice", PublicKey: "a"}},
		"bob":   []domain.PeerSpec{},
	}
	if n := b.EmitPartitioned(TopicAppliedSnapshotChanged, all, byOwner); n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}

	if got := drain(alice); len(got) != 1 || len(got[0].Payload.([]domain.PeerSpec)) != 1 {
		t.Fatalf("unexpected alice messages: %v", got)
	}
	if got := drain(bob); len(got) != 1 || len(got[0].Payload.([]domain.PeerSpec)) != 0 {
		t.Fatalf("expected bob to get an empty list, got %v", got)
	}
	if got := drain(carol); len(got) != 0 {
		t.Fatalf("expected carol to receive nothing, got %v", got)
	}
	if got := drain(admin); len(got) != 1 {
		t.Fatalf("expected admin to receive exactly one message, got %v", got)
	}
}

func TestDisconnectClosesChannel(t *testing.T) {
	b, _ := newTestBroadcaster(t, 1)
	reg := b.Registry()
	sub := reg.Connect("alice", false)
	reg.Disconnect(sub)
	reg.Disconnect(sub)

	if _, ok := <-sub.Messages(); ok {
		t.Fatal("expected closed channel")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if n := b.Emit("x", nil, domain.Scope{To: []string{"alice"}}); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func seed(t *testing.T, store *db.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, spec := range []domain.PeerSpec{
		{OwnerID: "alice", PublicKey: "a", Status: domain.StatusAccepted},
		{OwnerID: "bob", PublicKey: "b", Status: domain.StatusAccepted},
	} {
		if _, err := store.Peers().Create(ctx, domain.Peer{Title: spec.OwnerID, PeerSpec: spec}); err != nil {
			t.Fatalf("create peer: %v", err)
		}
	}
	if err := store.Applied().Replace(ctx, []domain.PeerSpec{{OwnerID: "alice", PublicKey: "a"}, {OwnerID: "bob", PublicKey: "b"}}); err != nil {
		t.Fatalf("replace applied: %v", err)
	}
	if err := store.Settings().Save(ctx, domain.Settings{Server: domain.ServerConfig{PrivateKey: "secret", PublicKey: "pub"}}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
}

func TestSyncForOwner(t *testing.T) {
	b, store := newTestBroadcaster(t, 4)
	seed(t, store)
	sub := b.Registry().Connect("alice", false)

	msgs, err := b.Sync(context.Background(), sub)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		topics = append(topics, msg.Topic)
	}
	if strings.Join(topics, ",") != "peers,applied-snapshot,settings" {
		t.Fatalf("unexpected topics: %v", topics)
	}
	if peers := msgs[0].Payload.([]domain.Peer); len(peers) != 1 || peers[0].OwnerID != "alice" {
		t.Fatalf("expected only alice's peers, got %v", peers)
	}
	if applied := msgs[1].Payload.([]domain.PeerSpec); len(applied) != 1 {
		t.Fatalf("expected own applied partition, got %v", applied)
	}
	if settings := msgs[2].Payload.(domain.Settings); settings.Server.PrivateKey != "" {
		t.Fatal("expected private key hidden from non-admins")
	}
}

func TestSyncForAdmin(t *testing.T) {
	b, store := newTestBroadcaster(t, 4)
	seed(t, store)
	sub := b.Registry().Connect("root", true)

	msgs, err := b.Sync(context.Background(), sub)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(msgs) != 4 || msgs[1].Topic != TopicUsers {
		t.Fatalf("unexpected messages: %v", msgs)
	}
	if peers := msgs[0].Payload.([]domain.Peer); len(peers) != 2 {
		t.Fatalf("expected all peers, got %v", peers)
	}
	if settings := msgs[3].Payload.(domain.Settings); settings.Server.PrivateKey != "secret" {
		t.Fatal("expected full settings for admins")
	}
}

func TestServeStreamsSyncThenEvents(t *testing.T) {
	b, store := newTestBroadcaster(t, 4)
	seed(t, store)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = b.Serve(w, r, "alice", false)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame struct {
		Event string `json:"event"`
	}
	for _, want := range []string{TopicPeers, TopicAppliedSnapshot, TopicSettings} {
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		if frame.Event != want {
			t.Fatalf("expected %s, got %s", want, frame.Event)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for b.Registry().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.Emit(domain.TopicPeerEdited, map[string]string{"id": "x"}, domain.Scope{To: []string{"alice"}})
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if frame.Event != domain.TopicPeerEdited {
		t.Fatalf("expected %s, got %s", domain.TopicPeerEdited, frame.Event)
	}
}
