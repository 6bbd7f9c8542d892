package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/observability"
)

const (
	TopicPeers                  = "peers"
	TopicUsers                  = "users"
	TopicAppliedSnapshot        = "applied-snapshot"
	TopicSettings               = "settings"
	TopicAppliedSnapshotChanged = "applied-snapshot-changed"
)

// Stores holds the repositories read for the initial sync of a connection.
type Stores struct {
	Peers    domain.PeerRepository
	Users    domain.UserRepository
	Applied  domain.AppliedRepository
	Settings domain.SettingsRepository
}

// Broadcaster pushes events to connected observers.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	stores   Stores
}

func NewBroadcaster(registry *Registry, logger *slog.Logger, stores Stores) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger, stores: stores}
}

func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Emit delivers payload once to every connection of the identities in
// scope.To and, when scope.Admins is set, to every administrator connection.
// It returns the number of connections the message was queued for.
func (b *Broadcaster) Emit(topic string, payload any, scope domain.Scope) int {
	msg := Message{Topic: topic, Payload: payload}
	delivered := 0
	b.registry.each(func(sub *Subscriber) {
		if !(scope.Admins && sub.Admin) && !slices.Contains(scope.To, sub.OwnerID) {
			return
		}
		if b.send(sub, msg) {
			delivered++
		}
	})
	return delivered
}

// EmitPartitioned sends all to every administrator connection and
// byOwner[owner] to the connections of each listed owner. Every connection
// receives at most one message.
func (b *Broadcaster) EmitPartitioned(topic string, all any, byOwner map[string]any) int {
	delivered := 0
	b.registry.each(func(sub *Subscriber) {
		var payload any
		switch {
		case sub.Admin:
			payload = all
		default:
			p, ok := byOwner[sub.OwnerID]
			if !ok {
				return
			}
			payload = p
		}
		if b.send(sub, Message{Topic: topic, Payload: payload}) {
			delivered++
		}
	})
	return delivered
}

func (b *Broadcaster) send(sub *Subscriber, msg Message) bool {
	select {
	case sub.ch <- msg:
		observability.RecordBroadcast(msg.Topic)
		return true
	default:
		observability.RecordBroadcastDropped(msg.Topic)
		b.logger.Warn("observer buffer full, message dropped", "topic", msg.Topic, "owner", sub.OwnerID)
		return false
	}
}

// Sync builds the full-state messages a new connection receives first.
func (b *Broadcaster) Sync(ctx context.Context, sub *Subscriber) ([]Message, error) {
	var out []Message

	var (
		peers []domain.Peer
		err   error
	)
	if sub.Admin {
		peers, err = b.stores.Peers.List(ctx)
	} else {
		peers, err = b.stores.Peers.ListByOwner(ctx, sub.OwnerID)
	}
	if err != nil {
		return nil, fmt.Errorf("sync peers: %w", err)
	}
	out = append(out, Message{Topic: TopicPeers, Payload: nonNil(peers)})

	if sub.Admin && b.stores.Users != nil {
		users, err := b.stores.Users.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("sync users: %w", err)
		}
		out = append(out, Message{Topic: TopicUsers, Payload: nonNil(users)})
	}

	applied, err := b.stores.Applied.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync applied snapshot: %w", err)
	}
	if !sub.Admin {
		applied = domain.PartitionByOwner(applied)[sub.OwnerID]
	}
	out = append(out, Message{Topic: TopicAppliedSnapshot, Payload: nonNil(applied)})

	settings, err := b.stores.Settings.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("sync settings: %w", err)
	case sub.Admin:
		out = append(out, Message{Topic: TopicSettings, Payload: settings})
	default:
		out = append(out, Message{Topic: TopicSettings, Payload: settings.Public()})
	}
	return out, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
