package broadcast

import (
	"sync"

	"github.com/Flarenzy/wg-ha/internal/observability"
)

const DefaultBuffer = 64

// Message is one frame pushed to an observer.
type Message struct {
	Topic   string `json:"event"`
	Payload any    `json:"data"`
}

// Subscriber is a single observer connection.
type Subscriber struct {
	id      uint64
	OwnerID string
	Admin   bool
	ch      chan Message
}

func (s *Subscriber) Messages() <-chan Message {
	return s.ch
}

// Registry tracks connected observers. Connections of the same identity are
// tracked separately.
type Registry struct {
	mu     sync.RWMutex
	buffer int
	next   uint64
	subs   map[uint64]*Subscriber
}

func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Registry{buffer: buffer, subs: make(map[uint64]*Subscriber)}
}

func (r *Registry) Connect(ownerID string, admin bool) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	sub := &Subscriber{id: r.next, OwnerID: ownerID, Admin: admin, ch: make(chan Message, r.buffer)}
	r.subs[sub.id] = sub
	observability.SetObservers(len(r.subs))
	return sub
}

// Disconnect removes sub and closes its message channel. Calling it twice is safe.
func (r *Registry) Disconnect(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.id]; !ok {
		return
	}
	delete(r.subs, sub.id)
	close(sub.ch)
	observability.SetObservers(len(r.subs))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// each calls fn for every connection while holding the read lock, so no
// channel is closed underneath a send.
func (r *Registry) each(fn func(*Subscriber)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		fn(sub)
	}
}
