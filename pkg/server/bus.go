package server

import (
	"log/slog"
	"sync"

	"github.com/jklatt/parlor/pkg/protocol"
)

// Bus is the single broadcast topic every connection subscribes to.
// Publish is fire-and-forget: the event is serialized once and offered
// to each subscriber's outbound queue; a full or closed queue drops
// that one delivery without affecting the others.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Client]struct{}
	metrics *Metrics
}

// NewBus creates an empty broadcast bus.
func NewBus(m *Metrics) *Bus {
	return &Bus{subs: make(map[*Client]struct{}), metrics: m}
}

// Subscribe adds a connection to the topic.
func (b *Bus) Subscribe(c *Client) {
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()
}

// Unsubscribe removes a connection. Safe to call repeatedly.
func (b *Bus) Unsubscribe(c *Client) {
	b.mu.Lock()
	delete(b.subs, c)
	b.mu.Unlock()
}

// Subscribers returns the number of current subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers the event to every current subscriber, including the
// publisher itself if subscribed.
func (b *Bus) Publish(ev *protocol.Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.Error("publish marshal failed", "err", err)
		return
	}
	b.metrics.EventsPublished.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.subs {
		if !c.trySend(data) {
			b.metrics.EventsUndelivered.Add(1)
		}
	}
}
