package tui

import (
	"sync"

	"github.com/vovakirdan/netplay/internal/match"
)

// subscriberBuffer is how many snapshots a slow viewer may fall behind
// before its snapshots are dropped.
const subscriberBuffer = 64

// Hub fans one stream of snapshots out to every open dashboard.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan match.Stats
	nextID int
	closed bool
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan match.Stats)}
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. The channel is closed when either the hub or the
// subscription ends. Subscribing to a closed hub returns a closed channel.
func (h *Hub) Subscribe() (<-chan match.Stats, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan match.Stats, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	return ch, func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish sends st to every subscriber without blocking.
func (h *Hub) Publish(st match.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Forward publishes everything received on src and closes the hub once src
// is closed.
func (h *Hub) Forward(src <-chan match.Stats) {
	for st := range src {
		h.Publish(st)
	}
	h.Close()
}
