// Package broadcast fans events out to live websocket subscribers. Delivery
// is best effort at every hop: a slow subscriber loses frames instead of
// holding up the others.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/john/streamtap/internal/metrics"
)

// DefaultOutQueue is the per-subscriber frame backlog
const DefaultOutQueue = 256

// Subscriber is one live connection's outbound queue
type Subscriber struct {
	ID  string
	Out chan []byte // Closed by the hub on removal
}

// Hub tracks subscribers
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscriber
	queue   int
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. outQueue <= 0 selects DefaultOutQueue.
func NewHub(m *metrics.Metrics, outQueue int) *Hub {
	if outQueue <= 0 {
		outQueue = DefaultOutQueue
	}
	return &Hub{subs: make(map[string]*Subscriber), queue: outQueue, metrics: m}
}

// Subscribe registers a new subscriber with a fresh id
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ID: uuid.NewString(), Out: make(chan []byte, h.queue)}
	h.mu.Lock()
	h.subs[s.ID] = s
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.Subscribers.Set(float64(n))
	return s
}

// Unsubscribe removes a subscriber and closes its queue. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(s.Out)
	}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.Subscribers.Set(float64(n))
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish offers frame to every subscriber without blocking and returns how
// many accepted it.
func (h *Hub) Publish(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, s := range h.subs {
		select {
		case s.Out <- frame:
			delivered++
		default:
			h.metrics.SubscriberDropped.Inc()
		}
	}
	return delivered
}

// CloseAll removes every subscriber, which ends their write loops
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.Out)
	}
	h.mu.Unlock()
	h.metrics.Subscribers.Set(0)
}
