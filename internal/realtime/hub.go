package realtime

import (
	"sync"

	"github.com/noah-isme/backend-tafel/internal/obs"
)

const defaultBuffer = 16

// Subscriber receives encoded events for one session over C. A subscriber
// that stops draining loses events rather than blocking the hub; dropped
// subscribers must refetch state anyway.
type Subscriber struct {
	SessionID string
	C         chan []byte

	hub  *Hub
	once sync.Once
}

// Close detaches the subscriber from the hub and closes its channel.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.C)
	})
}

// Hub fans session events out to subscribed connections. It is constructed
// per server instance and carries no global state, so tests can run
// independent hubs side by side.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: defaultBuffer,
	}
}

// Subscribe registers interest in one session id and returns the subscriber.
// Returns nil after the hub has been shut down.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &Subscriber{
		SessionID: sessionID,
		C:         make(chan []byte, h.buffer),
		hub:       h,
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Broadcast delivers the event to every subscriber of the session. Delivery
// is best effort: subscribers whose buffer is full are skipped, preserving
// per-subscriber FIFO for everything they do receive.
func (h *Hub) Broadcast(sessionID string, ev Event) {
	data, err := Encode(ev)
	if err != nil {
		return
	}
	if obs.BroadcastsTotal != nil {
		obs.BroadcastsTotal.WithLabelValues(ev.EventType()).Inc()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.C <- data:
		default:
		}
	}
}

// SubscriberCount reports how many connections follow the session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close detaches every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[*Subscriber]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() {
				close(sub.C)
			})
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.SessionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.SessionID)
	}
}
