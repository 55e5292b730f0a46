// Package connectivity produces the online/offline signal the mutation queue
// reacts to. The Hub is the source of truth; a Prober can feed it from a
// periodic server liveness check, and platform code (mobile shells get the
// signal from the OS) can feed it directly via Set.
package connectivity

import "sync"

// Monitor is the consumer-facing side of the connectivity signal.
type Monitor interface {
	// Subscribe registers fn to be called on every online/offline
	// transition. It returns an unsubscribe function. fn is not invoked
	// with the current state at subscription time; use Online for that.
	Subscribe(fn func(online bool)) (unsubscribe func())

	// Online reports the current state.
	Online() bool
}

// Hub is the canonical Monitor implementation. It starts offline and
// notifies subscribers only on transitions.
type Hub struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(bool))}
}

func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *Hub) Subscribe(fn func(online bool)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Set updates the state. Subscribers are notified outside the lock, in
// unspecified order, only when the state actually changed.
func (h *Hub) Set(online bool) {
	h.mu.Lock()
	if h.online == online {
		h.mu.Unlock()
		return
	}
	h.online = online
	fns := make([]func(bool), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}
