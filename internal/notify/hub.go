// Package notify is a one-to-many change notification channel. A Hub
// carries no payload: observers are told that something changed and
// re-read the source themselves.
package notify

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
)

// Observer is notified after its source changed.
type Observer interface {
	Changed()
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func()

func (f ObserverFunc) Changed() { f() }

// Subscription identifies one attachment of an observer. The same
// observer attached twice gets two subscriptions and two deliveries.
type Subscription uuid.UUID

func (s Subscription) String() string { return uuid.UUID(s).String() }

// Hub is a registry of observers. The zero value is not usable; use
// NewHub.
type Hub struct {
	mu   sync.Mutex
	subs *linkedhashmap.Map // Subscription -> Observer, in attachment order
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: linkedhashmap.New()}
}

// Attach registers o and returns the handle to detach it with.
func (h *Hub) Attach(o Observer) Subscription {
	s := Subscription(uuid.New())
	h.mu.Lock()
	h.subs.Put(s, o)
	h.mu.Unlock()
	return s
}

// Detach removes the subscription. It reports false if s was not
// attached.
func (h *Hub) Detach(s Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs.Get(s); !ok {
		return false
	}
	h.subs.Remove(s)
	return true
}

// Len returns the number of attached observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs.Size()
}

// Notify synchronously delivers a change notification to every
// observer attached when the call started. The registry lock is not
// held during delivery, so observers may attach, detach or notify
// again from inside Changed.
func (h *Hub) Notify() {
	h.mu.Lock()
	values := h.subs.Values()
	h.mu.Unlock()

	for _, v := range values {
		v.(Observer).Changed()
	}
}
