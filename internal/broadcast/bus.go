// Package broadcast decouples the request gateway, which rotates credentials
// below the normal session entry points, from components holding a cached
// view of the current token pair.
package broadcast

import (
	"sync"

	"github.com/mjuhola/sessionguard/internal/api"
)

// Update carries the outcome of a credential rotation. A nil Pair means the
// credentials were cleared (refresh failed or the session ended).
type Update struct {
	Pair *api.TokenPair
}

// Cleared reports whether this update signals a cleared credential state.
func (u Update) Cleared() bool { return u.Pair == nil }

// Handler receives credential updates. Handlers run synchronously on the
// publisher's goroutine and must not block for long or publish re-entrantly.
type Handler func(Update)

// Bus is a process-wide publish/subscribe channel for credential updates.
// Publish delivers to every current subscriber before returning, while
// holding the bus lock, so the effects of two publishes never interleave.
type Bus struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler for all future updates. The returned
// function removes the subscription.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers the update to every current subscriber, in subscription
// order, before the next publish can begin.
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := 0; id < b.nextID; id++ {
		if h, ok := b.handlers[id]; ok {
			h(u)
		}
	}
}
