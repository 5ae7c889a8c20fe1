// Package events provides the internal observer abstraction: callbacks
// registered by event name. Platform-level signals are translated into this
// model at the boundary, keeping the core platform-agnostic.
package events

import "sync"

// Event names published by the core components.
const (
	ReachabilityChanged = "reachability.changed"
	SyncStarted         = "sync.started"
	SyncProgress        = "sync.progress"
	SyncCompleted       = "sync.completed"
	AuthResult          = "auth.result"
)

// Handler consumes one published event payload.
type Handler func(payload any)

// Bus is a synchronous publish/subscribe registry keyed by event name.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers handler for the named event and returns a function
// that removes the registration.
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[event] == nil {
		b.subs[event] = make(map[int]Handler)
	}
	b.subs[event][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[event], id)
		b.mu.Unlock()
	}
}

// Publish delivers payload to every handler registered for event. Handlers
// run synchronously on the publishing goroutine, outside the bus lock.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event]))
	for _, h := range b.subs[event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
