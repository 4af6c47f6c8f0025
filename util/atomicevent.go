package util

import (
	"sync"
)

// AtomicEvent holds a single, latest event and provides non-blocking
// updates. Only the most recent event is retained; senders never wait for
// the consumer. Used for restart requests and config reloads, where a
// newer event supersedes any unconsumed older one.
type AtomicEvent[T any] struct {
	mu     sync.Mutex    // Protects access to 'value'
	value  T             // The latest event
	notify chan struct{} // Buffered channel of size 1 for notification
}

// NewAtomicEvent creates a new AtomicEvent instance.
func NewAtomicEvent[T any]() *AtomicEvent[T] {
	return &AtomicEvent[T]{
		notify: make(chan struct{}, 1),
	}
}

// Send updates with the latest event. It is non-blocking.
func (ae *AtomicEvent[T]) Send(event T) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	ae.value = event

	select {
	case ae.notify <- struct{}{}:
	default:
		// A notification is already pending.
	}
}

// Channel returns the notification channel for use in select statements.
func (ae *AtomicEvent[T]) Channel() <-chan struct{} {
	return ae.notify
}

// Value returns the current latest event.
func (ae *AtomicEvent[T]) Value() T {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.value
}

// HasPending checks if a notification is waiting to be consumed.
// This is a non-destructive check.
func (ae *AtomicEvent[T]) HasPending() bool {
	return len(ae.notify) > 0
}

// AtomicMapEvent collects keyed events until a consumer drains them. Like
// AtomicEvent it never blocks the sender and keeps only the latest value
// per key. The TUI status pane consumes these in batches per redraw.
type AtomicMapEvent[T any] struct {
	mu     sync.Mutex
	value  map[string]T
	notify chan struct{}
}

// NewAtomicMapEvent creates a new AtomicMapEvent instance.
func NewAtomicMapEvent[T any]() *AtomicMapEvent[T] {
	return &AtomicMapEvent[T]{
		notify: make(chan struct{}, 1),
		value:  make(map[string]T),
	}
}

// Send updates the entry for key with the latest event. It is non-blocking.
func (ae *AtomicMapEvent[T]) Send(key string, event T) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	ae.value[key] = event

	select {
	case ae.notify <- struct{}{}:
	default:
		// A notification is already pending.
	}
}

// Channel returns the notification channel for use in select statements.
func (ae *AtomicMapEvent[T]) Channel() <-chan struct{} {
	return ae.notify
}

// ConsumeValues returns all pending events and resets the internal map, so
// every entry is handed to exactly one consumer. A pending notification is
// cleared as well.
func (ae *AtomicMapEvent[T]) ConsumeValues() map[string]T {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	ret := ae.value
	ae.value = make(map[string]T)

	select {
	case <-ae.notify:
	default:
	}
	return ret
}

// HasPending checks if a notification is waiting to be consumed.
// This is a non-destructive check.
func (ae *AtomicMapEvent[T]) HasPending() bool {
	return len(ae.notify) > 0
}
