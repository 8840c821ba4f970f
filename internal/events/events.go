// Package events provides small typed pub/sub primitives used to fan out
// telemetry samples, rep events and plan state changes to their consumers.
package events

import "sync"

// registry is the shared listener bookkeeping behind both event flavors.
// It remembers the last published value when replayLast is set so that a
// late subscriber immediately sees current state (telemetry, plan status).
type registry[T any] struct {
	mu         sync.RWMutex
	nextID     uint64
	replayLast bool
	last       *T
}

func (r *registry[T]) add() uint64 {
	r.nextID++
	return r.nextID - 1
}

// remember stores the value for replay. Must be called with mu held.
func (r *registry[T]) remember(value T) {
	if !r.replayLast {
		return
	}
	if r.last == nil {
		r.last = new(T)
	}
	*r.last = value
}

// replay returns a copy of the last value, if one should be replayed.
// Must be called with mu held.
func (r *registry[T]) replay() (T, bool) {
	var zero T
	if !r.replayLast || r.last == nil {
		return zero, false
	}
	return *r.last, true
}

// CallbackEvent fans a value out to registered callback functions.
type CallbackEvent[T any] struct {
	registry[T]
	listeners map[uint64]func(T)
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, a listener
// registered after the first Notify is invoked immediately with the last value.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	e := &CallbackEvent[T]{listeners: make(map[uint64]func(T))}
	e.replayLast = replayLast
	return e
}

// Listen registers a callback and returns its deregistration function.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("events: callback cannot be nil")
	}
	e.mu.Lock()
	id := e.add()
	e.listeners[id] = callback
	value, ok := e.replay()
	e.mu.Unlock()

	// Replay outside the lock so the callback may call back into the event.
	if ok {
		callback(value)
	}
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify invokes every registered callback with value, outside the lock.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.remember(value)
	snapshot := make([]func(T), 0, len(e.listeners))
	for _, callback := range e.listeners {
		snapshot = append(snapshot, callback)
	}
	e.mu.Unlock()

	for _, callback := range snapshot {
		callback(value)
	}
}

// ListenerCount returns the number of registered listeners.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// ChannelEvent fans a value out to registered channels. Sends never block:
// a full channel simply misses that notification, which is the right policy
// for state snapshots where only the latest value matters.
type ChannelEvent[T any] struct {
	registry[T]
	channels map[uint64]chan<- T
}

// NewChannelEvent creates a ChannelEvent. See NewCallbackEvent for replayLast.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	e := &ChannelEvent[T]{channels: make(map[uint64]chan<- T)}
	e.replayLast = replayLast
	return e
}

// Listen registers a channel and returns its deregistration function.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("events: channel cannot be nil")
	}
	e.mu.Lock()
	id := e.add()
	e.channels[id] = ch
	value, ok := e.replay()
	e.mu.Unlock()

	if ok {
		select {
		case ch <- value:
		default:
		}
	}
	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered channel without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.remember(value)
	snapshot := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		snapshot = append(snapshot, ch)
	}
	e.mu.Unlock()

	for _, ch := range snapshot {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
