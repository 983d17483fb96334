// Package emitter provides a small typed broadcast primitive shared by the
// session store, connection monitor, and navigation guard.
package emitter

import "sync"

// Emitter fans a value out to registered listeners. Delivery is synchronous
// and fault-isolated: a panicking listener never prevents delivery to the
// others.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
}

// New creates an empty Emitter.
func New[T any]() *Emitter[T] {
	return &Emitter[T]{listeners: make(map[int]func(T))}
}

// Subscribe registers listener and returns a function that removes it.
// Registration alone does not invoke the listener; callers that want an
// immediate snapshot deliver it themselves before returning.
func (e *Emitter[T]) Subscribe(listener func(T)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Emit delivers value to every registered listener in turn.
func (e *Emitter[T]) Emit(value T) {
	e.mu.Lock()
	snapshot := make([]func(T), 0, len(e.listeners))
	for _, l := range e.listeners {
		snapshot = append(snapshot, l)
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		deliver(l, value)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func deliver[T any](listener func(T), value T) {
	defer func() {
		// A misbehaving consumer must not block delivery to the rest.
		_ = recover()
	}()
	listener(value)
}
