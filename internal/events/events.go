// Package events provides the typed pub/sub bus that connects the crawler,
// the user workers and the lifecycle controller.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// AsyncEvent is a typed broadcast channel. Listeners run concurrently on
// each broadcast; a listener error or panic is logged and never stops the
// other listeners.
type AsyncEvent[T any] struct {
	mu        sync.RWMutex
	name      string
	nextID    uint64
	listeners map[uint64]func(context.Context, T) error
}

// New creates a named event. The name only appears in log lines.
func New[T any](name string) *AsyncEvent[T] {
	return &AsyncEvent[T]{
		name:      name,
		listeners: make(map[uint64]func(context.Context, T) error),
	}
}

// Listener is a registration handle.
type Listener[T any] struct {
	id    uint64
	event *AsyncEvent[T]
}

// Unregister removes the listener. Safe to call more than once.
func (l *Listener[T]) Unregister() {
	if l == nil || l.event == nil {
		return
	}
	l.event.mu.Lock()
	delete(l.event.listeners, l.id)
	l.event.mu.Unlock()
	l.event = nil
}

// On registers fn and returns its handle.
func (e *AsyncEvent[T]) On(fn func(context.Context, T) error) *Listener[T] {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	return &Listener[T]{id: id, event: e}
}

// Broadcast invokes every listener with payload and waits for all of them
// to finish. Listener failures are logged, never propagated.
func (e *AsyncEvent[T]) Broadcast(ctx context.Context, payload T) {
	e.mu.RLock()
	snapshot := make([]func(context.Context, T) error, 0, len(e.listeners))
	for _, fn := range e.listeners {
		snapshot = append(snapshot, fn)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, fn := range snapshot {
		wg.Add(1)
		go func(fn func(context.Context, T) error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("event", e.name).Msgf("Listener panic: %v", r)
				}
			}()
			if err := fn(ctx, payload); err != nil {
				log.Error().Err(err).Str("event", e.name).Msg("Listener failed")
			}
		}(fn)
	}
	wg.Wait()
}

// Len returns the number of registered listeners.
func (e *AsyncEvent[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

func (e *AsyncEvent[T]) String() string {
	return fmt.Sprintf("event(%s)", e.name)
}
