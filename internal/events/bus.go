package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives events for a subscribed kind. Handlers run
// synchronously in the order of no particular guarantee; a failing
// handler never blocks delivery to the others.
type Handler func(Event)

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	kind Kind
	id   uint64
}

// DispatchError records a single handler failure during Emit.
type DispatchError struct {
	Kind      Kind
	HandlerID uint64
	Err       error
}

// Bus is a typed event bus with supervised dispatch. The zero value is
// not usable; create one with NewBus.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[Kind]map[uint64]Handler
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Kind]map[uint64]Handler),
	}
}

// On registers a handler for an event kind.
func (b *Bus) On(kind Kind, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	set, ok := b.handlers[kind]
	if !ok {
		set = make(map[uint64]Handler)
		b.handlers[kind] = set
	}
	set[id] = h

	return Subscription{kind: kind, id: id}
}

// Off removes a previously registered handler. Removing a handler that
// is already gone is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.handlers[sub.kind]
	if !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.handlers, sub.kind)
	}
}

// Emit delivers an event to every handler registered for its kind.
// Each handler runs under a supervised call: a panic is captured as a
// DispatchError instead of propagating, so one broken subscriber cannot
// prevent delivery to the rest. The aggregated failures are returned
// and logged.
func (b *Bus) Emit(ev Event) []DispatchError {
	b.mu.RLock()
	set := b.handlers[ev.Kind]
	snapshot := make(map[uint64]Handler, len(set))
	for id, h := range set {
		snapshot[id] = h
	}
	b.mu.RUnlock()

	var failures []DispatchError
	for id, h := range snapshot {
		if err := supervise(h, ev); err != nil {
			failures = append(failures, DispatchError{Kind: ev.Kind, HandlerID: id, Err: err})
			b.logger.Warn("event handler failed",
				"event", ev.Kind,
				"handler_id", id,
				"error", err,
			)
		}
	}
	return failures
}

// HandlerCount returns the number of handlers registered for a kind.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Reset removes all registered handlers.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Kind]map[uint64]Handler)
}

// supervise invokes a handler and converts a panic into an error.
func supervise(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	h(ev)
	return nil
}
