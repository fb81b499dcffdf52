// Package events provides the in-process event bus connecting the import
// pipeline to its reactive services (history, download tracking).
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Event is implemented by every message published on the bus.
type Event interface {
	EventType() string
}

// Handler reacts to a single event. Handlers are independent: none may
// assume another handler has already run for the same event.
type Handler func(ctx context.Context, e Event)

// Bus delivers events synchronously, in registration order, to every
// handler subscribed to the event's type. A panicking handler is recovered
// and logged so sibling handlers still run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers the event to all subscribed handlers before returning.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[e.EventType()]))
	copy(handlers, b.handlers[e.EventType()])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, e, h)
	}
}

func (b *Bus) deliver(ctx context.Context, e Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("eventType", e.EventType()).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(ctx, e)
}
