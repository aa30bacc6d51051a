package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Handler processes one event
type Handler func(event *Event)

// Bus is a synchronous in-process pub/sub bus. Handlers run on the emitting
// goroutine in subscription order; a panicking handler is recovered and
// logged so one listener cannot take down an engine run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit dispatches an event to all registered handlers
func (b *Bus) Emit(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(event, handler)
	}
}

func (b *Bus) dispatch(event *Event, handler Handler) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Str("module", event.Module).
				Interface("panic", p).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}
