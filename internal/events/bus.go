package events

import (
	"time"

	"github.com/kelindar/event"
	"github.com/smazurov/nodewatch/internal/coord"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(SessionClosedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic, so dispatch on the concrete type
	switch e := ev.(type) {
	case NodeContentChangedEvent:
		event.Publish(b.dispatcher, e)
	case DescendantsGrewEvent:
		event.Publish(b.dispatcher, e)
	case SessionClosedEvent:
		event.Publish(b.dispatcher, e)
	case ChildStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ChildLaunchFailedEvent:
		event.Publish(b.dispatcher, e)
	case CoordinationEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e SessionClosedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(NodeContentChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DescendantsGrewEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ChildStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ChildLaunchFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CoordinationEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// HandleEvent republishes a raw coordination event on the bus.
func (b *Bus) HandleEvent(ev coord.Event) {
	b.Publish(CoordinationEvent{
		EventType: ev.Type.String(),
		State:     ev.State.String(),
		Path:      ev.Path,
		Timestamp: Now(),
	})
}

// Now returns the current time in the timestamp format used by events.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
