// Package events provides a typed in-process event bus for stream
// lifecycle notifications. Consumers subscribe by handler signature; the
// polling surfaces (GetState/GetStats) remain the primary API and nothing
// in the pipeline depends on a subscriber being present.
package events

import (
	"github.com/kelindar/event"
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
// Usage: bus.Publish(StreamStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case StreamStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamErrorEvent:
		event.Publish(b.dispatcher, e)
	case StreamReconnectingEvent:
		event.Publish(b.dispatcher, e)
	case OutputStartedEvent:
		event.Publish(b.dispatcher, e)
	case OutputStoppedEvent:
		event.Publish(b.dispatcher, e)
	case SinkWriteErrorEvent:
		event.Publish(b.dispatcher, e)
	case StreamRegisteredEvent:
		event.Publish(b.dispatcher, e)
	case StreamDeregisteredEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e StreamStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StreamStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamReconnectingEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SinkWriteErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamRegisteredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamDeregisteredEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
