package ports

import "encoding/json"

// EventHandler receives the raw payload of one named event.
type EventHandler func(payload json.RawMessage)

// EventChannel is the bidirectional, at-least-once message channel between
// client and server. Events for a given session are delivered to handlers in
// receipt order; the channel owns connection and reconnection mechanics.
type EventChannel interface {
	// Emit sends a named command. Loss after a transport failure is accepted;
	// commands are not retried individually.
	Emit(event string, payload interface{}) error

	// Subscribe registers a handler for a named event. Handlers for the same
	// event are invoked in registration order, one event at a time.
	Subscribe(event string, handler EventHandler)

	Close() error
}
