// Package runtime drives compiled configurations: it publishes compiled
// registries, calls dynamic port resolvers, and keeps the editor session
// (nodes, input values, connections) consistent with the resolved ports.
package runtime

import (
	"time"
)

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventConfigCompiled is emitted when a new configuration is published.
	EventConfigCompiled EventKind = "config.compiled"

	// EventConfigReused is emitted when a load finds an identical
	// configuration already published.
	EventConfigReused EventKind = "config.reused"

	// EventPortsResolved is emitted after a dynamic resolver ran.
	EventPortsResolved EventKind = "ports.resolved"

	// EventResolverFailed is emitted when a dynamic resolver returned an
	// error or panicked. The node falls back to zero dynamic ports.
	EventResolverFailed EventKind = "resolver.failed"

	// EventResolverUnresolved is emitted once per node type and name when a
	// named resolver is missing from the namespace.
	EventResolverUnresolved EventKind = "resolver.unresolved"

	// EventNodeAdded is emitted when a node is added to the session.
	EventNodeAdded EventKind = "node.added"

	// EventNodeRemoved is emitted when a node leaves the session.
	EventNodeRemoved EventKind = "node.removed"

	// EventValueChanged is emitted for every accepted control edit.
	EventValueChanged EventKind = "value.changed"

	// EventConnectionAdded is emitted when two ports are connected.
	EventConnectionAdded EventKind = "connection.added"

	// EventConnectionRemoved is emitted when a connection is removed,
	// explicitly or because one of its ports disappeared.
	EventConnectionRemoved EventKind = "connection.removed"

	// EventNodeStatus is emitted when the status overlay of a node changes.
	EventNodeStatus EventKind = "node.status"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened in the engine.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// ConfigID is the id of the compiled configuration the event belongs to.
	ConfigID string

	// NodeID is the session node involved (empty for configuration events).
	NodeID string

	// NodeType is the node type involved, if any.
	NodeType string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration of the operation that produced the event.
	Elapsed time.Duration

	// Payload contains event-specific data. Keep it small.
	Payload map[string]any

	// Seq is a monotonic sequence number per engine (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, configID string) Event {
	return Event{
		Kind:     kind,
		ConfigID: configID,
		Time:     time.Now(),
		Payload:  make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID, nodeType string) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as enriching events with trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runtime
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
