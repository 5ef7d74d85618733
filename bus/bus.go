// Package bus distributes engine events to subscribers and persists them for
// replay. Events are grouped by the id of the compiled configuration they
// belong to, so a client following one configuration sees its compile
// event, every resolver run and every session edit in sequence order.
package bus

import (
	"slices"

	"github.com/petal-labs/nodeschema/runtime"
)

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for one configuration. When kinds
	// are given only those event kinds are delivered.
	Subscribe(configID string, kinds ...runtime.EventKind) Subscription

	// SubscribeAll registers a subscriber that receives every event.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runtime.Event

	// Dropped reports how many events were discarded because the
	// subscriber fell behind.
	Dropped() uint64

	// Close unsubscribes and releases resources.
	Close() error
}

// kindFilter matches every kind when empty.
type kindFilter []runtime.EventKind

func (f kindFilter) match(kind runtime.EventKind) bool {
	return len(f) == 0 || slices.Contains(f, kind)
}
