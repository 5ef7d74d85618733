package bus

import (
	"context"

	"github.com/petal-labs/nodeschema/runtime"
)

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runtime.Event) error

	// List returns the events of a configuration in sequence order.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, configID string, afterSeq uint64, limit int) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq stored for a configuration (0 if none).
	LatestSeq(ctx context.Context, configID string) (uint64, error)

	// ConfigIDs returns the configurations that have stored events, sorted.
	ConfigIDs(ctx context.Context) ([]string, error)
}
