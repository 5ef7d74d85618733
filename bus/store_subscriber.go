package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/petal-labs/nodeschema/runtime"
)

// StoreSubscriber writes events to an EventStore. Its Handle method has
// runtime.EventHandler semantics, so it can be passed to an engine directly
// or fed from a bus subscription with Run.
type StoreSubscriber struct {
	store   EventStore
	logger  *slog.Logger
	timeout time.Duration
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Handle persists a single event. Failures are logged, never returned.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Append(ctx, event); err != nil {
		s.logger.Error("failed to persist event",
			"config_id", event.ConfigID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Run persists every event of sub until the subscription closes or ctx is
// done.
func (s *StoreSubscriber) Run(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
