package runtime

import "context"

type emitterKey struct{}

// WithEmitter attaches a call-scoped event emitter to ctx. Engine operations
// taking ctx deliver their events to it in addition to the engine's own
// handlers.
func WithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFrom returns the emitter attached to ctx, or a no-op.
func EmitterFrom(ctx context.Context) EventEmitter {
	if ctx != nil {
		if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok {
			return emit
		}
	}
	return func(Event) {}
}
