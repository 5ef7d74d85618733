package otel

import (
	"github.com/petal-labs/nodeschema/runtime"
)

// EnrichEmitter stamps events with the trace and span id of their
// configuration's root span. Events without an open span pass unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.TraceID == "" && e.ConfigID != "" {
			if sc := tracing.ActiveSpanContext(e.ConfigID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a runtime.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(next, tracing)
	}
}
