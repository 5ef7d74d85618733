// Package otel translates engine events into OpenTelemetry spans and metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/nodeschema/runtime"
)

// TracingHandler translates runtime events into spans. Every published
// configuration gets a long-lived root span that stays open until a newer
// configuration replaces it; each dynamic resolver run becomes a child span,
// and session edits are recorded as span events on the configuration span.
type TracingHandler struct {
	tracer trace.Tracer

	mu          sync.RWMutex
	configSpans map[string]trace.Span      // configID -> span
	configCtxs  map[string]context.Context // configID -> context (for child spans)
}

// NewTracingHandler creates a TracingHandler that starts spans with tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:      tracer,
		configSpans: make(map[string]trace.Span),
		configCtxs:  make(map[string]context.Context),
	}
}

// Handle processes one event. It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventConfigCompiled:
		h.handleCompiled(e)
	case runtime.EventPortsResolved, runtime.EventResolverFailed:
		h.handleResolve(e)
	case runtime.EventResolverUnresolved:
		h.handleUnresolved(e)
	case runtime.EventConfigReused,
		runtime.EventNodeAdded, runtime.EventNodeRemoved,
		runtime.EventValueChanged, runtime.EventNodeStatus,
		runtime.EventConnectionAdded, runtime.EventConnectionRemoved:
		h.addEvent(e)
	}
}

func (h *TracingHandler) handleCompiled(e runtime.Event) {
	hash := payloadString(e, "hash")
	name := "config:" + e.ConfigID
	if len(hash) >= 12 {
		name = "config:" + hash[:12]
	}

	start := e.Time.Add(-e.Elapsed)
	ctx, span := h.tracer.Start(context.Background(), name,
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("nodeschema.config_id", e.ConfigID),
			attribute.String("nodeschema.config_hash", hash),
			attribute.Int("nodeschema.port_types", payloadInt(e, "port_types")),
			attribute.Int("nodeschema.node_types", payloadInt(e, "node_types")),
			attribute.Int("nodeschema.errors", payloadInt(e, "errors")),
			attribute.Int("nodeschema.warnings", payloadInt(e, "warnings")),
		),
	)
	span.AddEvent("compiled", trace.WithTimestamp(e.Time))
	if payloadInt(e, "errors") > 0 {
		span.SetStatus(codes.Error, "configuration has errors")
	}

	h.mu.Lock()
	h.configSpans[e.ConfigID] = span
	h.configCtxs[e.ConfigID] = ctx
	h.mu.Unlock()

	if prev := payloadString(e, "previous_id"); prev != "" {
		h.endConfig(prev, e)
	}
}

func (h *TracingHandler) endConfig(configID string, replacedBy runtime.Event) {
	h.mu.Lock()
	span, ok := h.configSpans[configID]
	delete(h.configSpans, configID)
	delete(h.configCtxs, configID)
	h.mu.Unlock()

	if ok {
		span.SetAttributes(attribute.String("nodeschema.replaced_by", replacedBy.ConfigID))
		span.End(trace.WithTimestamp(replacedBy.Time))
	}
}

// handleResolve records a resolver run as a child span covering its
// elapsed time.
func (h *TracingHandler) handleResolve(e runtime.Event) {
	h.mu.RLock()
	parent, ok := h.configCtxs[e.ConfigID]
	h.mu.RUnlock()
	if !ok {
		parent = context.Background()
	}

	_, span := h.tracer.Start(parent, "resolve:"+e.NodeType,
		trace.WithTimestamp(e.Time.Add(-e.Elapsed)),
		trace.WithAttributes(
			attribute.String("nodeschema.config_id", e.ConfigID),
			attribute.String("nodeschema.node_id", e.NodeID),
			attribute.String("nodeschema.node_type", e.NodeType),
			attribute.String("nodeschema.side", payloadString(e, "side")),
			attribute.String("nodeschema.spec", payloadString(e, "spec")),
		),
	)
	if e.Kind == runtime.EventResolverFailed {
		msg := payloadString(e, "error")
		if msg == "" {
			msg = "resolver failed"
		}
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetAttributes(attribute.Int("nodeschema.ports", payloadInt(e, "ports")))
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleUnresolved(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.configSpans[e.ConfigID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	fn := payloadString(e, "function")
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.String("nodeschema.node_type", e.NodeType),
		attribute.String("nodeschema.function", fn),
	))
	span.RecordError(spanError("unresolved function "+fn), trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) addEvent(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.configSpans[e.ConfigID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("nodeschema.event_kind", string(e.Kind))}
	if e.NodeID != "" {
		attrs = append(attrs, attribute.String("nodeschema.node_id", e.NodeID))
	}
	if e.NodeType != "" {
		attrs = append(attrs, attribute.String("nodeschema.node_type", e.NodeType))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// ActiveSpanContext returns the span context of the configuration's root
// span, or an empty SpanContext when none is open.
func (h *TracingHandler) ActiveSpanContext(configID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.configSpans[configID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// Close ends every open configuration span.
func (h *TracingHandler) Close() {
	h.mu.Lock()
	spans := h.configSpans
	h.configSpans = make(map[string]trace.Span)
	h.configCtxs = make(map[string]context.Context)
	h.mu.Unlock()

	for _, span := range spans {
		span.End()
	}
}

func payloadString(e runtime.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

func payloadInt(e runtime.Event, key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

type spanError string

func (e spanError) Error() string { return string(e) }
