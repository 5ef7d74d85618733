package otel_test

import (
	"testing"

	nsotel "github.com/petal-labs/nodeschema/otel"
	"github.com/petal-labs/nodeschema/runtime"
)

func TestEnrichEmitter_StampsConfigSpan(t *testing.T) {
	_, tp := newTestTracer()
	h := nsotel.NewTracingHandler(tp.Tracer("test"))
	h.Handle(compiledEvent("cfg-1", "", epoch))
	defer h.Close()
	want := h.ActiveSpanContext("cfg-1")

	var got runtime.Event
	enriched := nsotel.EnrichEmitter(func(e runtime.Event) { got = e }, h)
	enriched(runtime.Event{Kind: runtime.EventNodeAdded, ConfigID: "cfg-1", NodeID: "n1"})

	if got.TraceID != want.TraceID().String() || got.SpanID != want.SpanID().String() {
		t.Errorf("trace/span = %s/%s, want %s/%s", got.TraceID, got.SpanID, want.TraceID(), want.SpanID())
	}
}

func TestEnrichEmitter_PassThrough(t *testing.T) {
	_, tp := newTestTracer()
	h := nsotel.NewTracingHandler(tp.Tracer("test"))

	tests := []struct {
		name  string
		event runtime.Event
		want  string
	}{
		{name: "no span", event: runtime.Event{Kind: runtime.EventNodeAdded, ConfigID: "cfg-1"}},
		{name: "no config", event: runtime.Event{Kind: runtime.EventNodeAdded}},
		{name: "already stamped", event: runtime.Event{Kind: runtime.EventNodeAdded, ConfigID: "cfg-1", TraceID: "keep"}, want: "keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got runtime.Event
			nsotel.EnrichEmitter(func(e runtime.Event) { got = e }, h)(tt.event)
			if got.TraceID != tt.want {
				t.Errorf("TraceID = %q, want %q", got.TraceID, tt.want)
			}
		})
	}
}

func TestDecorator_WrapsEngineEmitter(t *testing.T) {
	_, tp := newTestTracer()
	h := nsotel.NewTracingHandler(tp.Tracer("test"))
	defer h.Close()

	var stamped []runtime.Event
	e := runtime.NewEngine(runtime.EngineConfig{
		EventHandler: runtime.MultiEventHandler(h.Handle, func(ev runtime.Event) {
			stamped = append(stamped, ev)
		}),
		EventEmitterDecorator: nsotel.Decorator(h),
	})
	h.Handle(compiledEvent("cfg-1", "", epoch))
	e.Emit(runtime.NewEvent(runtime.EventNodeStatus, "cfg-1"))

	if len(stamped) != 1 || stamped[0].TraceID == "" {
		t.Errorf("events = %+v, want one stamped event", stamped)
	}
}
