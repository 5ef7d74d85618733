package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/nodeschema/runtime"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics:
// configuration compiles and reuses, resolver runs, failures and latency,
// and editor session activity.
type MetricsHandler struct {
	compiles         metric.Int64Counter
	reuses           metric.Int64Counter
	compileDuration  metric.Float64Histogram
	resolverRuns     metric.Int64Counter
	resolverFailures metric.Int64Counter
	resolverDuration metric.Float64Histogram
	sessionEdits     metric.Int64Counter
}

// NewMetricsHandler creates the instruments on meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	compiles, err := meter.Int64Counter("nodeschema.config.compiles",
		metric.WithDescription("Number of configurations compiled and published"),
	)
	if err != nil {
		return nil, err
	}
	reuses, err := meter.Int64Counter("nodeschema.config.reuses",
		metric.WithDescription("Number of loads answered by the published configuration"),
	)
	if err != nil {
		return nil, err
	}
	compileDur, err := meter.Float64Histogram("nodeschema.config.compile.duration",
		metric.WithDescription("Duration of configuration compilation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("nodeschema.resolver.runs",
		metric.WithDescription("Number of dynamic port resolver runs"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("nodeschema.resolver.failures",
		metric.WithDescription("Number of failed or unresolved dynamic port resolvers"),
	)
	if err != nil {
		return nil, err
	}
	resolveDur, err := meter.Float64Histogram("nodeschema.resolver.duration",
		metric.WithDescription("Duration of dynamic port resolution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	edits, err := meter.Int64Counter("nodeschema.session.edits",
		metric.WithDescription("Number of editor session mutations"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		compiles:         compiles,
		reuses:           reuses,
		compileDuration:  compileDur,
		resolverRuns:     runs,
		resolverFailures: failures,
		resolverDuration: resolveDur,
		sessionEdits:     edits,
	}, nil
}

// Handle records the metrics for one event. It implements
// runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventConfigCompiled:
		typeSafety, _ := e.Payload["type_safety"].(bool)
		attrs := metric.WithAttributes(
			attribute.Bool("type_safety", typeSafety),
			attribute.Bool("has_errors", payloadInt(e, "errors") > 0),
		)
		h.compiles.Add(ctx, 1, attrs)
		h.compileDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventConfigReused:
		h.reuses.Add(ctx, 1)
	case runtime.EventPortsResolved:
		attrs := resolverAttrs(e)
		h.resolverRuns.Add(ctx, 1, attrs)
		h.resolverDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventResolverFailed:
		attrs := resolverAttrs(e)
		h.resolverRuns.Add(ctx, 1, attrs)
		h.resolverDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
		h.resolverFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_type", e.NodeType),
			attribute.String("reason", "failed"),
		))
	case runtime.EventResolverUnresolved:
		h.resolverFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_type", e.NodeType),
			attribute.String("reason", "unresolved"),
		))
	case runtime.EventNodeAdded, runtime.EventNodeRemoved,
		runtime.EventValueChanged,
		runtime.EventConnectionAdded, runtime.EventConnectionRemoved:
		h.sessionEdits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind))))
	}
}

func resolverAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("node_type", e.NodeType),
		attribute.String("spec", payloadString(e, "spec")),
		attribute.String("side", payloadString(e, "side")),
	)
}
