package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "threat-response-engine"

// Tracer wraps OpenTelemetry tracing for the response engine.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("tre.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for response engine tracing.
var (
	AttrActionID    = attribute.Key("tre.action.id")
	AttrIncidentID  = attribute.Key("tre.incident.id")
	AttrCommandID   = attribute.Key("tre.command.id")
	AttrCommandType = attribute.Key("tre.command.type")
	AttrMachineID   = attribute.Key("tre.machine.id")
	AttrMode        = attribute.Key("tre.mode")
)
