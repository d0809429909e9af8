package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "x402-sandbox"

// Tracer wraps OpenTelemetry tracing for the paid execution service.
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
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("x402sandbox.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for execution tracing.
var (
	AttrExecID     = attribute.Key("x402sandbox.execution.id")
	AttrTier       = attribute.Key("x402sandbox.tier")
	AttrPayer      = attribute.Key("x402sandbox.payer")
	AttrNetwork    = attribute.Key("x402sandbox.network")
	AttrCodeHash   = attribute.Key("x402sandbox.code_hash")
	AttrState      = attribute.Key("x402sandbox.state")
	AttrDurationMS = attribute.Key("x402sandbox.duration_ms")
)
