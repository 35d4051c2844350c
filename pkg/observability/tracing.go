package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// OtelTracer is a Tracer on the global otel tracer provider. Span export is
// configured by the embedding process; with no provider installed the spans
// are no-ops.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer scoped to the given instrumentation name.
func NewTracer(name string) Tracer {
	return &OtelTracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a span and returns the derived context and an end func.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// NoopTracer returns contexts unchanged.
type NoopTracer struct{}

// NewNoopTracer creates a NoopTracer.
func NewNoopTracer() Tracer { return &NoopTracer{} }

// StartSpan implements Tracer.
func (NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}
