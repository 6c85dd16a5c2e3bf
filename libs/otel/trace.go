package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/estatecraft/agentdesk"

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceCarrier is the W3C trace context persisted next to rows that are
// published later, such as outbox events.
type TraceCarrier struct {
	Traceparent string
	Tracestate  string
}

func CaptureTrace(ctx context.Context) TraceCarrier {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceCarrier{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

// Restore returns ctx with the captured span context as remote parent.
func (c TraceCarrier) Restore(ctx context.Context) context.Context {
	if c.Traceparent == "" && c.Tracestate == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": c.Traceparent,
		"tracestate":  c.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
