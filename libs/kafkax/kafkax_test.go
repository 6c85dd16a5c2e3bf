package kafkax

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEventHeadersCarryTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := EventHeaders(ctx, "evt-1", "agentdesk.booking.created.v1")
	if HeaderValue(headers, HeaderEventID) != "evt-1" {
		t.Fatalf("missing event id header: %+v", headers)
	}
	if HeaderValue(headers, HeaderEventType) != "agentdesk.booking.created.v1" {
		t.Fatalf("missing event type header: %+v", headers)
	}
	if HeaderValue(headers, HeaderContentType) != "application/json" {
		t.Fatalf("missing content type header: %+v", headers)
	}
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("missing traceparent header: %+v", headers)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
