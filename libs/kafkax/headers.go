package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	HeaderEventID     = "event_id"
	HeaderEventType   = "event_type"
	HeaderContentType = "content_type"
)

// headers adapts a kafka header list to propagation.TextMapCarrier.
type headers []kafka.Header

func (h headers) Get(key string) string { return HeaderValue(h, key) }

func (h headers) Keys() []string {
	keys := make([]string, len(h))
	for i, kv := range h {
		keys[i] = kv.Key
	}
	return keys
}

func (h *headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

// EventHeaders tags a JSON event with its id and type, then injects the
// W3C trace context found in ctx.
func EventHeaders(ctx context.Context, eventID, eventType string) []kafka.Header {
	h := headers{
		{Key: HeaderEventID, Value: []byte(eventID)},
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderContentType, Value: []byte("application/json")},
	}
	otel.GetTextMapPropagator().Inject(ctx, &h)
	return h
}

func HeaderValue(list []kafka.Header, key string) string {
	for _, kv := range list {
		if kv.Key == key {
			return string(kv.Value)
		}
	}
	return ""
}
