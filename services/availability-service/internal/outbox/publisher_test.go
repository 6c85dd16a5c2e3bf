package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/estatecraft/agentdesk/libs/kafkax"
	otelx "github.com/estatecraft/agentdesk/libs/otel"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error { t.committed = true; return nil }

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeStore struct {
	tx        *fakeTx
	pending   []Record
	published []int64
	failed    map[int64]string
	cutoff    time.Time
}

func (s *fakeStore) Begin(context.Context) (pgx.Tx, error) {
	s.tx = &fakeTx{}
	return s.tx, nil
}

func (s *fakeStore) Claim(_ context.Context, _ pgx.Tx, limit, maxAttempts int) ([]Record, error) {
	var out []Record
	for _, r := range s.pending {
		if r.Attempts < maxAttempts && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordFailure(_ context.Context, ids []int64, cause string) error {
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	for _, id := range ids {
		s.failed[id] = cause
	}
	return nil
}

func (s *fakeStore) PrunePublished(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 3, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, _ pgx.Tx, ids []int64) error {
	s.published = append(s.published, ids...)
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishBatch(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	store := &fakeStore{pending: []Record{
		{
			ID: 1, EventID: "e-1", AggregateID: "b-1", EventType: EventBookingCreated, Payload: []byte(`{}`),
			Trace: otelx.TraceCarrier{Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		},
		{ID: 2, EventID: "e-2", AggregateID: "b-1", EventType: EventBookingCancelled, Payload: []byte(`{}`)},
		{ID: 3, EventID: "e-3", AggregateID: "b-2", EventType: EventBookingCreated, Payload: []byte(`{}`)},
	}}
	writer := &fakeWriter{}
	p := NewPublisher(store, writer, discard(), PublisherConfig{BatchSize: 2})

	n, err := p.PublishBatch(context.Background())
	if err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}
	if n != 2 || len(writer.msgs) != 2 {
		t.Fatalf("expected 2 messages, got n=%d msgs=%d", n, len(writer.msgs))
	}
	if !store.tx.committed {
		t.Fatal("expected commit")
	}
	if len(store.published) != 2 || store.published[0] != 1 || store.published[1] != 2 {
		t.Fatalf("unexpected published ids %v", store.published)
	}

	first := writer.msgs[0]
	if first.Topic != EventBookingCreated || string(first.Key) != "b-1" {
		t.Fatalf("unexpected message %+v", first)
	}
	if kafkax.HeaderValue(first.Headers, kafkax.HeaderEventID) != "e-1" {
		t.Fatalf("missing event id header %+v", first.Headers)
	}
	if tp := kafkax.HeaderValue(first.Headers, "traceparent"); tp == "" || tp[3:35] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace context not restored, traceparent=%q", tp)
	}
}

func TestPublishBatch_WriteFailureKeepsRowsPending(t *testing.T) {
	store := &fakeStore{pending: []Record{{ID: 7, EventID: "e-7", AggregateID: "b-7", EventType: EventBookingCreated}}}
	p := NewPublisher(store, &fakeWriter{err: errors.New("broker down")}, discard(), PublisherConfig{})

	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if len(store.published) != 0 {
		t.Fatalf("rows must stay pending, published %v", store.published)
	}
	if store.tx.committed || !store.tx.rolledBack {
		t.Fatal("expected rollback without commit")
	}
	if store.failed[7] != "broker down" {
		t.Fatalf("expected failure to be recorded, got %v", store.failed)
	}
}

func TestPublishBatch_SkipsParkedEvents(t *testing.T) {
	store := &fakeStore{pending: []Record{
		{ID: 1, EventID: "e-1", AggregateID: "b-1", EventType: EventBookingCreated, Attempts: 3},
		{ID: 2, EventID: "e-2", AggregateID: "b-2", EventType: EventBookingCreated},
	}}
	writer := &fakeWriter{}
	n, err := NewPublisher(store, writer, discard(), PublisherConfig{MaxAttempts: 3}).PublishBatch(context.Background())
	if err != nil || n != 1 || string(writer.msgs[0].Key) != "b-2" {
		t.Fatalf("expected only the deliverable event, got n=%d err=%v", n, err)
	}
}

func TestPrune(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, &fakeWriter{}, discard(), PublisherConfig{})
	now := time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.prune(context.Background())
	if !store.cutoff.IsZero() {
		t.Fatal("zero retention must keep published rows")
	}
	p.cfg.Retention = 72 * time.Hour
	p.prune(context.Background())
	if !store.cutoff.Equal(now.Add(-72 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", store.cutoff)
	}
}

func TestPublishBatch_Empty(t *testing.T) {
	store := &fakeStore{}
	writer := &fakeWriter{}
	n, err := NewPublisher(store, writer, discard(), PublisherConfig{}).PublishBatch(context.Background())
	if err != nil || n != 0 || len(writer.msgs) != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}

func TestRunWithoutWriterReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewPublisher(&fakeStore{}, nil, discard(), PublisherConfig{}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without a writer must return immediately")
	}
}

func TestNewBookingEvent(t *testing.T) {
	start := time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC)
	evt, err := NewBookingEvent(EventBookingCreated, BookingPayload{
		BookingID: "b-1", AgentID: "agent-1", StartTime: start, EndTime: start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("NewBookingEvent failed: %v", err)
	}
	if evt.AggregateType != AggregateBooking || evt.AggregateID != "b-1" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var got BookingPayload
	if err := json.Unmarshal(evt.Payload, &got); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if got.AgentID != "agent-1" || !got.StartTime.Equal(start) {
		t.Fatalf("unexpected payload %+v", got)
	}
}
