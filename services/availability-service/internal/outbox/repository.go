package outbox

import (
	"context"
	"time"

	"github.com/estatecraft/agentdesk/libs/db"
	otelx "github.com/estatecraft/agentdesk/libs/otel"
	"github.com/jackc/pgx/v5"
)

// Record is a claimed outbox row.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Trace         otelx.TraceCarrier
	Attempts      int
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert writes evt in the caller's transaction so the event commits or
// rolls back with the booking change it describes. The active span is
// saved alongside for the publisher to resume.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	trace := otelx.CaptureTrace(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES (@aggregate_type, @aggregate_id, @event_type, @payload, NULLIF(@traceparent, ''), NULLIF(@tracestate, ''))
	`, pgx.NamedArgs{
		"aggregate_type": evt.AggregateType,
		"aggregate_id":   evt.AggregateID,
		"event_type":     evt.EventType,
		"payload":        evt.Payload,
		"traceparent":    trace.Traceparent,
		"tracestate":     trace.Tracestate,
	})
	return err
}

// Claim locks up to limit deliverable rows in id order. Rows that failed
// maxAttempts times are parked and no longer claimed; rows locked by
// another replica are skipped.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, limit, maxAttempts int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), attempts, created_at
		FROM outbox_events
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.EventID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload,
			&rec.Trace.Traceparent, &rec.Trace.Tracestate, &rec.Attempts, &rec.CreatedAt)
		return rec, err
	})
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now(), last_error = NULL WHERE id = ANY($1)`, ids)
	return err
}

// RecordFailure bumps the attempt counter outside the claiming
// transaction, which has already rolled back.
func (r *Repository) RecordFailure(ctx context.Context, ids []int64, cause string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = left($2, 1000)
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids, cause)
	return err
}

// PrunePublished deletes delivered rows published before cutoff.
func (r *Repository) PrunePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
