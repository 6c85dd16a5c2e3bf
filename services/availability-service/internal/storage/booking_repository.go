package storage

import (
	"context"
	"errors"
	"time"

	"github.com/estatecraft/agentdesk/libs/db"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	AgentID         string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const bookingColumns = `id::text, agent_id, COALESCE(booking_type_id::text, ''), client_name, client_email, client_phone,
	property_ref, calendar_event_id, start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.AgentID,
		&b.BookingTypeID,
		&b.ClientName,
		&b.ClientEmail,
		&b.ClientPhone,
		&b.PropertyRef,
		&b.CalendarEventID,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.CancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	return b, err
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// LockIdempotencyKey returns the stored record for (agent, key), creating
// an empty one when absent. The row stays locked until tx ends, so a
// concurrent retry with the same key waits for the first attempt.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, agentID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, agentID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (agent_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (agent_id, idempotency_key) DO NOTHING
	`, agentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, agentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, agentID, key, bookingID string, statusCode int, response []byte) error {
	var id *string
	if bookingID != "" {
		id = &bookingID
	}
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE agent_id = $1 AND idempotency_key = $2
	`, agentID, key, id, statusCode, response)
	return err
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, agentID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT agent_id,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE agent_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, agentID, key).Scan(
		&rec.AgentID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

// Create inserts a booked row. Overlap with another live booking of the same
// agent violates the exclusion constraint; see IsConflict.
func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.BookingStatusBooked
	}
	var typeID *string
	if b.BookingTypeID != "" {
		typeID = &b.BookingTypeID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings
			(id, agent_id, booking_type_id, client_name, client_email, client_phone, property_ref,
			 calendar_event_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID, b.AgentID, typeID, b.ClientName, b.ClientEmail, b.ClientPhone, b.PropertyRef,
		b.CalendarEventID, b.StartTime, b.EndTime, b.Status)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, agentID, bookingID string) (model.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND agent_id = $2
		FOR UPDATE
	`, bookingID, agentID))
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, agentID, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND agent_id = $2
		RETURNING cancelled_at
	`, bookingID, agentID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListBookedIntervals returns live bookings overlapping [from, to).
// Cancelled bookings do not block.
func (r *BookingRepository) ListBookedIntervals(ctx context.Context, agentID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE agent_id = $1
			AND status = 'booked'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, agentID, from, to)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *BookingRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE agent_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}
