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

type AgentRepository struct {
	pool *db.Pool
}

func NewAgentRepository(pool *db.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

// GetProfile returns the agent profile, creating a default (UTC, primary
// calendar) on first read.
func (r *AgentRepository) GetProfile(ctx context.Context, agentID string) (model.AgentProfile, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_profiles (agent_id)
		VALUES ($1)
		ON CONFLICT (agent_id) DO NOTHING
	`, agentID)
	if err != nil {
		return model.AgentProfile{}, err
	}

	var p model.AgentProfile
	err = r.pool.QueryRow(ctx, `
		SELECT agent_id, display_name, timezone, calendar_id
		FROM agent_profiles
		WHERE agent_id = $1
	`, agentID).Scan(&p.AgentID, &p.DisplayName, &p.Timezone, &p.CalendarID)
	return p, err
}

func (r *AgentRepository) UpsertProfile(ctx context.Context, p model.AgentProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_profiles (agent_id, display_name, timezone, calendar_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			timezone = EXCLUDED.timezone,
			calendar_id = EXCLUDED.calendar_id,
			updated_at = now()
	`, p.AgentID, p.DisplayName, p.Timezone, p.CalendarID)
	return err
}

// GetWorkingHours falls back to the default week when nothing is stored.
func (r *AgentRepository) GetWorkingHours(ctx context.Context, agentID string, weekday int) (model.WorkingHours, error) {
	var wh model.WorkingHours
	err := r.pool.QueryRow(ctx, `
		SELECT agent_id, weekday, is_working, start_minute, end_minute
		FROM agent_working_hours
		WHERE agent_id = $1 AND weekday = $2
	`, agentID, weekday).Scan(&wh.AgentID, &wh.Weekday, &wh.IsWorking, &wh.StartMinute, &wh.EndMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultWorkingHours(agentID, weekday), nil
	}
	return wh, err
}

// ListWorkingHours returns all seven weekdays, filling gaps with defaults.
func (r *AgentRepository) ListWorkingHours(ctx context.Context, agentID string) ([]model.WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, weekday, is_working, start_minute, end_minute
		FROM agent_working_hours
		WHERE agent_id = $1
		ORDER BY weekday ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	week := make([]model.WorkingHours, 7)
	for wd := range week {
		week[wd] = model.DefaultWorkingHours(agentID, wd)
	}
	for rows.Next() {
		var wh model.WorkingHours
		if err := rows.Scan(&wh.AgentID, &wh.Weekday, &wh.IsWorking, &wh.StartMinute, &wh.EndMinute); err != nil {
			return nil, err
		}
		if wh.Weekday >= 0 && wh.Weekday <= 6 {
			week[wh.Weekday] = wh
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return week, nil
}

func (r *AgentRepository) UpsertWorkingHours(ctx context.Context, wh model.WorkingHours) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_working_hours (agent_id, weekday, is_working, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, weekday) DO UPDATE
		SET is_working = EXCLUDED.is_working,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, wh.AgentID, wh.Weekday, wh.IsWorking, wh.StartMinute, wh.EndMinute)
	return err
}

func (r *AgentRepository) CreateBookingType(ctx context.Context, bt model.BookingType) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_types (id, agent_id, name, duration_minutes, step_minutes)
		VALUES ($1, $2, $3, $4, $5)
	`, id, bt.AgentID, bt.Name, bt.DurationMinutes, bt.StepMinutes)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AgentRepository) GetBookingType(ctx context.Context, agentID, bookingTypeID string) (model.BookingType, error) {
	var bt model.BookingType
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, agent_id, name, duration_minutes, step_minutes, created_at
		FROM booking_types
		WHERE agent_id = $1 AND id = $2
	`, agentID, bookingTypeID).Scan(&bt.ID, &bt.AgentID, &bt.Name, &bt.DurationMinutes, &bt.StepMinutes, &bt.CreatedAt)
	return bt, err
}

func (r *AgentRepository) ListBookingTypes(ctx context.Context, agentID string) ([]model.BookingType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, agent_id, name, duration_minutes, step_minutes, created_at
		FROM booking_types
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingType
	for rows.Next() {
		var bt model.BookingType
		if err := rows.Scan(&bt.ID, &bt.AgentID, &bt.Name, &bt.DurationMinutes, &bt.StepMinutes, &bt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *AgentRepository) CreateTimeOff(ctx context.Context, off model.TimeOff) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_time_off (id, agent_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, off.AgentID, off.StartTime, off.EndTime, off.Reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListTimeOff returns blocks overlapping [from, to).
func (r *AgentRepository) ListTimeOff(ctx context.Context, agentID string, from, to time.Time) ([]model.TimeOff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, agent_id, start_time, end_time, reason, created_at
		FROM agent_time_off
		WHERE agent_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
		LIMIT 500
	`, agentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeOff
	for rows.Next() {
		var off model.TimeOff
		if err := rows.Scan(&off.ID, &off.AgentID, &off.StartTime, &off.EndTime, &off.Reason, &off.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, off)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveCredentials stores the sealed calendar refresh token for an agent.
func (r *AgentRepository) SaveCredentials(ctx context.Context, agentID, sealed string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_calendar_credentials (agent_id, sealed_refresh_token)
		VALUES ($1, $2)
		ON CONFLICT (agent_id) DO UPDATE
		SET sealed_refresh_token = EXCLUDED.sealed_refresh_token,
			updated_at = now()
	`, agentID, sealed)
	return err
}

// LoadCredentials returns pgx.ErrNoRows when the agent never connected a calendar.
func (r *AgentRepository) LoadCredentials(ctx context.Context, agentID string) (string, error) {
	var sealed string
	err := r.pool.QueryRow(ctx, `
		SELECT sealed_refresh_token
		FROM agent_calendar_credentials
		WHERE agent_id = $1
	`, agentID).Scan(&sealed)
	return sealed, err
}
