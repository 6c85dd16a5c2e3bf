package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/estatecraft/agentdesk/libs/auth"
	"github.com/estatecraft/agentdesk/libs/httpx"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
)

type agentStore interface {
	GetProfile(ctx context.Context, agentID string) (model.AgentProfile, error)
	UpsertProfile(ctx context.Context, p model.AgentProfile) error
	ListWorkingHours(ctx context.Context, agentID string) ([]model.WorkingHours, error)
	UpsertWorkingHours(ctx context.Context, wh model.WorkingHours) error
	CreateBookingType(ctx context.Context, bt model.BookingType) (string, error)
	ListBookingTypes(ctx context.Context, agentID string) ([]model.BookingType, error)
	CreateTimeOff(ctx context.Context, off model.TimeOff) (string, error)
	ListTimeOff(ctx context.Context, agentID string, from, to time.Time) ([]model.TimeOff, error)
	SaveCredentials(ctx context.Context, agentID, sealed string) error
}

type sealer interface {
	Seal(plaintext string) (string, error)
}

// busyInvalidator drops cached calendar contents after the agent's
// calendar connection changes.
type busyInvalidator interface {
	Invalidate(ctx context.Context, agentID string)
}

// AgentHandler serves the authenticated agent's own settings.
type AgentHandler struct {
	agents agentStore
	sealer sealer
	cache  busyInvalidator
	logger *slog.Logger
}

func NewAgentHandler(agents agentStore, sealer sealer, cache busyInvalidator, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, sealer: sealer, cache: cache, logger: logger}
}

type workingDay struct {
	Weekday   int    `json:"weekday"`
	IsWorking bool   `json:"is_working"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

type workingHoursBody struct {
	Days []workingDay `json:"days"`
}

type bookingTypeBody struct {
	ID              string `json:"booking_type_id,omitempty"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	StepMinutes     int    `json:"step_minutes"`
}

type calendarCredentialsBody struct {
	RefreshToken string `json:"refresh_token"`
	CalendarID   string `json:"calendar_id"`
	Timezone     string `json:"timezone"`
}

type timeOffBody struct {
	ID        string `json:"time_off_id,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

func agentFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || strings.TrimSpace(claims.Sub) == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return claims.Sub, true
}

func clockToMinute(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minuteToClock(m int) string {
	if m == 24*60 {
		return "24:00"
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// WorkingHours serves GET and PUT /api/v1/agent/working-hours.
func (h *AgentHandler) WorkingHours(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.writeWorkingHours(r.Context(), w, agentID)
	case http.MethodPut:
		var body workingHoursBody
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if len(body.Days) == 0 {
			httpx.WriteError(w, http.StatusBadRequest, "days required")
			return
		}
		hours := make([]model.WorkingHours, 0, len(body.Days))
		for _, d := range body.Days {
			wh := model.WorkingHours{AgentID: agentID, Weekday: d.Weekday, IsWorking: d.IsWorking}
			if d.IsWorking {
				var err1, err2 error
				wh.StartMinute, err1 = clockToMinute(d.StartTime)
				wh.EndMinute, err2 = parseEndClock(d.EndTime)
				if err1 != nil || err2 != nil {
					httpx.WriteError(w, http.StatusBadRequest, "start_time and end_time must be HH:MM")
					return
				}
			}
			if !wh.Valid() {
				httpx.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid hours for weekday %d", d.Weekday))
				return
			}
			hours = append(hours, wh)
		}
		for _, wh := range hours {
			if err := h.agents.UpsertWorkingHours(r.Context(), wh); err != nil {
				h.logger.Error("upsert working hours", "agent_id", agentID, "err", err)
				httpx.WriteError(w, http.StatusInternalServerError, "failed to save working hours")
				return
			}
		}
		h.writeWorkingHours(r.Context(), w, agentID)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// parseEndClock accepts "24:00" as end of day.
func parseEndClock(s string) (int, error) {
	if strings.TrimSpace(s) == "24:00" {
		return 24 * 60, nil
	}
	return clockToMinute(s)
}

func (h *AgentHandler) writeWorkingHours(ctx context.Context, w http.ResponseWriter, agentID string) {
	hours, err := h.agents.ListWorkingHours(ctx, agentID)
	if err != nil {
		h.logger.Error("list working hours", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load working hours")
		return
	}
	body := workingHoursBody{Days: make([]workingDay, 0, len(hours))}
	for _, wh := range hours {
		d := workingDay{Weekday: wh.Weekday, IsWorking: wh.IsWorking}
		if wh.IsWorking {
			d.StartTime = minuteToClock(wh.StartMinute)
			d.EndTime = minuteToClock(wh.EndMinute)
		}
		body.Days = append(body.Days, d)
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

// BookingTypes serves GET and POST /api/v1/agent/booking-types.
func (h *AgentHandler) BookingTypes(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		types, err := h.agents.ListBookingTypes(r.Context(), agentID)
		if err != nil {
			h.logger.Error("list booking types", "agent_id", agentID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to list booking types")
			return
		}
		out := make([]bookingTypeBody, 0, len(types))
		for _, bt := range types {
			out = append(out, bookingTypeBody{ID: bt.ID, Name: bt.Name, DurationMinutes: bt.DurationMinutes, StepMinutes: bt.StepMinutes})
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var body bookingTypeBody
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			httpx.WriteError(w, http.StatusBadRequest, "name required")
			return
		}
		if body.DurationMinutes < 5 || body.DurationMinutes > 8*60 {
			httpx.WriteError(w, http.StatusBadRequest, "duration_minutes must be between 5 and 480")
			return
		}
		if body.StepMinutes == 0 {
			body.StepMinutes = body.DurationMinutes
		}
		if body.StepMinutes < 5 || body.StepMinutes > 120 {
			httpx.WriteError(w, http.StatusBadRequest, "step_minutes must be between 5 and 120")
			return
		}
		id, err := h.agents.CreateBookingType(r.Context(), model.BookingType{
			AgentID:         agentID,
			Name:            body.Name,
			DurationMinutes: body.DurationMinutes,
			StepMinutes:     body.StepMinutes,
		})
		if err != nil {
			h.logger.Error("create booking type", "agent_id", agentID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to create booking type")
			return
		}
		body.ID = id
		httpx.WriteJSON(w, http.StatusCreated, body)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CalendarCredentials serves PUT /api/v1/agent/calendar-credentials. The
// refresh token is sealed before it reaches the database.
func (h *AgentHandler) CalendarCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}

	var body calendarCredentialsBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	body.Timezone = strings.TrimSpace(body.Timezone)
	if body.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	if body.Timezone != "" {
		if _, err := time.LoadLocation(body.Timezone); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}

	ctx := r.Context()
	profile, err := h.agents.GetProfile(ctx, agentID)
	if err != nil {
		h.logger.Error("load profile", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if id := strings.TrimSpace(body.CalendarID); id != "" {
		profile.CalendarID = id
	}
	if body.Timezone != "" {
		profile.Timezone = body.Timezone
	}

	sealed, err := h.sealer.Seal(body.RefreshToken)
	if err != nil {
		h.logger.Error("seal credentials", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	if err := h.agents.SaveCredentials(ctx, agentID, sealed); err != nil {
		h.logger.Error("save credentials", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	if err := h.agents.UpsertProfile(ctx, profile); err != nil {
		h.logger.Error("upsert profile", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(ctx, agentID)
	}

	h.logger.Info("calendar connected", "agent_id", agentID, "calendar_id", profile.CalendarID)
	w.WriteHeader(http.StatusNoContent)
}

// TimeOff serves GET and POST /api/v1/agent/time-off.
func (h *AgentHandler) TimeOff(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		from := time.Now().UTC()
		to := from.AddDate(0, 0, 30)
		q := r.URL.Query()
		if raw := strings.TrimSpace(q.Get("from")); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid from")
				return
			}
			from = t
		}
		if raw := strings.TrimSpace(q.Get("to")); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid to")
				return
			}
			to = t
		}
		if !to.After(from) {
			httpx.WriteError(w, http.StatusBadRequest, "to must be after from")
			return
		}
		blocks, err := h.agents.ListTimeOff(r.Context(), agentID, from, to)
		if err != nil {
			h.logger.Error("list time off", "agent_id", agentID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to list time off")
			return
		}
		out := make([]timeOffBody, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, timeOffBody{
				ID:        b.ID,
				StartTime: b.StartTime.UTC().Format(time.RFC3339),
				EndTime:   b.EndTime.UTC().Format(time.RFC3339),
				Reason:    b.Reason,
			})
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var body timeOffBody
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		start, err1 := time.Parse(time.RFC3339, strings.TrimSpace(body.StartTime))
		end, err2 := time.Parse(time.RFC3339, strings.TrimSpace(body.EndTime))
		if err1 != nil || err2 != nil {
			httpx.WriteError(w, http.StatusBadRequest, "start_time and end_time must be RFC3339")
			return
		}
		if !end.After(start) {
			httpx.WriteError(w, http.StatusBadRequest, "end_time must be after start_time")
			return
		}
		id, err := h.agents.CreateTimeOff(r.Context(), model.TimeOff{
			AgentID:   agentID,
			StartTime: start,
			EndTime:   end,
			Reason:    strings.TrimSpace(body.Reason),
		})
		if err != nil {
			h.logger.Error("create time off", "agent_id", agentID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to create time off")
			return
		}
		body.ID = id
		httpx.WriteJSON(w, http.StatusCreated, body)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
