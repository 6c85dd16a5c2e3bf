package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/estatecraft/agentdesk/libs/httpx"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/policy"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/scheduling"
	"github.com/google/uuid"
)

const maxTeamSize = 25

type availabilityPlanner interface {
	Availability(ctx context.Context, q scheduling.Query) (scheduling.Day, error)
	TeamAvailability(ctx context.Context, agentIDs []string, date, bookingTypeID string) ([]scheduling.MemberDay, error)
}

type AvailabilityHandler struct {
	planner availabilityPlanner
	logger  *slog.Logger
}

func NewAvailabilityHandler(planner availabilityPlanner, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{planner: planner, logger: logger}
}

type intervalItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type dayResponse struct {
	AgentID           string         `json:"agent_id"`
	Date              string         `json:"date"`
	Timezone          string         `json:"timezone,omitempty"`
	Working           bool           `json:"working"`
	CalendarConnected bool           `json:"calendar_connected"`
	FreeIntervals     []intervalItem `json:"free_intervals"`
	Slots             []intervalItem `json:"slots"`
	Error             string         `json:"error,omitempty"`
}

type teamResponse struct {
	Date    string        `json:"date"`
	Members []dayResponse `json:"members"`
}

func toDayResponse(agentID string, day scheduling.Day) dayResponse {
	resp := dayResponse{
		AgentID:           agentID,
		Date:              day.Date,
		Timezone:          day.Timezone,
		Working:           day.Working,
		CalendarConnected: day.CalendarConnected,
		FreeIntervals:     make([]intervalItem, 0, len(day.Free)),
		Slots:             make([]intervalItem, 0, len(day.Slots)),
	}
	for _, f := range day.Free {
		resp.FreeIntervals = append(resp.FreeIntervals, formatInterval(f.Start, f.End))
	}
	for _, s := range day.Slots {
		resp.Slots = append(resp.Slots, formatInterval(s.Start, s.End))
	}
	return resp
}

func formatInterval(start, end time.Time) intervalItem {
	return intervalItem{
		StartTime: start.UTC().Format(time.RFC3339),
		EndTime:   end.UTC().Format(time.RFC3339),
	}
}

// Public answers GET /api/v1/public/availability for the booking page.
func (h *AvailabilityHandler) Public(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	query := scheduling.Query{
		AgentID:       strings.TrimSpace(q.Get("agent_id")),
		Date:          strings.TrimSpace(q.Get("date")),
		BookingTypeID: strings.TrimSpace(q.Get("booking_type_id")),
	}
	if query.AgentID == "" || query.Date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "agent_id and date are required")
		return
	}
	if !validBookingTypeID(query.BookingTypeID) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid booking_type_id")
		return
	}

	var ok bool
	if query.Duration, ok = minutesParam(q.Get("duration_minutes"), 8*60); !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid duration_minutes")
		return
	}
	if query.Step, ok = minutesParam(q.Get("slot_step_minutes"), 120); !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid slot_step_minutes")
		return
	}

	day, err := h.planner.Availability(r.Context(), query)
	if err != nil {
		h.writePlannerError(w, query.AgentID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toDayResponse(query.AgentID, day))
}

// Team answers GET /api/v1/availability/team. One member failing does not
// fail the whole response.
func (h *AvailabilityHandler) Team(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	var agentIDs []string
	for _, id := range strings.Split(q.Get("agent_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			agentIDs = append(agentIDs, id)
		}
	}
	if date == "" || len(agentIDs) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "agent_ids and date are required")
		return
	}
	if len(agentIDs) > maxTeamSize {
		httpx.WriteError(w, http.StatusBadRequest, "too many agent_ids")
		return
	}

	bookingTypeID := strings.TrimSpace(q.Get("booking_type_id"))
	if !validBookingTypeID(bookingTypeID) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid booking_type_id")
		return
	}

	members, err := h.planner.TeamAvailability(r.Context(), agentIDs, date, bookingTypeID)
	if err != nil {
		h.logger.Error("team availability failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	resp := teamResponse{Date: date, Members: make([]dayResponse, 0, len(members))}
	for _, m := range members {
		if m.Err != nil {
			resp.Members = append(resp.Members, dayResponse{
				AgentID:       m.AgentID,
				Date:          date,
				FreeIntervals: []intervalItem{},
				Slots:         []intervalItem{},
				Error:         memberError(m.Err),
			})
			continue
		}
		resp.Members = append(resp.Members, toDayResponse(m.AgentID, m.Day))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AvailabilityHandler) writePlannerError(w http.ResponseWriter, agentID string, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidDate):
		httpx.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
	case errors.Is(err, policy.ErrUnknownBookingType):
		httpx.WriteError(w, http.StatusBadRequest, "unknown booking_type_id")
	case errors.Is(err, availability.ErrInvalidInterval), errors.Is(err, availability.ErrInvalidSlotPolicy):
		h.logger.Warn("availability rejected malformed input", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusUnprocessableEntity, "could not compute availability")
	default:
		h.logger.Error("availability failed", "agent_id", agentID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to compute availability")
	}
}

func memberError(err error) string {
	switch {
	case errors.Is(err, scheduling.ErrInvalidDate):
		return "date must be YYYY-MM-DD"
	case errors.Is(err, policy.ErrUnknownBookingType):
		return "unknown booking_type_id"
	case errors.Is(err, availability.ErrInvalidInterval), errors.Is(err, availability.ErrInvalidSlotPolicy):
		return "could not compute availability"
	default:
		return "availability unavailable"
	}
}

// validBookingTypeID accepts an empty id (no booking type) or a UUID.
func validBookingTypeID(id string) bool {
	if id == "" {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// minutesParam parses an optional minute count in (0, max]. Empty means zero.
func minutesParam(raw string, max int) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}
