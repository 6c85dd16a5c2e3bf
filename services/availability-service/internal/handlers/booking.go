package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/estatecraft/agentdesk/libs/httpx"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/calendar"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/outbox"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/policy"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type bookingStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, agentID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, agentID, key, bookingID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, agentID, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, agentID, bookingID, reason string) (time.Time, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.Booking, error)
}

type eventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type slotValidator interface {
	ValidateSlot(ctx context.Context, agentID, bookingTypeID string, start, end time.Time) (bool, error)
}

type BookingHandler struct {
	repo     bookingStore
	events   eventWriter
	slots    slotValidator
	calendar calendar.EventSource
	logger   *slog.Logger
}

func NewBookingHandler(repo bookingStore, events eventWriter, slots slotValidator, source calendar.EventSource, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:     repo,
		events:   events,
		slots:    slots,
		calendar: source,
		logger:   logger,
	}
}

type createBookingRequest struct {
	AgentID       string `json:"agent_id"`
	BookingTypeID string `json:"booking_type_id"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email"`
	ClientPhone   string `json:"client_phone"`
	PropertyRef   string `json:"property_ref"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type createBookingResponse struct {
	BookingID string `json:"booking_id"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type bookingItem struct {
	BookingID     string `json:"booking_id"`
	BookingTypeID string `json:"booking_type_id,omitempty"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email,omitempty"`
	ClientPhone   string `json:"client_phone,omitempty"`
	PropertyRef   string `json:"property_ref,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (req *createBookingRequest) booking() (*model.Booking, error) {
	b := &model.Booking{
		AgentID:       strings.TrimSpace(req.AgentID),
		BookingTypeID: strings.TrimSpace(req.BookingTypeID),
		ClientName:    strings.TrimSpace(req.ClientName),
		ClientEmail:   strings.TrimSpace(req.ClientEmail),
		ClientPhone:   strings.TrimSpace(req.ClientPhone),
		PropertyRef:   strings.TrimSpace(req.PropertyRef),
	}
	if b.AgentID == "" || b.ClientName == "" {
		return nil, errors.New("agent_id and client_name are required")
	}
	if !validBookingTypeID(b.BookingTypeID) {
		return nil, errors.New("invalid booking_type_id")
	}
	if b.ClientEmail != "" {
		if _, err := mail.ParseAddress(b.ClientEmail); err != nil {
			return nil, errors.New("invalid client_email")
		}
	}
	var err error
	if b.StartTime, err = time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime)); err != nil {
		return nil, errors.New("invalid start_time")
	}
	if b.EndTime, err = time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime)); err != nil {
		return nil, errors.New("invalid end_time")
	}
	if !b.EndTime.After(b.StartTime) {
		return nil, errors.New("end_time must be after start_time")
	}
	return b, nil
}

// Create answers POST /api/v1/public/bookings. The slot is re-checked
// against live availability, written to the agent's calendar and then
// persisted with its outbox event in one transaction.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	b, err := req.booking()
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.logger.Error("begin booking tx", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, b.AgentID, idempotencyKey)
		if err != nil {
			h.logger.Error("lock idempotency key", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if exists && rec.StatusCode > 0 {
			replayIdempotent(w, rec)
			return
		}
	}

	ok, err := h.slots.ValidateSlot(ctx, b.AgentID, b.BookingTypeID, b.StartTime, b.EndTime)
	if errors.Is(err, policy.ErrUnknownBookingType) {
		h.rejectWithKey(ctx, w, tx, b.AgentID, idempotencyKey, http.StatusUnprocessableEntity, "unknown booking_type_id")
		return
	}
	if err != nil {
		// Not finalized, so a retry with the same key runs again.
		h.logger.Error("validate slot", "agent_id", b.AgentID, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "availability unavailable")
		return
	}
	if !ok {
		h.rejectWithKey(ctx, w, tx, b.AgentID, idempotencyKey, http.StatusUnprocessableEntity, "requested time is not available")
		return
	}

	eventID, err := h.calendar.CreateEvent(ctx, b.AgentID, calendar.EventInput{
		Summary:       fmt.Sprintf("Viewing with %s", b.ClientName),
		Description:   bookingDescription(b),
		Location:      b.PropertyRef,
		Start:         b.StartTime,
		End:           b.EndTime,
		AttendeeEmail: b.ClientEmail,
		RequestID:     httpx.RequestIDFromContext(ctx),
	})
	switch {
	case errors.Is(err, calendar.ErrNotConnected):
		h.logger.Warn("agent calendar not connected; booking recorded without calendar event", "agent_id", b.AgentID)
	case err != nil:
		h.logger.Error("create calendar event", "agent_id", b.AgentID, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "calendar provider unavailable")
		return
	}
	b.CalendarEventID = eventID

	committed := false
	defer func() {
		if !committed && eventID != "" {
			h.deleteCalendarEvent(context.WithoutCancel(ctx), b.AgentID, eventID)
		}
	}()

	id, err := h.repo.Create(ctx, tx, b)
	if err != nil {
		if storage.IsConflict(err) {
			httpx.WriteError(w, http.StatusConflict, "time slot already booked")
			return
		}
		h.logger.Error("create booking", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create booking")
		return
	}

	evt, err := outbox.NewBookingEvent(outbox.EventBookingCreated, bookingPayload(b))
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.events.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("insert outbox event", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	respBody, err := json.Marshal(createBookingResponse{BookingID: id})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, b.AgentID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			h.logger.Error("finalize idempotency", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to finalize idempotency key")
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("commit booking", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	committed = true

	h.logger.Info("booking created", "booking_id", id, "agent_id", b.AgentID, "calendar_event_id", eventID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Cancel answers POST /api/v1/bookings/cancel for the authenticated agent.
// Cancelling twice returns the original cancellation.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}

	var req cancelBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "booking_id required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := h.repo.GetForUpdate(ctx, tx, agentID, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "booking not found")
			return
		}
		h.logger.Error("load booking", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load booking")
		return
	}
	if b.Status == model.BookingStatusCancelled && b.CancelledAt != nil {
		writeCancelResponse(w, b.ID, b.CancelledAt.UTC())
		return
	}
	if b.Status != model.BookingStatusBooked {
		httpx.WriteError(w, http.StatusConflict, "booking cannot be cancelled")
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, agentID, b.ID, req.Reason)
	if err != nil {
		h.logger.Error("cancel booking", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to cancel booking")
		return
	}
	b.CancelledAt = &cancelledAt
	b.CancelReason = req.Reason

	evt, err := outbox.NewBookingEvent(outbox.EventBookingCancelled, bookingPayload(&b))
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to build cancellation event")
		return
	}
	if err := h.events.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("insert outbox event", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	if b.CalendarEventID != "" {
		h.deleteCalendarEvent(ctx, agentID, b.CalendarEventID)
	}
	writeCancelResponse(w, b.ID, cancelledAt.UTC())
}

// List answers GET /api/v1/bookings for the authenticated agent.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID, ok := agentFromRequest(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.repo.ListByAgent(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error("list bookings", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := bookingItem{
			BookingID:     b.ID,
			BookingTypeID: b.BookingTypeID,
			ClientName:    b.ClientName,
			ClientEmail:   b.ClientEmail,
			ClientPhone:   b.ClientPhone,
			PropertyRef:   b.PropertyRef,
			StartTime:     b.StartTime.UTC().Format(time.RFC3339),
			EndTime:       b.EndTime.UTC().Format(time.RFC3339),
			Status:        b.Status,
			CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) deleteCalendarEvent(ctx context.Context, agentID, eventID string) {
	err := h.calendar.DeleteEvent(ctx, agentID, eventID)
	if err != nil && !errors.Is(err, calendar.ErrNotConnected) {
		h.logger.Warn("delete calendar event failed", "agent_id", agentID, "calendar_event_id", eventID, "err", err)
	}
}

// rejectWithKey stores a client error under the idempotency key so retries
// get the same answer.
func (h *BookingHandler) rejectWithKey(ctx context.Context, w http.ResponseWriter, tx pgx.Tx, agentID, key string, status int, msg string) {
	if key != "" {
		body, _ := json.Marshal(map[string]string{"error": msg})
		err := h.repo.FinalizeIdempotency(ctx, tx, agentID, key, "", status, body)
		if err == nil {
			err = tx.Commit(ctx)
		}
		if err != nil {
			h.logger.Error("finalize idempotency (error)", "err", err)
		}
	}
	httpx.WriteError(w, status, msg)
}

func replayIdempotent(w http.ResponseWriter, rec storage.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.StatusCode)
	if len(rec.ResponsePayload) > 0 {
		_, _ = w.Write(rec.ResponsePayload)
		return
	}
	_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID})
}

func writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	httpx.WriteJSON(w, http.StatusOK, cancelBookingResponse{
		BookingID:   bookingID,
		Status:      model.BookingStatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	})
}

func bookingDescription(b *model.Booking) string {
	var sb strings.Builder
	sb.WriteString("Client: " + b.ClientName)
	if b.ClientPhone != "" {
		sb.WriteString("\nPhone: " + b.ClientPhone)
	}
	if b.ClientEmail != "" {
		sb.WriteString("\nEmail: " + b.ClientEmail)
	}
	if b.PropertyRef != "" {
		sb.WriteString("\nProperty: " + b.PropertyRef)
	}
	return sb.String()
}

func bookingPayload(b *model.Booking) outbox.BookingPayload {
	return outbox.BookingPayload{
		BookingID:       b.ID,
		AgentID:         b.AgentID,
		BookingTypeID:   b.BookingTypeID,
		ClientName:      b.ClientName,
		ClientEmail:     b.ClientEmail,
		PropertyRef:     b.PropertyRef,
		CalendarEventID: b.CalendarEventID,
		StartTime:       b.StartTime.UTC(),
		EndTime:         b.EndTime.UTC(),
		CancelledAt:     b.CancelledAt,
		CancelReason:    b.CancelReason,
	}
}
