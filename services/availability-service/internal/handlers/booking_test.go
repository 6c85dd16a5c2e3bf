package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/calendar"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/outbox"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/policy"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeBookingRepo struct {
	tx        *fakeTx
	idem      map[string]storage.IdempotencyRecord
	created   []model.Booking
	createErr error
	existing  map[string]model.Booking
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{idem: map[string]storage.IdempotencyRecord{}, existing: map[string]model.Booking{}}
}

func (f *fakeBookingRepo) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

func (f *fakeBookingRepo) LockIdempotencyKey(_ context.Context, _ pgx.Tx, agentID, key string) (storage.IdempotencyRecord, bool, error) {
	rec, ok := f.idem[agentID+"/"+key]
	return rec, ok, nil
}

func (f *fakeBookingRepo) FinalizeIdempotency(_ context.Context, _ pgx.Tx, agentID, key, bookingID string, status int, body []byte) error {
	f.idem[agentID+"/"+key] = storage.IdempotencyRecord{AgentID: agentID, IdempotencyKey: key, BookingID: bookingID, StatusCode: status, ResponsePayload: body}
	return nil
}

func (f *fakeBookingRepo) Create(_ context.Context, _ pgx.Tx, b *model.Booking) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	b.ID = "bk-1"
	b.Status = model.BookingStatusBooked
	f.created = append(f.created, *b)
	return b.ID, nil
}

func (f *fakeBookingRepo) GetForUpdate(_ context.Context, _ pgx.Tx, agentID, id string) (model.Booking, error) {
	b, ok := f.existing[id]
	if !ok || b.AgentID != agentID {
		return model.Booking{}, pgx.ErrNoRows
	}
	return b, nil
}

func (f *fakeBookingRepo) Cancel(_ context.Context, _ pgx.Tx, _, id, reason string) (time.Time, error) {
	b := f.existing[id]
	now := at(8, 0)
	b.Status = model.BookingStatusCancelled
	b.CancelledAt = &now
	b.CancelReason = reason
	f.existing[id] = b
	return now, nil
}

func (f *fakeBookingRepo) ListByAgent(_ context.Context, agentID string, _ int) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range f.existing {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeEvents struct{ events []outbox.Event }

func (f *fakeEvents) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeSlots struct {
	ok  bool
	err error
}

func (f fakeSlots) ValidateSlot(context.Context, string, string, time.Time, time.Time) (bool, error) {
	return f.ok, f.err
}

type fakeCalendar struct {
	createErr error
	created   []calendar.EventInput
	deleted   []string
}

func (f *fakeCalendar) ListBusy(context.Context, string, time.Time, time.Time) ([]availability.BusyEvent, error) {
	return nil, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, in calendar.EventInput) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, in)
	return "gcal-1", nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

const createBody = `{"agent_id":"a-1","client_name":"Dana Reyes","client_email":"dana@example.com",
	"property_ref":"12 Elm St","start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z"}`

type bookingFixture struct {
	repo   *fakeBookingRepo
	events *fakeEvents
	cal    *fakeCalendar
	h      *BookingHandler
}

func newBookingFixture(slots fakeSlots) *bookingFixture {
	f := &bookingFixture{repo: newFakeBookingRepo(), events: &fakeEvents{}, cal: &fakeCalendar{}}
	f.h = NewBookingHandler(f.repo, f.events, slots, f.cal, discardLogger())
	return f
}

func TestCreateBooking(t *testing.T) {
	f := newBookingFixture(fakeSlots{ok: true})

	rec := httptest.NewRecorder()
	f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", createBody))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createBookingResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.BookingID != "bk-1" {
		t.Fatalf("unexpected response %+v err=%v", resp, err)
	}
	if !f.repo.tx.committed {
		t.Fatal("expected commit")
	}
	if len(f.repo.created) != 1 || f.repo.created[0].CalendarEventID != "gcal-1" {
		t.Fatalf("unexpected stored booking %+v", f.repo.created)
	}
	if len(f.cal.created) != 1 || f.cal.created[0].AttendeeEmail != "dana@example.com" || f.cal.created[0].Location != "12 Elm St" {
		t.Fatalf("unexpected calendar event %+v", f.cal.created)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != outbox.EventBookingCreated || f.events.events[0].AggregateID != "bk-1" {
		t.Fatalf("unexpected outbox events %+v", f.events.events)
	}
	if len(f.cal.deleted) != 0 {
		t.Fatalf("committed booking must keep its calendar event, deleted %v", f.cal.deleted)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	bodies := map[string]string{
		"not json":      `{`,
		"unknown field": `{"agent_id":"a","client_name":"x","start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z","extra":1}`,
		"missing name":  `{"agent_id":"a","start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z"}`,
		"bad email":     `{"agent_id":"a","client_name":"x","client_email":"nope","start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z"}`,
		"reversed":      `{"agent_id":"a","client_name":"x","start_time":"2026-03-17T10:30:00Z","end_time":"2026-03-17T10:00:00Z"}`,
		"bad time":      `{"agent_id":"a","client_name":"x","start_time":"10am","end_time":"2026-03-17T10:00:00Z"}`,
		"bad type id":   `{"agent_id":"a","client_name":"x","booking_type_id":"viewing","start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z"}`,
	}
	for name, body := range bodies {
		f := newBookingFixture(fakeSlots{ok: true})
		rec := httptest.NewRecorder()
		f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestCreateBooking_SlotTakenIsRememberedUnderKey(t *testing.T) {
	f := newBookingFixture(fakeSlots{ok: false})

	req := newRequest(http.MethodPost, "/api/v1/public/bookings", createBody)
	req.Header.Set("Idempotency-Key", "k-1")
	rec := httptest.NewRecorder()
	f.h.Create(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if len(f.cal.created) != 0 || len(f.repo.created) != 0 {
		t.Fatal("rejected slot must not reach the calendar or the store")
	}

	// Replay returns the stored answer without validating again.
	f.h.slots = fakeSlots{ok: true}
	req = newRequest(http.MethodPost, "/api/v1/public/bookings", createBody)
	req.Header.Set("Idempotency-Key", "k-1")
	rec = httptest.NewRecorder()
	f.h.Create(rec, req)
	if rec.Code != http.StatusUnprocessableEntity || rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 422, got %d", rec.Code)
	}
}

// otherAgentsType is a well-formed id the requesting agent does not own.
const otherAgentsType = "5b8f0a52-3f0e-4a8e-9a51-0c7d2f6b9e14"

func TestCreateBooking_UnknownBookingTypeNeverReachesCalendar(t *testing.T) {
	f := newBookingFixture(fakeSlots{err: fmt.Errorf("slot policy: %w: %s", policy.ErrUnknownBookingType, otherAgentsType)})

	body := `{"agent_id":"a-1","client_name":"Dana Reyes","booking_type_id":"` + otherAgentsType + `",
	"start_time":"2026-03-17T10:00:00Z","end_time":"2026-03-17T10:30:00Z"}`
	req := newRequest(http.MethodPost, "/api/v1/public/bookings", body)
	req.Header.Set("Idempotency-Key", "k-type")
	rec := httptest.NewRecorder()
	f.h.Create(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.cal.created) != 0 || len(f.repo.created) != 0 || len(f.events.events) != 0 {
		t.Fatal("unknown booking type must not reach the calendar, the store or the outbox")
	}
	if got := f.repo.idem["a-1/k-type"]; got.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("rejection must be remembered under the key, got %+v", got)
	}
}

func TestCreateBooking_IdempotentReplayOfSuccess(t *testing.T) {
	f := newBookingFixture(fakeSlots{ok: true})
	for i := 0; i < 2; i++ {
		req := newRequest(http.MethodPost, "/api/v1/public/bookings", createBody)
		req.Header.Set("Idempotency-Key", "k-2")
		rec := httptest.NewRecorder()
		f.h.Create(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rec.Code)
		}
	}
	if len(f.repo.created) != 1 || len(f.cal.created) != 1 {
		t.Fatalf("retry must not book twice: bookings=%d events=%d", len(f.repo.created), len(f.cal.created))
	}
}

func TestCreateBooking_Failures(t *testing.T) {
	f := newBookingFixture(fakeSlots{err: errors.New("calendar timeout")})
	rec := httptest.NewRecorder()
	f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", createBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when availability fails, got %d", rec.Code)
	}

	f = newBookingFixture(fakeSlots{ok: true})
	f.cal.createErr = errors.New("googleapi: Error 500")
	rec = httptest.NewRecorder()
	f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", createBody))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on calendar failure, got %d", rec.Code)
	}
	if len(f.repo.created) != 0 {
		t.Fatal("booking must not be stored when the calendar write fails")
	}

	f = newBookingFixture(fakeSlots{ok: true})
	f.repo.createErr = &pgconn.PgError{Code: "23P01"}
	rec = httptest.NewRecorder()
	f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", createBody))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on overlap, got %d", rec.Code)
	}
	if len(f.cal.deleted) != 1 || f.cal.deleted[0] != "gcal-1" {
		t.Fatalf("orphaned calendar event must be removed, deleted %v", f.cal.deleted)
	}
}

func TestCreateBooking_NotConnectedStillBooks(t *testing.T) {
	f := newBookingFixture(fakeSlots{ok: true})
	f.cal.createErr = calendar.ErrNotConnected
	rec := httptest.NewRecorder()
	f.h.Create(rec, newRequest(http.MethodPost, "/api/v1/public/bookings", createBody))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if f.repo.created[0].CalendarEventID != "" {
		t.Fatalf("expected no calendar event id, got %q", f.repo.created[0].CalendarEventID)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newBookingFixture(fakeSlots{})
	f.repo.existing["bk-9"] = model.Booking{
		ID: "bk-9", AgentID: "a-1", Status: model.BookingStatusBooked, CalendarEventID: "gcal-9",
		StartTime: at(10, 0), EndTime: at(11, 0),
	}

	rec := httptest.NewRecorder()
	f.h.Cancel(rec, asAgent(newRequest(http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"bk-9","reason":"client ill"}`), "a-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != outbox.EventBookingCancelled {
		t.Fatalf("unexpected outbox events %+v", f.events.events)
	}
	if len(f.cal.deleted) != 1 || f.cal.deleted[0] != "gcal-9" {
		t.Fatalf("expected calendar event removal, got %v", f.cal.deleted)
	}

	// Second cancel is a no-op that repeats the first answer.
	rec = httptest.NewRecorder()
	f.h.Cancel(rec, asAgent(newRequest(http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"bk-9"}`), "a-1"))
	if rec.Code != http.StatusOK || len(f.events.events) != 1 {
		t.Fatalf("expected idempotent cancel, got %d with %d events", rec.Code, len(f.events.events))
	}
}

func TestCancelBooking_Errors(t *testing.T) {
	f := newBookingFixture(fakeSlots{})
	f.repo.existing["bk-9"] = model.Booking{ID: "bk-9", AgentID: "a-1", Status: model.BookingStatusBooked}

	rec := httptest.NewRecorder()
	f.h.Cancel(rec, newRequest(http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"bk-9"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.h.Cancel(rec, asAgent(newRequest(http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"bk-9"}`), "someone-else"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another agent's booking, got %d", rec.Code)
	}
}

func TestListBookings(t *testing.T) {
	f := newBookingFixture(fakeSlots{})
	f.repo.existing["bk-1"] = model.Booking{ID: "bk-1", AgentID: "a-1", Status: model.BookingStatusBooked, StartTime: at(9, 0), EndTime: at(9, 30)}
	f.repo.existing["bk-2"] = model.Booking{ID: "bk-2", AgentID: "a-2", Status: model.BookingStatusBooked}

	rec := httptest.NewRecorder()
	f.h.List(rec, asAgent(newRequest(http.MethodGet, "/api/v1/bookings?limit=10", ""), "a-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []bookingItem
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].BookingID != "bk-1" || items[0].StartTime != "2026-03-17T09:00:00Z" {
		t.Fatalf("unexpected items %+v", items)
	}
}
