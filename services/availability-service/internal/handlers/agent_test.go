package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
)

type fakeAgentStore struct {
	profile  model.AgentProfile
	hours    map[int]model.WorkingHours
	types    []model.BookingType
	timeOff  []model.TimeOff
	sealed   string
	writeErr error
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{hours: map[int]model.WorkingHours{}}
}

func (f *fakeAgentStore) GetProfile(_ context.Context, agentID string) (model.AgentProfile, error) {
	p := f.profile
	p.AgentID = agentID
	return p, nil
}

func (f *fakeAgentStore) UpsertProfile(_ context.Context, p model.AgentProfile) error {
	f.profile = p
	return nil
}

func (f *fakeAgentStore) ListWorkingHours(_ context.Context, agentID string) ([]model.WorkingHours, error) {
	out := make([]model.WorkingHours, 0, 7)
	for d := 0; d < 7; d++ {
		if wh, ok := f.hours[d]; ok {
			out = append(out, wh)
			continue
		}
		out = append(out, model.DefaultWorkingHours(agentID, d))
	}
	return out, nil
}

func (f *fakeAgentStore) UpsertWorkingHours(_ context.Context, wh model.WorkingHours) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.hours[wh.Weekday] = wh
	return nil
}

func (f *fakeAgentStore) CreateBookingType(_ context.Context, bt model.BookingType) (string, error) {
	bt.ID = "bt-1"
	f.types = append(f.types, bt)
	return bt.ID, nil
}

func (f *fakeAgentStore) ListBookingTypes(context.Context, string) ([]model.BookingType, error) {
	return f.types, nil
}

func (f *fakeAgentStore) CreateTimeOff(_ context.Context, off model.TimeOff) (string, error) {
	off.ID = "off-1"
	f.timeOff = append(f.timeOff, off)
	return off.ID, nil
}

func (f *fakeAgentStore) ListTimeOff(context.Context, string, time.Time, time.Time) ([]model.TimeOff, error) {
	return f.timeOff, nil
}

func (f *fakeAgentStore) SaveCredentials(_ context.Context, _ string, sealed string) error {
	f.sealed = sealed
	return nil
}

type reverseSealer struct{}

func (reverseSealer) Seal(s string) (string, error) {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return "sealed:" + string(b), nil
}

type recordingInvalidator struct{ agents []string }

func (r *recordingInvalidator) Invalidate(_ context.Context, agentID string) {
	r.agents = append(r.agents, agentID)
}

func TestWorkingHours_PutAndGet(t *testing.T) {
	store := newFakeAgentStore()
	h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())

	body := `{"days":[{"weekday":6,"is_working":true,"start_time":"10:00","end_time":"14:00"},{"weekday":1,"is_working":false}]}`
	rec := httptest.NewRecorder()
	h.WorkingHours(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/working-hours", body), "a-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if wh := store.hours[6]; !wh.IsWorking || wh.StartMinute != 600 || wh.EndMinute != 840 || wh.AgentID != "a-1" {
		t.Fatalf("unexpected saturday %+v", wh)
	}

	var got workingHoursBody
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Days) != 7 || got.Days[1].IsWorking || got.Days[2].StartTime != "09:00" || got.Days[6].EndTime != "14:00" {
		t.Fatalf("unexpected week %+v", got.Days)
	}
}

func TestWorkingHours_RejectsInvalid(t *testing.T) {
	bodies := map[string]string{
		"empty":        `{"days":[]}`,
		"reversed":     `{"days":[{"weekday":2,"is_working":true,"start_time":"18:00","end_time":"09:00"}]}`,
		"bad weekday":  `{"days":[{"weekday":7,"is_working":false}]}`,
		"bad clock":    `{"days":[{"weekday":2,"is_working":true,"start_time":"9am","end_time":"17:00"}]}`,
		"unknown keys": `{"days":[],"timezone":"UTC"}`,
	}
	for name, body := range bodies {
		store := newFakeAgentStore()
		h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())
		rec := httptest.NewRecorder()
		h.WorkingHours(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/working-hours", body), "a-1"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if len(store.hours) != 0 {
			t.Fatalf("%s: nothing may be stored", name)
		}
	}
}

func TestWorkingHours_EndOfDay(t *testing.T) {
	store := newFakeAgentStore()
	h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.WorkingHours(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/working-hours",
		`{"days":[{"weekday":5,"is_working":true,"start_time":"12:00","end_time":"24:00"}]}`), "a-1"))
	if rec.Code != http.StatusOK || store.hours[5].EndMinute != 24*60 {
		t.Fatalf("expected 24:00 to be accepted, got %d %+v", rec.Code, store.hours[5])
	}
}

func TestWorkingHours_StoreError(t *testing.T) {
	store := newFakeAgentStore()
	store.writeErr = errors.New("db down")
	h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.WorkingHours(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/working-hours",
		`{"days":[{"weekday":2,"is_working":false}]}`), "a-1"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestBookingTypes(t *testing.T) {
	store := newFakeAgentStore()
	h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.BookingTypes(rec, asAgent(newRequest(http.MethodPost, "/api/v1/agent/booking-types", `{"name":"Valuation","duration_minutes":60}`), "a-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.types) != 1 || store.types[0].StepMinutes != 60 || store.types[0].AgentID != "a-1" {
		t.Fatalf("step must default to duration, got %+v", store.types)
	}

	rec = httptest.NewRecorder()
	h.BookingTypes(rec, asAgent(newRequest(http.MethodPost, "/api/v1/agent/booking-types", `{"name":"Blink","duration_minutes":1}`), "a-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 1 minute booking type, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.BookingTypes(rec, asAgent(newRequest(http.MethodGet, "/api/v1/agent/booking-types", ""), "a-1"))
	var got []bookingTypeBody
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || len(got) != 1 || got[0].Name != "Valuation" {
		t.Fatalf("unexpected list %+v err=%v", got, err)
	}
}

func TestCalendarCredentials(t *testing.T) {
	store := newFakeAgentStore()
	store.profile = model.AgentProfile{DisplayName: "Sam Okafor"}
	cache := &recordingInvalidator{}
	h := NewAgentHandler(store, reverseSealer{}, cache, discardLogger())

	rec := httptest.NewRecorder()
	h.CalendarCredentials(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/calendar-credentials",
		`{"refresh_token":"abc","calendar_id":"work@example.com","timezone":"UTC"}`), "a-1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.sealed != "sealed:cba" {
		t.Fatalf("token must be stored sealed, got %q", store.sealed)
	}
	if store.profile.CalendarID != "work@example.com" || store.profile.Timezone != "UTC" || store.profile.DisplayName != "Sam Okafor" {
		t.Fatalf("unexpected profile %+v", store.profile)
	}
	if len(cache.agents) != 1 || cache.agents[0] != "a-1" {
		t.Fatalf("expected cache invalidation, got %v", cache.agents)
	}

	rec = httptest.NewRecorder()
	h.CalendarCredentials(rec, asAgent(newRequest(http.MethodPut, "/api/v1/agent/calendar-credentials",
		`{"refresh_token":"abc","timezone":"Mars/Olympus"}`), "a-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown timezone, got %d", rec.Code)
	}
}

func TestTimeOff(t *testing.T) {
	store := newFakeAgentStore()
	h := NewAgentHandler(store, reverseSealer{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.TimeOff(rec, asAgent(newRequest(http.MethodPost, "/api/v1/agent/time-off",
		`{"start_time":"2026-03-17T12:00:00Z","end_time":"2026-03-17T13:00:00Z","reason":"dentist"}`), "a-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.timeOff) != 1 || !store.timeOff[0].StartTime.Equal(at(12, 0)) {
		t.Fatalf("unexpected time off %+v", store.timeOff)
	}

	rec = httptest.NewRecorder()
	h.TimeOff(rec, asAgent(newRequest(http.MethodGet, "/api/v1/agent/time-off?from=2026-03-17T00:00:00Z&to=2026-03-18T00:00:00Z", ""), "a-1"))
	var got []timeOffBody
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || len(got) != 1 || got[0].Reason != "dentist" {
		t.Fatalf("unexpected list %+v err=%v", got, err)
	}

	rec = httptest.NewRecorder()
	h.TimeOff(rec, asAgent(newRequest(http.MethodGet, "/api/v1/agent/time-off?from=2026-03-18T00:00:00Z&to=2026-03-17T00:00:00Z", ""), "a-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reversed range, got %d", rec.Code)
	}
}
