// Package scheduling turns stored agent settings, recorded bookings and
// calendar contents into bookable availability.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/estatecraft/agentdesk/libs/otel"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/calendar"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("scheduling: date must be YYYY-MM-DD")

type AgentStore interface {
	GetProfile(ctx context.Context, agentID string) (model.AgentProfile, error)
	GetWorkingHours(ctx context.Context, agentID string, weekday int) (model.WorkingHours, error)
	ListTimeOff(ctx context.Context, agentID string, from, to time.Time) ([]model.TimeOff, error)
}

type BookingStore interface {
	ListBookedIntervals(ctx context.Context, agentID string, from, to time.Time) ([]model.Booking, error)
}

type Planner struct {
	agents   AgentStore
	bookings BookingStore
	source   calendar.EventSource
	policy   policy.Provider
	logger   *slog.Logger

	now             func() time.Time
	teamParallelism int
}

func NewPlanner(agents AgentStore, bookings BookingStore, source calendar.EventSource, policy policy.Provider, logger *slog.Logger) *Planner {
	return &Planner{
		agents:          agents,
		bookings:        bookings,
		source:          source,
		policy:          policy,
		logger:          logger,
		now:             time.Now,
		teamParallelism: 4,
	}
}

// Query asks for one agent's availability on a local calendar date.
// Non-zero Duration and Step override the slot policy.
type Query struct {
	AgentID       string
	Date          string
	BookingTypeID string
	Duration      time.Duration
	Step          time.Duration
}

// Day is the availability of one agent on one date.
type Day struct {
	availability.Result
	Date              string
	Timezone          string
	Working           bool
	CalendarConnected bool
}

// Window resolves the agent's business window for a local date. ok is false
// when the agent does not work that day.
func (p *Planner) Window(ctx context.Context, agentID, date string) (availability.BusinessWindow, *time.Location, bool, error) {
	profile, err := p.agents.GetProfile(ctx, agentID)
	if err != nil {
		return availability.BusinessWindow{}, nil, false, fmt.Errorf("load profile: %w", err)
	}
	loc := calendar.LoadLocation(profile.Timezone)

	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return availability.BusinessWindow{}, loc, false, ErrInvalidDate
	}
	wh, err := p.agents.GetWorkingHours(ctx, agentID, int(day.Weekday()))
	if err != nil {
		return availability.BusinessWindow{}, loc, false, fmt.Errorf("load working hours: %w", err)
	}
	if !wh.IsWorking || !wh.Valid() {
		return availability.BusinessWindow{}, loc, false, nil
	}

	// Wall-clock construction keeps 09:00 at 09:00 across DST changes.
	return availability.BusinessWindow{
		DayStart: time.Date(day.Year(), day.Month(), day.Day(), wh.StartMinute/60, wh.StartMinute%60, 0, 0, loc),
		DayEnd:   time.Date(day.Year(), day.Month(), day.Day(), wh.EndMinute/60, wh.EndMinute%60, 0, 0, loc),
	}, loc, true, nil
}

func (p *Planner) Availability(ctx context.Context, q Query) (out Day, err error) {
	ctx, span := otelx.StartSpan(ctx, "scheduling.Availability", trace.WithAttributes(
		attribute.String("agent_id", q.AgentID),
		attribute.String("date", q.Date),
	))
	defer func() { otelx.EndSpan(span, err) }()

	window, loc, working, err := p.Window(ctx, q.AgentID, q.Date)
	if err != nil {
		return Day{}, err
	}
	out = Day{Date: q.Date, Timezone: loc.String(), Working: working}
	if !working {
		return out, nil
	}

	opts, err := p.policy.SlotOptions(ctx, q.AgentID, q.BookingTypeID)
	if err != nil {
		return Day{}, fmt.Errorf("slot policy: %w", err)
	}
	if q.Duration > 0 {
		opts.SlotDuration = q.Duration
	}
	if q.Step > 0 {
		opts.SlotStep = q.Step
	}

	events, connected, err := p.busyEvents(ctx, q.AgentID, window)
	if err != nil {
		return Day{}, err
	}
	out.CalendarConnected = connected

	res, err := availability.Compute(window, events, opts, p.now())
	if err != nil {
		return Day{}, err
	}
	out.Result = res
	return out, nil
}

// busyEvents gathers calendar events, recorded bookings and time off for the
// window concurrently. An agent without a connected calendar is served from
// bookings and time off alone.
func (p *Planner) busyEvents(ctx context.Context, agentID string, window availability.BusinessWindow) ([]availability.BusyEvent, bool, error) {
	var (
		calEvents []availability.BusyEvent
		booked    []model.Booking
		timeOff   []model.TimeOff
		connected = true
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		evs, err := p.source.ListBusy(gctx, agentID, window.DayStart, window.DayEnd)
		if errors.Is(err, calendar.ErrNotConnected) {
			p.logger.Warn("agent calendar not connected; using recorded bookings only", "agent_id", agentID)
			connected = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("calendar busy events: %w", err)
		}
		calEvents = evs
		return nil
	})
	g.Go(func() error {
		b, err := p.bookings.ListBookedIntervals(gctx, agentID, window.DayStart, window.DayEnd)
		if err != nil {
			return fmt.Errorf("booked intervals: %w", err)
		}
		booked = b
		return nil
	})
	g.Go(func() error {
		t, err := p.agents.ListTimeOff(gctx, agentID, window.DayStart, window.DayEnd)
		if err != nil {
			return fmt.Errorf("time off: %w", err)
		}
		timeOff = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	events := make([]availability.BusyEvent, 0, len(calEvents)+len(booked)+len(timeOff))
	events = append(events, calEvents...)
	for _, b := range booked {
		events = append(events, availability.BusyEvent{Start: b.StartTime, End: b.EndTime})
	}
	for _, off := range timeOff {
		events = append(events, availability.BusyEvent{Start: off.StartTime, End: off.EndTime})
	}
	return events, connected, nil
}

// ValidateSlot reports whether [start, end) lies inside a currently free
// interval of the agent's day and does not start in the past. With a booking
// type the request must match one of the offered slots exactly, so its
// length and grid come from the type's slot policy.
func (p *Planner) ValidateSlot(ctx context.Context, agentID, bookingTypeID string, start, end time.Time) (bool, error) {
	if !start.Before(end) || start.Before(p.now()) {
		return false, nil
	}
	profile, err := p.agents.GetProfile(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load profile: %w", err)
	}
	q := Query{
		AgentID:       agentID,
		Date:          start.In(calendar.LoadLocation(profile.Timezone)).Format(dateLayout),
		BookingTypeID: bookingTypeID,
	}
	if bookingTypeID == "" {
		q.Duration = end.Sub(start)
	}

	day, err := p.Availability(ctx, q)
	if err != nil {
		return false, err
	}
	if bookingTypeID != "" {
		for _, s := range day.Slots {
			if s.Start.Equal(start) && s.End.Equal(end) {
				return true, nil
			}
		}
		return false, nil
	}
	want := availability.Interval{Start: start, End: end}
	for _, free := range day.Free {
		if free.Contains(want) {
			return true, nil
		}
	}
	return false, nil
}
