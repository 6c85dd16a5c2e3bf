package calendar

import (
	"fmt"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	gcal "google.golang.org/api/calendar/v3"
)

const (
	statusCancelled     = "cancelled"
	transparencyFree    = "transparent"
	dateLayout          = "2006-01-02"
	privatePropBookedBy = "agentdesk_request_id"
)

// toBusyEvent maps a Google event. ok is false for events that never block
// time: those marked "free" and cancelled stubs that carry no times.
// All-day dates are anchored at midnight in loc.
func toBusyEvent(ev *gcal.Event, loc *time.Location) (availability.BusyEvent, bool, error) {
	if ev == nil || ev.Transparency == transparencyFree {
		return availability.BusyEvent{}, false, nil
	}
	cancelled := ev.Status == statusCancelled
	if cancelled && (ev.Start == nil || ev.End == nil) {
		return availability.BusyEvent{}, false, nil
	}

	start, startAllDay, err := parseEventTime(ev.Start, loc)
	if err != nil {
		return availability.BusyEvent{}, false, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	end, _, err := parseEventTime(ev.End, loc)
	if err != nil {
		return availability.BusyEvent{}, false, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return availability.BusyEvent{
		Start:       start,
		End:         end,
		IsAllDay:    startAllDay,
		IsCancelled: cancelled,
	}, true, nil
}

func parseEventTime(t *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return parsed, false, nil
	}
	if t.Date != "" {
		parsed, err := time.ParseInLocation(dateLayout, t.Date, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		return parsed, true, nil
	}
	return time.Time{}, false, fmt.Errorf("neither dateTime nor date set")
}

func toGoogleEvent(in EventInput, loc *time.Location) *gcal.Event {
	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       &gcal.EventDateTime{DateTime: in.Start.In(loc).Format(time.RFC3339), TimeZone: loc.String()},
		End:         &gcal.EventDateTime{DateTime: in.End.In(loc).Format(time.RFC3339), TimeZone: loc.String()},
	}
	if in.AttendeeEmail != "" {
		ev.Attendees = []*gcal.EventAttendee{{Email: in.AttendeeEmail}}
	}
	if in.RequestID != "" {
		ev.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{privatePropBookedBy: in.RequestID},
		}
	}
	return ev
}
