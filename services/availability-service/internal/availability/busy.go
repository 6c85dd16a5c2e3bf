package availability

import (
	"sort"
	"time"
)

// BusyEvent is one calendar commitment as delivered by the calendar adapter.
type BusyEvent struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsAllDay    bool      `json:"is_all_day,omitempty"`
	IsCancelled bool      `json:"is_cancelled,omitempty"`
}

// BusinessWindow bounds availability for one calendar day. Both instants are
// already resolved to the agent's time zone by the caller.
type BusinessWindow struct {
	DayStart time.Time
	DayEnd   time.Time
}

func (w BusinessWindow) Interval() (Interval, error) {
	if !w.DayStart.Before(w.DayEnd) {
		return Interval{}, &InvalidIntervalError{Kind: "business window", Start: w.DayStart, End: w.DayEnd}
	}
	return Interval{Start: w.DayStart, End: w.DayEnd}, nil
}

// calendarDay is the local day containing DayStart, midnight to midnight in
// DayStart's location.
func (w BusinessWindow) calendarDay() Interval {
	y, m, d := w.DayStart.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, w.DayStart.Location())
	return Interval{Start: midnight, End: midnight.AddDate(0, 0, 1)}
}

// BusyIntervals normalizes events into busy intervals clipped to window and
// sorted by start. Overlapping events are kept as-is; Resolve absorbs them.
//
// An all-day event blocks the whole window only when it falls on the
// window's calendar day. A single malformed event fails the whole batch,
// cancelled ones included.
func BusyIntervals(events []BusyEvent, window BusinessWindow, opts Options) ([]Interval, error) {
	win, err := window.Interval()
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if !ev.Start.Before(ev.End) {
			return nil, &InvalidIntervalError{Kind: "busy event", Start: ev.Start, End: ev.End}
		}
	}

	day := window.calendarDay()
	busy := make([]Interval, 0, len(events))
	for _, ev := range events {
		if ev.IsCancelled {
			continue
		}
		if ev.IsAllDay && opts.AllDayMeansFullyBusy {
			if Overlaps(Interval{Start: ev.Start, End: ev.End}, day) {
				busy = append(busy, win)
			}
			continue
		}
		clipped, ok := Clip(Interval{Start: ev.Start, End: ev.End}, win)
		if !ok {
			continue
		}
		busy = append(busy, clipped)
	}

	sortIntervals(busy)
	return busy, nil
}

func sortIntervals(in []Interval) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})
}
