package availability

import (
	"fmt"
	"time"
)

// Slot is a bookable [Start, End) range of exactly the requested duration.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Quantize returns slots of length duration starting at free.Start,
// free.Start+step, ... for as long as a slot still ends within its interval.
// Intervals shorter than duration yield no slots. Slots from one interval may
// overlap each other when step < duration.
//
// free must be sorted by start (as Resolve returns it); the output keeps that order.
func Quantize(free []Interval, duration, step time.Duration) ([]Slot, error) {
	if duration <= 0 || step <= 0 {
		return nil, fmt.Errorf("%w: duration %s, step %s", ErrInvalidSlotPolicy, duration, step)
	}

	var slots []Slot
	for _, iv := range free {
		if iv.Duration() < duration {
			continue
		}
		for t := iv.Start; !t.Add(duration).After(iv.End); t = t.Add(step) {
			slots = append(slots, Slot{Start: t, End: t.Add(duration)})
		}
	}
	return slots, nil
}

// DropPast removes slots starting before now. A zero now keeps everything.
func DropPast(slots []Slot, now time.Time) []Slot {
	if now.IsZero() {
		return slots
	}
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Start.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}
