package availability

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval matches every *InvalidIntervalError via errors.Is.
var ErrInvalidInterval = errors.New("invalid interval")

// InvalidIntervalError reports a range whose start is not strictly before its end.
type InvalidIntervalError struct {
	Kind  string
	Start time.Time
	End   time.Time
}

func (e *InvalidIntervalError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "interval"
	}
	return fmt.Sprintf("invalid %s: start %s is not before end %s",
		kind, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *InvalidIntervalError) Is(target error) bool {
	return target == ErrInvalidInterval
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns an Interval, rejecting start >= end.
func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, &InvalidIntervalError{Kind: "interval", Start: start, End: end}
	}
	return Interval{Start: start, End: end}, nil
}

func (i Interval) valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether b lies entirely inside i.
func (i Interval) Contains(b Interval) bool {
	return !b.Start.Before(i.Start) && !b.End.After(i.End)
}

// Overlaps uses half-open semantics: intervals that only touch do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Clip returns the part of a inside window. ok is false when they are disjoint.
func Clip(a, window Interval) (Interval, bool) {
	if !Overlaps(a, window) {
		return Interval{}, false
	}
	out := a
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out, true
}

func DurationMinutes(a Interval) float64 {
	return a.Duration().Minutes()
}
