package availability

import "time"

// Result is the outcome of one availability computation. Empty slices mean
// "no availability", which is a normal outcome rather than an error.
type Result struct {
	Free  []Interval
	Slots []Slot
}

// Compute runs extraction, resolution and quantization for one business day.
// Slots starting before now are dropped unless now is zero.
func Compute(window BusinessWindow, events []BusyEvent, opts Options, now time.Time) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	busy, err := BusyIntervals(events, window, opts)
	if err != nil {
		return Result{}, err
	}
	free, err := Resolve(window, busy, opts)
	if err != nil {
		return Result{}, err
	}
	slots, err := Quantize(free, opts.SlotDuration, opts.SlotStep)
	if err != nil {
		return Result{}, err
	}
	return Result{Free: free, Slots: DropPast(slots, now)}, nil
}
