package availability

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSlotPolicy is returned for non-positive gap, duration or step settings.
var ErrInvalidSlotPolicy = errors.New("invalid slot policy")

const (
	DefaultMinimumFreeGap = 30 * time.Minute
	DefaultSlotDuration   = 60 * time.Minute
	DefaultSlotStep       = 30 * time.Minute
)

// Options is the per-call policy applied by Compute.
type Options struct {
	MinimumFreeGap time.Duration
	SlotDuration   time.Duration
	SlotStep       time.Duration
	// AllDayMeansFullyBusy turns any all-day event into a fully booked window.
	// When false an all-day event blocks only its own bounds, like a timed event.
	AllDayMeansFullyBusy bool
}

func DefaultOptions() Options {
	return Options{
		MinimumFreeGap:       DefaultMinimumFreeGap,
		SlotDuration:         DefaultSlotDuration,
		SlotStep:             DefaultSlotStep,
		AllDayMeansFullyBusy: true,
	}
}

func (o Options) Validate() error {
	if o.MinimumFreeGap <= 0 {
		return fmt.Errorf("%w: minimum free gap must be > 0 (got %s)", ErrInvalidSlotPolicy, o.MinimumFreeGap)
	}
	if o.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be > 0 (got %s)", ErrInvalidSlotPolicy, o.SlotDuration)
	}
	if o.SlotStep <= 0 {
		return fmt.Errorf("%w: slot step must be > 0 (got %s)", ErrInvalidSlotPolicy, o.SlotStep)
	}
	return nil
}
