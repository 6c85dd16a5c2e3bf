package availability

// Resolve subtracts busy intervals from window and returns the free intervals
// that are at least opts.MinimumFreeGap long, sorted by start.
//
// Touching boundaries do not count as overlap: a meeting ending at 10:00
// leaves a candidate starting at 10:00 untouched.
func Resolve(window BusinessWindow, busy []Interval, opts Options) ([]Interval, error) {
	win, err := window.Interval()
	if err != nil {
		return nil, err
	}

	candidates := []Interval{win}
	for _, b := range busy {
		if !b.valid() {
			return nil, &InvalidIntervalError{Kind: "busy interval", Start: b.Start, End: b.End}
		}
		next := make([]Interval, 0, len(candidates)+1)
		for _, c := range candidates {
			next = append(next, subtract(c, b)...)
		}
		candidates = next
	}

	free := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if c.Duration() < opts.MinimumFreeGap {
			continue
		}
		free = append(free, c)
	}
	sortIntervals(free)
	return free, nil
}

// subtract removes b from c, yielding zero, one or two pieces.
func subtract(c, b Interval) []Interval {
	if !Overlaps(c, b) {
		return []Interval{c}
	}
	coversHead := !b.Start.After(c.Start)
	coversTail := !b.End.Before(c.End)
	switch {
	case coversHead && coversTail:
		return nil
	case coversHead:
		return []Interval{{Start: b.End, End: c.End}}
	case coversTail:
		return []Interval{{Start: c.Start, End: b.Start}}
	default:
		return []Interval{
			{Start: c.Start, End: b.Start},
			{Start: b.End, End: c.End},
		}
	}
}
