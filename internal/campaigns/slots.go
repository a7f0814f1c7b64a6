// Package campaigns computes reservation slots for donation campaigns.
package campaigns

import "time"

// Slot is one reservable interval of a campaign day.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Slots splits [opensAt, closesAt) into consecutive intervals of step. A trailing
// interval shorter than step is dropped. Slots that have already started at
// now are returned but not available.
func Slots(opensAt, closesAt time.Time, step time.Duration, now time.Time) []Slot {
	if step <= 0 || !closesAt.After(opensAt) {
		return nil
	}
	var out []Slot
	for start := opensAt; !start.Add(step).After(closesAt); start = start.Add(step) {
		out = append(out, Slot{
			Start:     start,
			End:       start.Add(step),
			Available: start.After(now),
		})
	}
	return out
}
