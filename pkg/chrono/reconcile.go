package chrono

import (
	"time"

	"github.com/msteffen/machine-chronograph/client"
)

// Reconcile runs the whole pipeline over the raw events and returns segments
// that partition 'w' exactly: sorted, gapless, non-overlapping, with no two
// adjacent real segments sharing a state.
func Reconcile(events []client.StateEvent, w Window, now time.Time) []Segment {
	return FillGaps(Merge(Normalize(events, w, now)), w, now)
}

// Totals sums segment durations per state (NO_DATA included)
func Totals(segments []Segment) map[client.StateLabel]time.Duration {
	totals := make(map[client.StateLabel]time.Duration)
	for _, s := range segments {
		totals[s.State] += s.Duration
	}
	return totals
}

// Current returns the segment marked IsCurrent, if any
func Current(segments []Segment) (Segment, bool) {
	for _, s := range segments {
		if s.IsCurrent {
			return s, true
		}
	}
	return Segment{}, false
}
