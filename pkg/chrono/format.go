// Package chrono reconstructs a gapless timeline ("chronograph") of machine
// states from a sparse list of state-change events.
//
// The pipeline is Normalize -> Merge -> FillGaps (Reconcile runs all three).
// Segments are always rebuilt from the raw events and the current time; they
// are never updated incrementally.
package chrono

import (
	"fmt"
	"math"
	"time"
)

// FormatDuration renders a number of seconds as "42s", "3m 7s" or "2h 15m".
// Negative (and NaN) inputs are treated as 0.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", int64(math.Round(seconds)))
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds",
			int64(math.Floor(seconds/60)), int64(math.Round(math.Mod(seconds, 60))))
	default:
		return fmt.Sprintf("%dh %dm",
			int64(math.Floor(seconds/3600)), int64(math.Floor(math.Mod(seconds, 3600)/60)))
	}
}

// Format is FormatDuration for a time.Duration
func Format(d time.Duration) string {
	return FormatDuration(d.Seconds())
}

// secondsToDuration converts a (possibly fractional) number of seconds
func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
