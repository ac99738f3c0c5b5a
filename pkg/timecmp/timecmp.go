package timecmp

import "time"

// Leq returns true if l <= r
func Leq(l, r time.Time) bool {
	return l.Before(r) || l.Equal(r)
}

// Max returns whichever of l or r is greatest (farther in the future)
func Max(l, r time.Time) time.Time {
	if l.Before(r) {
		return r
	}
	return l
}

// Min returns whichever of l or r is least (farther in the past)
func Min(l, r time.Time) time.Time {
	if l.Before(r) {
		return l
	}
	return r
}

// Clamp returns 't' moved into [lo, hi]. If hi < lo, lo wins.
func Clamp(t, lo, hi time.Time) time.Time {
	return Max(lo, Min(t, hi))
}

// Within returns true if t is in the half-open range [l, r)
func Within(t, l, r time.Time) bool {
	return Leq(l, t) && t.Before(r)
}

// NonNegative returns d, or 0 if d is negative
func NonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
