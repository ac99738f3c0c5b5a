package chrono

import (
	"time"

	"github.com/msteffen/machine-chronograph/client"
)

// FillerKind distinguishes the synthetic NO_DATA segments inserted by FillGaps.
// It's for display only; all fillers behave identically.
type FillerKind string

const (
	// NotFiller marks a segment derived from real events
	NotFiller FillerKind = ""
	// GapFiller covers time inside [windowStart, clipPoint) with no events
	GapFiller FillerKind = "no-data"
	// PostShiftFiller covers [clipPoint, windowEnd) when 'now' is before the
	// end of the window
	PostShiftFiller FillerKind = "post-shift"
)

// Segment is a maximal, contiguous, labeled span of a reconciled timeline
type Segment struct {
	State       client.StateLabel `json:"state"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Duration    time.Duration     `json:"duration"`
	Description string            `json:"description,omitempty"`

	// IsSynthetic is true for NO_DATA fillers
	IsSynthetic bool       `json:"is_synthetic"`
	Filler      FillerKind `json:"filler,omitempty"`

	// IsCurrent marks the real segment that ends at the clip point; its end
	// moves forward on every recomputation until the next transition
	IsCurrent bool `json:"is_current"`
}

// Seconds returns the segment's duration in seconds
func (s Segment) Seconds() float64 {
	return s.Duration.Seconds()
}

// merger coalesces a sequence of segments: segments are "added" to a merger,
// and when all of them have been processed, the merger is "finished" and the
// merged list is extracted
type merger struct {
	// cur is the segment currently being extended (its end advances until a
	// segment with a different state, or a gap, is encountered)
	cur      Segment
	haveCur  bool
	segments []Segment
}

// Add adds 's' to 'm'. 's' extends the current segment if it has the same
// state and starts exactly where the current segment ends. Synthetic segments
// are never merged.
func (m *merger) Add(s Segment) {
	if m.haveCur && !s.IsSynthetic && !m.cur.IsSynthetic &&
		s.State == m.cur.State && s.Start.Equal(m.cur.End) {
		if s.End.After(m.cur.End) {
			m.cur.End = s.End
			m.cur.Duration = m.cur.End.Sub(m.cur.Start)
		}
		return
	}
	m.flush()
	m.cur, m.haveCur = s, true
}

func (m *merger) flush() {
	if m.haveCur {
		m.segments = append(m.segments, m.cur)
	}
	m.haveCur = false
}

// Finish indicates that no more segments will be added, and returns the
// merged list
func (m *merger) Finish() []Segment {
	m.flush()
	return m.segments
}

// Merge converts normalized events into segments, coalescing consecutive
// events that share a state and are contiguous. Zero-duration events chain
// like any other event.
func Merge(events []NormalizedEvent) []Segment {
	m := merger{segments: make([]Segment, 0, len(events))}
	for _, e := range events {
		m.Add(Segment{
			State:       e.State,
			Start:       e.Timestamp,
			End:         e.EffectiveEnd,
			Duration:    e.EffectiveDuration,
			Description: e.Description,
		})
	}
	return m.Finish()
}

// MergeSegments re-runs the merge step over an existing segment list. Running
// it on its own output returns the same list.
func MergeSegments(segments []Segment) []Segment {
	m := merger{segments: make([]Segment, 0, len(segments))}
	for _, s := range segments {
		m.Add(s)
	}
	return m.Finish()
}
