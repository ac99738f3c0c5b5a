package chrono

import (
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

const (
	noDataDescription    = "No data"
	postShiftDescription = "Post-shift"
)

func filler(kind FillerKind, start, end time.Time) Segment {
	desc := noDataDescription
	if kind == PostShiftFiller {
		desc = postShiftDescription
	}
	return Segment{
		State:       client.NoData,
		Start:       start,
		End:         end,
		Duration:    end.Sub(start),
		Description: desc,
		IsSynthetic: true,
		Filler:      kind,
	}
}

// FillGaps turns merged segments into a gapless partition of 'w':
//   - NO_DATA before the first segment, between non-contiguous segments and
//     after the last one, up to the clip point
//   - a trailing post-shift NO_DATA segment [clipPoint, w.End) if 'now' is
//     before w.End
//
// Real segments are clipped to [w.Start, clipPoint) and zero-width ones are
// dropped. The real segment ending at the clip point is marked IsCurrent while
// the window is still open. An empty window yields nil.
func FillGaps(segments []Segment, w Window, now time.Time) []Segment {
	if !w.End.After(w.Start) {
		return nil
	}
	clip := w.ClipPoint(now)

	// clip real segments to the window and drop empty ones. Dropping a
	// zero-width segment can make two same-state segments adjacent, so merge
	// again.
	real := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.IsSynthetic {
			continue
		}
		s.Start = timecmp.Clamp(s.Start, w.Start, clip)
		s.End = timecmp.Clamp(s.End, s.Start, clip)
		s.Duration = s.End.Sub(s.Start)
		s.IsCurrent = false
		if s.Duration > 0 {
			real = append(real, s)
		}
	}
	real = MergeSegments(real)

	result := make([]Segment, 0, 2*len(real)+2)
	cursor := w.Start
	for _, s := range real {
		if s.Start.Before(cursor) {
			// overlaps its predecessor; keep the earlier claim
			s.Start = cursor
			if !s.End.After(s.Start) {
				continue
			}
			s.Duration = s.End.Sub(s.Start)
		}
		if s.Start.After(cursor) {
			result = append(result, filler(GapFiller, cursor, s.Start))
		}
		result = append(result, s)
		cursor = s.End
	}
	if cursor.Before(clip) {
		result = append(result, filler(GapFiller, cursor, clip))
	} else if n := len(result); n > 0 && !result[n-1].IsSynthetic && clip.Before(w.End) {
		result[n-1].IsCurrent = true
	}
	if clip.Before(w.End) {
		result = append(result, filler(PostShiftFiller, clip, w.End))
	}
	return result
}
