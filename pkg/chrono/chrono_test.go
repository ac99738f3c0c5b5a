package chrono

import (
	"math/rand"
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/check"
)

var testRand = rand.New(rand.NewSource(7))

// day is the date used by most tests (a Monday)
var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// at returns hh:mm on 'day'
func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

var shift = Window{Start: at(7, 0), End: at(17, 0)}

func ev(ts time.Time, state client.StateLabel, seconds float64) client.StateEvent {
	return client.StateEvent{Timestamp: ts, State: state, Duration: seconds}
}

// span is a compact (state, start, end) triple for comparing segment lists
type span struct {
	State      client.StateLabel
	Start, End time.Time
}

func spans(segments []Segment) []span {
	result := make([]span, 0, len(segments))
	for _, s := range segments {
		result = append(result, span{s.State, s.Start, s.End})
	}
	return result
}

// checkPartition confirms the invariants that every reconciled list must
// satisfy
func checkPartition(t *testing.T, segments []Segment, w Window, now time.Time) {
	t.Helper()
	if len(segments) == 0 {
		t.Fatalf("no segments for %s", w)
	}
	clip := w.ClipPoint(now)
	check.T(t,
		check.Eq(segments[0].Start, w.Start),
		check.Eq(segments[len(segments)-1].End, w.End))
	var total time.Duration
	for i, s := range segments {
		total += s.Duration
		check.T(t, check.Eq(s.Duration, s.End.Sub(s.Start)))
		if s.End.After(clip) && s.Filler != PostShiftFiller {
			t.Fatalf("segment %d %v ends after clip point %v", i, s, clip)
		}
		if i+1 == len(segments) {
			continue
		}
		next := segments[i+1]
		check.T(t, check.Eq(s.End, next.Start))
		if !s.IsSynthetic && !next.IsSynthetic && s.State == next.State {
			t.Fatalf("adjacent segments %d and %d share state %s", i, i+1, s.State)
		}
	}
	check.T(t, check.Eq(total, w.Duration()))
}

func TestFormatDuration(t *testing.T) {
	for _, c := range []struct {
		seconds  float64
		expected string
	}{
		{0, "0s"},
		{-5, "0s"},
		{0.4, "0s"},
		{59, "59s"},
		{60, "1m 0s"},
		{90, "1m 30s"},
		{3599, "59m 59s"},
		{3600, "1h 0m"},
		{3661, "1h 1m"},
		{36000, "10h 0m"},
	} {
		check.T(t, check.Eq(FormatDuration(c.seconds), c.expected))
	}
	check.T(t, check.Eq(Format(90*time.Minute), "1h 30m"))
}

// TestShiftWithOpenState is the canonical example: one closed RUNNING event,
// one IDLE event that's still open at 9:00
func TestShiftWithOpenState(t *testing.T) {
	now := at(9, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(7, 30), client.Running, 3600),
		ev(at(8, 30), client.Idle, 1800),
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(7, 30)},
		{client.Running, at(7, 30), at(8, 30)},
		{client.Idle, at(8, 30), at(9, 0)},
		{client.NoData, at(9, 0), at(17, 0)},
	}))
	check.T(t,
		check.Eq(segments[0].Filler, GapFiller),
		check.True(segments[2].IsCurrent),
		check.False(segments[1].IsCurrent),
		check.Eq(segments[3].Filler, PostShiftFiller),
	)
	checkPartition(t, segments, shift, now)
}

func TestMergeContiguousSameState(t *testing.T) {
	now := at(10, 20)
	segments := Reconcile([]client.StateEvent{
		ev(at(10, 0), client.Running, 600),
		ev(at(10, 10), client.Running, 600),
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(10, 0)},
		{client.Running, at(10, 0), at(10, 20)},
		{client.NoData, at(10, 20), at(17, 0)},
	}))
	checkPartition(t, segments, shift, now)
}

func TestSameStateWithGapIsNotMerged(t *testing.T) {
	now := at(11, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(10, 0), client.Running, 300), // ends 10:05
		ev(at(10, 10), client.Running, 0),
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(10, 0)},
		{client.Running, at(10, 0), at(10, 5)},
		{client.NoData, at(10, 5), at(10, 10)},
		{client.Running, at(10, 10), at(11, 0)},
		{client.NoData, at(11, 0), at(17, 0)},
	}))
	checkPartition(t, segments, shift, now)
}

func TestEmptyInput(t *testing.T) {
	t.Run("mid-shift", func(t *testing.T) {
		now := at(12, 0)
		segments := Reconcile(nil, shift, now)
		check.T(t, check.Eq(spans(segments), []span{
			{client.NoData, at(7, 0), at(12, 0)},
			{client.NoData, at(12, 0), at(17, 0)},
		}))
		check.T(t,
			check.Eq(segments[0].Filler, GapFiller),
			check.Eq(segments[1].Filler, PostShiftFiller))
		checkPartition(t, segments, shift, now)
	})
	t.Run("after-shift", func(t *testing.T) {
		now := at(20, 0)
		segments := Reconcile(nil, shift, now)
		check.T(t, check.Eq(spans(segments), []span{{client.NoData, at(7, 0), at(17, 0)}}))
		checkPartition(t, segments, shift, now)
	})
	t.Run("before-shift", func(t *testing.T) {
		now := at(6, 0)
		segments := Reconcile(nil, shift, now)
		check.T(t,
			check.Eq(spans(segments), []span{{client.NoData, at(7, 0), at(17, 0)}}),
			check.Eq(segments[0].Filler, PostShiftFiller))
		checkPartition(t, segments, shift, now)
	})
}

func TestEventsOutsideWindowAreDropped(t *testing.T) {
	now := at(18, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(6, 0), client.Error, 0),
		ev(at(8, 0), client.Running, 0),
		ev(at(17, 0), client.Idle, 0), // window is half-open
	}, shift, now)
	// RUNNING is the last event in the window, so it runs to the window end
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(8, 0)},
		{client.Running, at(8, 0), at(17, 0)},
	}))
	check.T(t, check.False(segments[1].IsCurrent))
	checkPartition(t, segments, shift, now)
}

func TestUnsortedAndMalformedInput(t *testing.T) {
	now := at(10, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(9, 0), client.Error, 0),
		{State: client.Running, Duration: 10},        // no timestamp
		ev(at(8, 30), client.StateLabel("OFFLINE"), 0), // unknown state
		ev(at(8, 45), client.Idle, -3),                 // negative duration
		ev(at(8, 0), client.Running, 0),
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(8, 0)},
		{client.Running, at(8, 0), at(9, 0)},
		{client.Error, at(9, 0), at(10, 0)},
		{client.NoData, at(10, 0), at(17, 0)},
	}))
	checkPartition(t, segments, shift, now)
}

func TestFutureEventsAreAbsorbed(t *testing.T) {
	now := at(9, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(8, 0), client.Running, 0),
		ev(at(9, 30), client.Idle, 600), // after 'now'
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(8, 0)},
		{client.Running, at(8, 0), at(9, 0)},
		{client.NoData, at(9, 0), at(17, 0)},
	}))
	check.T(t, check.True(segments[1].IsCurrent))
	checkPartition(t, segments, shift, now)
}

func TestIdenticalTimestampsKeepInputOrder(t *testing.T) {
	now := at(9, 0)
	events := Normalize([]client.StateEvent{
		ev(at(8, 0), client.Idle, 0),
		ev(at(8, 0), client.Running, 0),
	}, shift, now)
	check.T(t,
		check.Len(events, 2),
		check.Eq(events[0].State, client.Idle),
		check.Eq(events[0].EffectiveDuration, time.Duration(0)),
		check.Eq(events[1].State, client.Running),
		check.Eq(events[1].EffectiveEnd, now))
}

func TestZeroWidthEventDoesNotSplitRun(t *testing.T) {
	now := at(9, 0)
	segments := Reconcile([]client.StateEvent{
		ev(at(8, 0), client.Running, 0),
		ev(at(8, 30), client.Idle, 0),
		ev(at(8, 30), client.Running, 0),
	}, shift, now)
	check.T(t, check.Eq(spans(segments), []span{
		{client.NoData, at(7, 0), at(8, 0)},
		{client.Running, at(8, 0), at(9, 0)},
		{client.NoData, at(9, 0), at(17, 0)},
	}))
	checkPartition(t, segments, shift, now)
}

func TestNormalizeCapsByReportedDuration(t *testing.T) {
	now := at(12, 0)
	events := Normalize([]client.StateEvent{
		ev(at(8, 0), client.Running, 1200),
		ev(at(9, 0), client.Idle, 7200),
		ev(at(9, 30), client.Error, 60),
	}, shift, now)
	check.T(t,
		check.Eq(events[0].EffectiveDuration, 20*time.Minute),
		check.Eq(events[1].EffectiveDuration, 30*time.Minute),
		// the last event runs to the clip point
		check.Eq(events[2].EffectiveEnd, now))
	for i := 0; i+1 < len(events); i++ {
		check.T(t, check.False(events[i].EffectiveEnd.After(events[i+1].Timestamp)))
	}
}

// randomEvents generates 'n' events scattered over a slightly wider range
// than 'shift', with random states and durations
func randomEvents(n int) []client.StateEvent {
	events := make([]client.StateEvent, 0, n)
	for i := 0; i < n; i++ {
		offset := time.Duration(testRand.Int63n(int64(12 * time.Hour)))
		events = append(events, client.StateEvent{
			Timestamp: at(6, 0).Add(offset.Truncate(time.Second)),
			State:     client.RealStates[testRand.Intn(len(client.RealStates))],
			Duration:  float64(testRand.Intn(3600)),
		})
	}
	return events
}

func TestRandomTimelinesArePartitions(t *testing.T) {
	for i := 0; i < 200; i++ {
		events := randomEvents(testRand.Intn(40))
		now := at(6, 0).Add(time.Duration(testRand.Int63n(int64(13 * time.Hour))))
		segments := Reconcile(events, shift, now)
		checkPartition(t, segments, shift, now)

		// merging again changes nothing
		check.T(t, check.Eq(spans(MergeSegments(segments)), spans(segments)))
		merged := Merge(Normalize(events, shift, now))
		check.T(t, check.Eq(spans(MergeSegments(merged)), spans(merged)))
	}
}

func TestTotals(t *testing.T) {
	now := at(9, 0)
	totals := Totals(Reconcile([]client.StateEvent{
		ev(at(7, 30), client.Running, 3600),
		ev(at(8, 30), client.Idle, 1800),
	}, shift, now))
	check.T(t,
		check.Eq(totals[client.Running], time.Hour),
		check.Eq(totals[client.Idle], 30*time.Minute),
		check.Eq(totals[client.NoData], 8*time.Hour+30*time.Minute))
}
