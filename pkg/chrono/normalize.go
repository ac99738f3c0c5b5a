package chrono

import (
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

// NormalizedEvent is a StateEvent whose duration has been reconciled with its
// neighbours: it never runs into the next event or past the clip point
type NormalizedEvent struct {
	client.StateEvent

	// EffectiveDuration is <= the reported duration, truncated by the next
	// event's start or by the clip point
	EffectiveDuration time.Duration

	// EffectiveEnd is Timestamp + EffectiveDuration
	EffectiveEnd time.Time
}

// validEvent returns a reason why 'e' can't be placed on a timeline, or ""
func validEvent(e *client.StateEvent) string {
	switch {
	case e.Timestamp.IsZero():
		return "missing timestamp"
	case !e.State.Valid():
		return "unrecognized state " + string(e.State)
	case e.Duration < 0 || math.IsNaN(e.Duration) || math.IsInf(e.Duration, 0):
		return "invalid duration"
	}
	return ""
}

// Normalize filters 'events' to those starting inside 'w', sorts them by
// timestamp and computes each one's effective duration.
//
// Events with identical timestamps keep their input order (the sort is
// stable). Malformed events are logged and skipped. An event whose reported
// duration is 0 is considered open, and runs until the next event.
func Normalize(events []client.StateEvent, w Window, now time.Time) []NormalizedEvent {
	clip := w.ClipPoint(now)

	result := make([]NormalizedEvent, 0, len(events))
	for i := range events {
		if reason := validEvent(&events[i]); reason != "" {
			log.Warnf("skipping state event %d (%v): %s", events[i].ID, events[i].Timestamp, reason)
			continue
		}
		if !w.Contains(events[i].Timestamp) {
			continue
		}
		result = append(result, NormalizedEvent{StateEvent: events[i]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	for i := range result {
		e := &result[i]
		// no event may extend past the clip point
		limit := timecmp.NonNegative(clip.Sub(e.Timestamp))
		if i+1 < len(result) {
			toNext := result[i+1].Timestamp.Sub(e.Timestamp)
			if toNext < limit {
				limit = toNext
			}
			if reported := secondsToDuration(e.Duration); reported > 0 && reported < limit {
				limit = reported
			}
		}
		e.EffectiveDuration = limit
		e.EffectiveEnd = e.Timestamp.Add(limit)
	}
	return result
}
