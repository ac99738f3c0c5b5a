// Package live keeps the per-state time totals of the machine up to date
// between server snapshots: the Accumulator blends the last snapshot with the
// time spent in the active state, and the Detector does the bookkeeping when
// the state changes.
package live

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

// StateDurations maps each real state to the time spent in it
type StateDurations map[client.StateLabel]time.Duration

// Sum returns the total time over all states
func (d StateDurations) Sum() time.Duration {
	var total time.Duration
	for _, v := range d {
		total += v
	}
	return total
}

func (d StateDurations) copy() StateDurations {
	result := make(StateDurations, len(client.RealStates))
	for _, s := range client.RealStates {
		result[s] = d[s]
	}
	return result
}

// ActiveState is the state the machine is in now, and when it entered it
type ActiveState struct {
	Label     client.StateLabel `json:"label"`
	StartedAt time.Time         `json:"started_at"`
}

// Status is the live view computed on every tick
type Status struct {
	// LiveTotals is the snapshot total for each inactive state, and snapshot
	// total + CurrentStateElapsed for the active state
	LiveTotals StateDurations

	// Efficiency is LiveTotals[RUNNING] / sum(LiveTotals) * 100 (0 if the sum
	// is 0)
	Efficiency float64

	// CurrentStateElapsed is the time since the last observed transition
	CurrentStateElapsed time.Duration

	Active    ActiveState
	HasActive bool
}

// Accumulator holds the server-seeded per-state totals and the active state.
// It's not safe for concurrent use; the dashboard session only touches it from
// its event loop.
type Accumulator struct {
	durations StateDurations
	active    ActiveState
	hasActive bool
}

// NewAccumulator returns an Accumulator with all totals at 0 and no active
// state
func NewAccumulator() *Accumulator {
	return &Accumulator{durations: StateDurations{}.copy()}
}

// OnSnapshot overwrites the totals with the server's (the server is
// authoritative for closed history). The active state is untouched. Missing
// states are reset to 0 and unknown ones are ignored.
func (a *Accumulator) OnSnapshot(totals map[client.StateLabel]float64) {
	durations := StateDurations{}.copy()
	for label, seconds := range totals {
		if !label.Valid() {
			log.Warnf("ignoring snapshot total for unknown state %q", label)
			continue
		}
		if seconds < 0 {
			seconds = 0
		}
		durations[label] = time.Duration(seconds * float64(time.Second))
	}
	a.durations = durations
}

// Tick computes the live totals at 'now'. It never blocks and has no side
// effects.
func (a *Accumulator) Tick(now time.Time) Status {
	status := Status{
		LiveTotals: a.durations.copy(),
		Active:     a.active,
		HasActive:  a.hasActive,
	}
	if a.hasActive {
		status.CurrentStateElapsed = timecmp.NonNegative(now.Sub(a.active.StartedAt))
		status.LiveTotals[a.active.Label] += status.CurrentStateElapsed
	}
	if total := status.LiveTotals.Sum(); total > 0 {
		status.Efficiency = float64(status.LiveTotals[client.Running]) / float64(total) * 100
	}
	return status
}

// Durations returns a copy of the current (non-live) totals
func (a *Accumulator) Durations() StateDurations {
	return a.durations.copy()
}

// Active returns the active state, if one has been observed
func (a *Accumulator) Active() (ActiveState, bool) {
	return a.active, a.hasActive
}

// credit adds 'd' to the total for 'label' (used by the Detector when a state
// is closed)
func (a *Accumulator) credit(label client.StateLabel, d time.Duration) {
	a.durations[label] += timecmp.NonNegative(d)
}

func (a *Accumulator) setActive(s ActiveState) {
	a.active, a.hasActive = s, true
}
