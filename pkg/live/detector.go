package live

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

// UnknownStateErr is returned by OnStatePush for labels that aren't RUNNING,
// IDLE or ERROR (e.g. "OFFLINE")
type UnknownStateErr struct {
	Label string
}

func (e *UnknownStateErr) Error() string {
	return "unrecognized state " + e.Label
}

// Transition describes the outcome of one state push
type Transition struct {
	// Transitioned is true if the push changed the active state (including the
	// very first push). Consumers refresh metrics/timeline/log when it's set
	Transitioned bool

	From, To client.StateLabel

	// ClosedDuration is the time credited to 'From' (0 for the first push)
	ClosedDuration time.Duration
}

// Detector turns state pushes into accumulator bookkeeping
type Detector struct {
	//// Not owned
	acc   *Accumulator
	store Store
}

// NewDetector returns a Detector that updates 'acc' and persists the active
// state in 'store' (which may be nil)
func NewDetector(acc *Accumulator, store Store) *Detector {
	return &Detector{acc: acc, store: store}
}

// OnStatePush applies a pushed state observed at 'now'. A push of the active
// state is a no-op. An unrecognized label returns *UnknownStateErr and leaves
// the accumulator untouched.
func (d *Detector) OnStatePush(label string, now time.Time) (Transition, error) {
	newLabel := client.StateLabel(label)
	if !newLabel.Valid() {
		return Transition{}, &UnknownStateErr{Label: label}
	}

	prev, hasPrev := d.acc.Active()
	if hasPrev && prev.Label == newLabel {
		return Transition{From: newLabel, To: newLabel}, nil
	}

	t := Transition{Transitioned: true, To: newLabel}
	next := ActiveState{Label: newLabel, StartedAt: now}
	if hasPrev {
		t.From = prev.Label
		t.ClosedDuration = timecmp.NonNegative(now.Sub(prev.StartedAt))
		d.acc.credit(prev.Label, t.ClosedDuration)
	} else if saved, ok := d.restore(); ok && saved.Label == newLabel && timecmp.Leq(saved.StartedAt, now) {
		// first push since startup, and the machine is still in the state we
		// saw before the restart: keep the clock running
		next.StartedAt = saved.StartedAt
	}
	d.acc.setActive(next)
	d.persist(next)
	return t, nil
}

func (d *Detector) restore() (ActiveState, bool) {
	if d.store == nil {
		return ActiveState{}, false
	}
	saved, ok, err := d.store.LoadActive()
	if err != nil {
		log.Warnf("could not load saved active state: %v", err)
		return ActiveState{}, false
	}
	return saved, ok
}

func (d *Detector) persist(s ActiveState) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveActive(s); err != nil {
		log.Errorf("could not persist active state %s: %v", s.Label, err)
	}
}
