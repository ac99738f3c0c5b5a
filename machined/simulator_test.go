package machined

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/check"
)

// fakeRecorder collects recorded states, and cancels 'ctx' after 'max' of them
type fakeRecorder struct {
	mu     sync.Mutex
	states []client.StateLabel
	max    int
	cancel func()
}

func (r *fakeRecorder) RecordState(ctx context.Context, req *client.RecordStateRequest) (*client.StateEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, req.State)
	if len(r.states) >= r.max {
		r.cancel()
	}
	return &client.StateEvent{State: req.State, Description: req.Description}, nil
}

func TestSimulatorTransitions(t *testing.T) {
	sim := NewSimulator(nil, 1)
	prev := client.Idle
	for i := 0; i < 1000; i++ {
		state, d, desc := sim.Next()
		bounds := stateDurations[state]
		check.T(t,
			check.True(state.Valid()),
			check.True(state != prev),
			check.True(d >= bounds[0] && d < bounds[1]),
			check.True(desc != ""))
		if prev == client.Error {
			check.T(t, check.Eq(state, client.Idle))
		}
		prev = state
	}
}

func TestSimulatorRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRecorder{max: 5, cancel: cancel}
	sim := NewSimulator(r, 1)
	sim.MaxSleep = time.Millisecond

	err := sim.Run(ctx)
	check.T(t,
		check.True(errors.Is(err, context.Canceled)),
		check.Len(r.states, 5))
}
