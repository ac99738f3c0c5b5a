package machined

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
)

// Recorder records a state change (implemented by *client.Client)
type Recorder interface {
	RecordState(ctx context.Context, req *client.RecordStateRequest) (*client.StateEvent, error)
}

type transition struct {
	to client.StateLabel
	p  float64
}

// transitions is the Markov chain driving the simulator
var transitions = map[client.StateLabel][]transition{
	client.Idle:    {{client.Running, 0.8}, {client.Error, 0.2}},
	client.Running: {{client.Idle, 0.7}, {client.Error, 0.3}},
	client.Error:   {{client.Idle, 1.0}},
}

// stateDurations bounds how long the simulated machine stays in each state
var stateDurations = map[client.StateLabel][2]time.Duration{
	client.Running: {5 * time.Minute, time.Hour},
	client.Idle:    {time.Minute, 15 * time.Minute},
	client.Error:   {30 * time.Second, 5 * time.Minute},
}

var descriptions = map[client.StateLabel][]string{
	client.Running: {"Normal operation", "Production run", "Processing job"},
	client.Idle:    {"Waiting for operator", "Job complete", "Scheduled pause"},
	client.Error:   {"Emergency stop", "Tool change needed", "Temperature warning"},
}

// Simulator generates a plausible stream of machine state changes, for demos
// and for exercising the dashboard without a machine attached
type Simulator struct {
	Recorder Recorder
	Rand     *rand.Rand

	// MaxSleep caps the (simulated) time spent in a state, so that a demo
	// changes state every few seconds
	MaxSleep time.Duration

	current client.StateLabel
}

// NewSimulator returns a Simulator starting in IDLE
func NewSimulator(r Recorder, seed int64) *Simulator {
	return &Simulator{
		Recorder: r,
		Rand:     rand.New(rand.NewSource(seed)),
		MaxSleep: 10 * time.Second,
		current:  client.Idle,
	}
}

// Next picks the next state, how long to stay in it, and a description
func (s *Simulator) Next() (client.StateLabel, time.Duration, string) {
	if s.current == "" {
		s.current = client.Idle
	}
	options := transitions[s.current]
	next := options[0].to
	roll, cumulative := s.Rand.Float64(), 0.0
	for _, t := range options {
		cumulative += t.p
		if roll <= cumulative {
			next = t.to
			break
		}
	}
	bounds := stateDurations[next]
	d := bounds[0] + time.Duration(s.Rand.Int63n(int64(bounds[1]-bounds[0])))
	desc := descriptions[next][s.Rand.Intn(len(descriptions[next]))]
	s.current = next
	return next, d, desc
}

// Run records simulated state changes until ctx is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, d, desc := s.Next()
		if _, err := s.Recorder.RecordState(ctx, &client.RecordStateRequest{
			State:       state,
			Description: desc,
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("simulator could not record %s: %v", state, err)
		}
		if s.MaxSleep > 0 && d > s.MaxSleep {
			d = s.MaxSleep
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
