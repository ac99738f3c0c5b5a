package machined

import (
	"sync"
	"time"
)

// Clock is an interface wrapping time.Now(), so that clocks can be injected
// into the machine daemon for testing
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now is SystemClock's implementation of the Clock API (returns time.Now())
func (s systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is the default implementation of the Clock API (in which Now()
// returns time.Now())
var SystemClock Clock = systemClock{} // really a const

// TestingClock is an implementation of the Clock API that's useful for
// testing. It's read by HTTP handlers and written by tests, so access is
// guarded by a mutex.
type TestingClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current time according to 't'
func (t *TestingClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t
}

// Add advances 't' by the duration 'd'
func (t *TestingClock) Add(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t = t.t.Add(d)
}

// Set sets the current time in 't' to 'to'
func (t *TestingClock) Set(to time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t = to
}
