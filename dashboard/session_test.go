package dashboard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/check"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/live"
)

// nine is 9:00 on a Monday
var nine = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Workday:              chrono.Workday{StartHour: 7, EndHour: 17, Location: time.UTC},
		Tick:                 2 * time.Millisecond,
		TimelineRefresh:      time.Hour,
		MetricsRefresh:       time.Hour,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 3,
		Now:                  func() time.Time { return nine },
	}
}

//// Fakes

type fakeAPI struct {
	mu           sync.Mutex
	metricsCalls map[string]int
	clearErr     error
}

func (f *fakeAPI) GetMetrics(ctx context.Context, period string) (*client.MetricsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metricsCalls == nil {
		f.metricsCalls = make(map[string]int)
	}
	f.metricsCalls[period]++
	return &client.MetricsResponse{
		Period:      period,
		StateCounts: map[client.StateLabel]float64{client.Running: 3600},
	}, nil
}

func (f *fakeAPI) calls(period string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metricsCalls[period]
}

func (f *fakeAPI) GetTimeline(ctx context.Context, period string) ([]client.StateEvent, error) {
	return []client.StateEvent{{
		State:     client.Running,
		Timestamp: nine.Add(-time.Hour),
		Duration:  3600,
	}}, nil
}

func (f *fakeAPI) GetEvents(ctx context.Context, period, state string, limit int) ([]client.StateEvent, error) {
	return []client.StateEvent{{State: client.Running, Timestamp: nine.Add(-time.Hour)}}, nil
}

func (f *fakeAPI) ClearData(ctx context.Context) error {
	return f.clearErr
}

func (f *fakeAPI) ExportStates(ctx context.Context, w io.Writer) error {
	_, err := io.WriteString(w, "State,Duration (seconds)\n")
	return err
}

type fakeStream struct {
	pushes chan *client.StatePush
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		pushes: make(chan *client.StatePush),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Next() (*client.StatePush, error) {
	select {
	case p, ok := <-f.pushes:
		if !ok {
			return nil, errors.New("stream ended")
		}
		return p, nil
	case <-f.closed:
		return nil, errors.New("stream closed")
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeStream) push(label string) {
	f.pushes <- &client.StatePush{State: label, Description: "pushed " + label}
}

// recorder is a View that records every call
type recorder struct {
	mu        sync.Mutex
	calls     int
	statuses  []string
	lives     []live.Status
	timelines [][]chrono.Segment
	metrics   []*client.MetricsResponse
	events    [][]client.StateEvent
	conns     []ConnState
	errs      map[Op]error
	completed []Op
}

func (r *recorder) record(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	f()
}

func (r *recorder) read(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f()
}

func (r *recorder) Status(label, description string) {
	r.record(func() { r.statuses = append(r.statuses, label) })
}

func (r *recorder) Live(s live.Status) {
	r.record(func() { r.lives = append(r.lives, s) })
}

func (r *recorder) Timeline(s []chrono.Segment) {
	r.record(func() { r.timelines = append(r.timelines, s) })
}

func (r *recorder) Metrics(m *client.MetricsResponse) {
	r.record(func() { r.metrics = append(r.metrics, m) })
}

func (r *recorder) Events(e []client.StateEvent) {
	r.record(func() { r.events = append(r.events, e) })
}

func (r *recorder) Connection(state ConnState, err error) {
	r.record(func() { r.conns = append(r.conns, state) })
}

func (r *recorder) Error(op Op, err error) {
	r.record(func() {
		if r.errs == nil {
			r.errs = make(map[Op]error)
		}
		r.errs[op] = err
	})
}

func (r *recorder) Completed(op Op) {
	r.record(func() { r.completed = append(r.completed, op) })
}

func (r *recorder) lastConn() ConnState {
	var c ConnState
	r.read(func() {
		if len(r.conns) > 0 {
			c = r.conns[len(r.conns)-1]
		}
	})
	return c
}

func (r *recorder) numLives() int {
	var n int
	r.read(func() { n = len(r.lives) })
	return n
}

// waitFor polls 'cond' until it returns true, and fails the test if it doesn't
// within a few seconds
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// runSession runs 's' in the background. The returned function stops it, and
// returns Run's error
func runSession(t *testing.T, s *Session) (stop func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-errCh:
			case <-time.After(5 * time.Second):
				t.Fatalf("session did not stop")
			}
		})
		return err
	}
	t.Cleanup(func() { stop() })
	return stop
}

//// Tests

func TestSessionConnects(t *testing.T) {
	api, view, stream := &fakeAPI{}, &recorder{}, newFakeStream()
	s := New(api, func(ctx context.Context) (PushStream, error) {
		return stream, nil
	}, view, &live.MemStore{}, testConfig())
	stop := runSession(t, s)

	stream.push("RUNNING")
	waitFor(t, "live totals", func() bool {
		var done bool
		view.read(func() {
			if len(view.lives) == 0 || len(view.timelines) == 0 || len(view.events) == 0 {
				return
			}
			done = view.lives[len(view.lives)-1].LiveTotals[client.Running] == time.Hour
		})
		return done
	})

	view.read(func() {
		check.T(t,
			check.Eq(view.conns[0], Connected),
			check.Eq(view.statuses, []string{"RUNNING"}),
			check.True(len(view.metrics) > 0),
			check.True(len(view.events) > 0))
		cur, ok := chrono.Current(view.timelines[len(view.timelines)-1])
		check.T(t, check.True(ok),
			check.Eq(cur.State, client.Running),
			check.Eq(cur.Start, nine.Add(-time.Hour)))
	})

	// teardown closes the stream, and nothing reaches the view afterwards
	check.T(t, check.Nil(stop()), check.True(stream.isClosed()))
	var before, after int
	view.read(func() { before = view.calls })
	time.Sleep(20 * time.Millisecond)
	view.read(func() { after = view.calls })
	check.T(t, check.Eq(after, before))
}

func TestTransitionTriggersRefresh(t *testing.T) {
	api, view, stream := &fakeAPI{}, &recorder{}, newFakeStream()
	s := New(api, func(ctx context.Context) (PushStream, error) {
		return stream, nil
	}, view, nil, testConfig())
	runSession(t, s)

	// connecting fetches once, and so does the first push
	stream.push("RUNNING")
	waitFor(t, "refresh after first push", func() bool { return api.calls("today") == 2 })

	// a repeated state isn't a transition. OFFLINE is shown but not tracked
	stream.push("RUNNING")
	stream.push("OFFLINE")
	stream.push("IDLE")
	waitFor(t, "refresh after IDLE", func() bool { return api.calls("today") == 3 })
	waitFor(t, "statuses", func() bool {
		var n int
		view.read(func() { n = len(view.statuses) })
		return n == 4
	})
	view.read(func() {
		check.T(t, check.Eq(view.statuses, []string{"RUNNING", "RUNNING", "OFFLINE", "IDLE"}))
	})
}

func TestStaleResultsDropped(t *testing.T) {
	view := &recorder{}
	s := New(&fakeAPI{}, nil, view, nil, testConfig())

	t.Run("Tags", func(t *testing.T) {
		old := s.issue(fetchMetrics)
		s.period = "week"
		newer := s.issue(fetchMetrics)
		check.T(t, check.False(s.current(old)), check.True(s.current(newer)))

		events := s.issue(fetchEvents)
		s.state = "IDLE"
		check.T(t, check.False(s.current(events)))

		t1 := s.issue(fetchTimeline)
		t2 := s.issue(fetchTimeline)
		s.period = "month" // the timeline always shows today
		check.T(t, check.False(s.current(t1)), check.True(s.current(t2)))
	})

	t.Run("Apply", func(t *testing.T) {
		s.period = "today"
		s.group, s.groupCtx = errgroup.WithContext(context.Background())

		// a response for "today" that arrives after switching to "week"
		s.refreshMetrics()
		check.T(t, check.Nil(s.group.Wait()))
		s.period = "week"
		(<-s.events)()
		view.read(func() { check.T(t, check.Len(view.metrics, 0)) })

		// Wait cancelled the old group's context, so start a new one
		s.group, s.groupCtx = errgroup.WithContext(context.Background())
		s.refreshMetrics()
		check.T(t, check.Nil(s.group.Wait()))
		(<-s.events)()
		view.read(func() {
			check.T(t, check.Len(view.metrics, 1), check.Eq(view.metrics[0].Period, "week"))
		})
	})
}

func TestReconnectGivesUp(t *testing.T) {
	var dials atomic.Int32
	view := &recorder{}
	s := New(&fakeAPI{}, func(ctx context.Context) (PushStream, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}, view, nil, testConfig())
	stop := runSession(t, s)

	waitFor(t, "connection lost", func() bool { return view.lastConn() == Lost })
	time.Sleep(10 * time.Millisecond)
	view.read(func() {
		check.T(t, check.Eq(view.conns, []ConnState{Reconnecting, Reconnecting, Reconnecting, Lost}))
		// never connected, so timers never ran
		check.T(t, check.Len(view.lives, 0))
	})
	check.T(t, check.Eq(dials.Load(), int32(4)), check.Nil(stop()))
}

func TestTimersStopWhileDisconnected(t *testing.T) {
	api, view := &fakeAPI{}, &recorder{}
	first, second := newFakeStream(), newFakeStream()
	release := make(chan struct{})
	var dials atomic.Int32
	s := New(api, func(ctx context.Context) (PushStream, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		select {
		case <-release:
			return second, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, view, nil, testConfig())
	runSession(t, s)

	// the connect refresh and the transition refresh both ask for "today";
	// only the newer result is applied
	first.push("RUNNING")
	waitFor(t, "initial fetches", func() bool {
		var n int
		view.read(func() { n = len(view.metrics) })
		return api.calls("today") == 2 && n >= 1 && view.numLives() > 3
	})

	close(first.pushes)
	waitFor(t, "disconnect", func() bool { return view.lastConn() == Reconnecting })
	// let a fetch that was in flight land before counting
	time.Sleep(10 * time.Millisecond)
	n := view.numLives()
	time.Sleep(30 * time.Millisecond)
	check.T(t, check.Eq(view.numLives(), n))

	// reconnecting restarts the timers
	close(release)
	waitFor(t, "reconnect", func() bool { return view.lastConn() == Connected })
	waitFor(t, "ticks", func() bool { return view.numLives() > n+3 })
	check.T(t, check.Eq(dials.Load(), int32(2)), check.True(first.isClosed()))
}

func TestActions(t *testing.T) {
	api := &fakeAPI{clearErr: &client.HTTPError{StatusCode: 500, Message: "disk full"}}
	view, stream := &recorder{}, newFakeStream()
	s := New(api, func(ctx context.Context) (PushStream, error) {
		return stream, nil
	}, view, nil, testConfig())
	runSession(t, s)
	waitFor(t, "connect", func() bool { return view.lastConn() == Connected })

	var buf bytes.Buffer
	check.T(t, check.Nil(s.Export(&buf)))
	s.ClearData()
	s.SetPeriod("fortnight")
	waitFor(t, "results", func() bool {
		var done bool
		view.read(func() { done = len(view.completed) == 1 && len(view.errs) == 2 })
		return done
	})
	view.read(func() {
		check.T(t,
			check.Eq(view.completed, []Op{OpExport}),
			check.HasSuffix(view.errs[OpClear].Error(), "disk full"),
			check.True(errors.Is(view.errs[OpMetrics], chrono.ErrInvalidPeriod)))
	})
	check.T(t, check.HasPrefix(buf.String(), "State,"))

	s.SetPeriod("week")
	waitFor(t, "week metrics", func() bool { return api.calls("week") == 1 })
}

func TestExportAfterStop(t *testing.T) {
	api, view, stream := &fakeAPI{}, &recorder{}, newFakeStream()
	s := New(api, func(ctx context.Context) (PushStream, error) {
		return stream, nil
	}, view, nil, testConfig())
	stop := runSession(t, s)
	waitFor(t, "connect", func() bool { return view.lastConn() == Connected })
	check.T(t, check.Nil(stop()))

	var buf bytes.Buffer
	err := s.Export(&buf)
	check.T(t, check.True(errors.Is(err, ErrStopped)), check.Eq(buf.Len(), 0))
	view.read(func() { check.T(t, check.Len(view.completed, 0), check.Len(view.errs, 0)) })
}
