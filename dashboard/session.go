// Package dashboard implements the controller behind a live machine dashboard:
// a Session owns the live accumulator, the reconciled timeline and the push
// subscription, and projects them onto a View.
//
// All of a Session's state is owned by a single event loop goroutine (Run).
// Network requests run on their own goroutines and post their results back to
// the loop, which drops results that were issued for a period or filter that
// is no longer selected.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/live"
)

// API is the part of the daemon's HTTP surface used by a Session (implemented
// by *client.Client)
type API interface {
	GetMetrics(ctx context.Context, period string) (*client.MetricsResponse, error)
	GetTimeline(ctx context.Context, period string) ([]client.StateEvent, error)
	GetEvents(ctx context.Context, period, state string, limit int) ([]client.StateEvent, error)
	ClearData(ctx context.Context) error
	ExportStates(ctx context.Context, w io.Writer) error
}

// PushStream is an open push subscription (implemented by *client.PushConn)
type PushStream interface {
	// Next blocks until the next push. Any error ends the subscription
	Next() (*client.StatePush, error)
	Close() error
}

// Dialer opens a push subscription
type Dialer func(ctx context.Context) (PushStream, error)

// ClientDialer returns a Dialer that subscribes to c's push channel
func ClientDialer(c *client.Client) Dialer {
	return func(ctx context.Context) (PushStream, error) {
		conn, err := c.Subscribe(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Config holds a Session's intervals and initial selection. Zero values are
// replaced by defaults
type Config struct {
	// Period selects the metrics and event log period ("today", "week", ...)
	Period string

	// EventState and EventLimit filter the event log
	EventState string
	EventLimit int

	// Workday is the window the timeline is reconciled against
	Workday chrono.Workday

	Tick                 time.Duration
	TimelineRefresh      time.Duration
	MetricsRefresh       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Now returns the current time (time.Now if nil)
	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.Period == "" {
		c.Period = "today"
	}
	if c.EventState == "" {
		c.EventState = "all"
	}
	if c.EventLimit <= 0 {
		c.EventLimit = 50
	}
	if c.Workday.EndHour == 0 {
		c.Workday = chrono.DefaultWorkday
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.TimelineRefresh <= 0 {
		c.TimelineRefresh = 10 * time.Second
	}
	if c.MetricsRefresh <= 0 {
		c.MetricsRefresh = time.Minute
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// fetchKind identifies one of the Session's refreshable data sets
type fetchKind int

const (
	fetchMetrics fetchKind = iota
	fetchTimeline
	fetchEvents
	numFetchKinds
)

// fetchTag identifies an in-flight request: what selection it was issued for,
// and its sequence number among requests of the same kind. A result is only
// applied if its tag is still current.
type fetchTag struct {
	kind   fetchKind
	seq    uint64
	period string
	state  string
	limit  int
}

// Session is the dashboard controller. Create one with New, run it with Run,
// and drive it with the action methods (SetPeriod, ClearData, ...), which may
// be called from any goroutine while Run is running.
type Session struct {
	//// Not owned
	api   API
	dial  Dialer
	view  View
	store live.Store

	//// Owned
	id  string
	log *log.Entry
	cfg Config

	// everything below is only touched by the event loop
	acc      *live.Accumulator
	det      *live.Detector
	segments []chrono.Segment
	period   string
	state    string
	limit    int
	seq      [numFetchKinds]uint64
	timers   timers
	conn     ConnState

	// group runs the subscription and all fetches; it's cancelled on teardown
	group    *errgroup.Group
	groupCtx context.Context

	// events carries closures to be run on the event loop
	events chan func()
	done   chan struct{}
}

// New returns a Session that reads from 'api', subscribes with 'dial', and
// renders to 'view'. 'store' persists the active state (may be nil)
func New(api API, dial Dialer, view View, store live.Store, cfg Config) *Session {
	cfg.setDefaults()
	id := uuid.NewString()
	acc := live.NewAccumulator()
	return &Session{
		api:    api,
		dial:   dial,
		view:   view,
		store:  store,
		id:     id,
		log:    log.WithField("session", id),
		cfg:    cfg,
		acc:    acc,
		det:    live.NewDetector(acc, store),
		period: cfg.Period,
		state:  cfg.EventState,
		limit:  cfg.EventLimit,
		conn:   Connecting,
		events: make(chan func(), 16),
		done:   make(chan struct{}),
	}
}

// ID returns the session's unique id (attached to all of its log lines)
func (s *Session) ID() string {
	return s.id
}

// Run runs the event loop until ctx is cancelled. On return, all timers are
// stopped, the subscription is closed and no fetch is still running, so the
// view receives no further calls.
func (s *Session) Run(ctx context.Context) error {
	s.group, s.groupCtx = errgroup.WithContext(ctx)
	s.log.Infof("dashboard session starting (period %s)", s.period)
	s.group.Go(func() error {
		s.subscribe(s.groupCtx)
		return nil
	})

	s.loop(s.groupCtx)

	s.timers.stop()
	err := s.group.Wait()
	close(s.done)
	s.log.Infof("dashboard session stopped")
	return err
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			s.safely(fn)
		case <-s.timers.tickC():
			s.safely(s.onTick)
		case <-s.timers.timelineC():
			s.safely(s.refreshTimeline)
		case <-s.timers.metricsC():
			s.safely(s.refreshMetrics)
		}
	}
}

// safely runs 'fn', so that a failure in one callback doesn't stop the loop
func (s *Session) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("dashboard callback panicked: %v", r)
		}
	}()
	fn()
}

// post sends 'fn' to the event loop. It returns false if the session is
// shutting down
func (s *Session) post(ctx context.Context, fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// ErrStopped is returned by actions issued after the session has stopped
var ErrStopped = errors.New("dashboard session stopped")

// do sends an action to the event loop from outside the session. It returns
// false if the session has stopped, in which case 'fn' never runs
func (s *Session) do(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) now() time.Time {
	return s.cfg.Now()
}

//// Timers

func (s *Session) onTick() {
	s.view.Live(s.acc.Tick(s.now()))
}

//// Fetches

// issue tags a new request of the given kind with the current selection
func (s *Session) issue(kind fetchKind) fetchTag {
	s.seq[kind]++
	return fetchTag{
		kind:   kind,
		seq:    s.seq[kind],
		period: s.period,
		state:  s.state,
		limit:  s.limit,
	}
}

// current returns true if 'tag' is the latest request of its kind and was
// issued for the current selection
func (s *Session) current(tag fetchTag) bool {
	if tag.seq != s.seq[tag.kind] {
		return false
	}
	switch tag.kind {
	case fetchMetrics:
		return tag.period == s.period
	case fetchEvents:
		return tag.period == s.period && tag.state == s.state && tag.limit == s.limit
	}
	return true
}

// fetch runs 'call' on its own goroutine and posts 'apply' back to the loop,
// unless the result is stale by then
func (s *Session) fetch(tag fetchTag, call func(ctx context.Context) (func(), error)) {
	if s.group == nil {
		return // not running
	}
	ctx := s.groupCtx
	s.group.Go(func() error {
		apply, err := call(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.post(ctx, func() {
			if !s.current(tag) {
				s.log.Debugf("dropping stale %s result (%s)", tag.kind, tag.period)
				return
			}
			if err != nil {
				s.log.Warnf("could not refresh %s: %v", tag.kind, err)
				s.view.Error(tag.kind.op(), err)
				return
			}
			apply()
		})
		return nil
	})
}

func (s *Session) refreshMetrics() {
	tag := s.issue(fetchMetrics)
	s.fetch(tag, func(ctx context.Context) (func(), error) {
		m, err := s.api.GetMetrics(ctx, tag.period)
		return func() { s.applyMetrics(m) }, err
	})
}

func (s *Session) applyMetrics(m *client.MetricsResponse) {
	s.acc.OnSnapshot(m.StateCounts)
	s.view.Metrics(m)
	s.view.Live(s.acc.Tick(s.now()))
}

// refreshTimeline refetches today's events; the chronograph always shows the
// current work day
func (s *Session) refreshTimeline() {
	tag := s.issue(fetchTimeline)
	s.fetch(tag, func(ctx context.Context) (func(), error) {
		events, err := s.api.GetTimeline(ctx, "today")
		return func() { s.applyTimeline(events) }, err
	})
}

func (s *Session) applyTimeline(events []client.StateEvent) {
	now := s.now()
	s.segments = chrono.Reconcile(events, s.cfg.Workday.Window(now), now)
	s.view.Timeline(s.segments)
}

func (s *Session) refreshEvents() {
	tag := s.issue(fetchEvents)
	s.fetch(tag, func(ctx context.Context) (func(), error) {
		events, err := s.api.GetEvents(ctx, tag.period, tag.state, tag.limit)
		return func() { s.view.Events(events) }, err
	})
}

func (s *Session) refreshAll() {
	s.refreshMetrics()
	s.refreshTimeline()
	s.refreshEvents()
}

//// Push subscription

func (s *Session) onPush(p *client.StatePush) {
	s.view.Status(p.State, p.Description)
	tr, err := s.det.OnStatePush(p.State, s.now())
	if err != nil {
		s.log.Warnf("not tracking pushed state: %v", err)
		return
	}
	if !tr.Transitioned {
		return
	}
	if tr.From != "" {
		s.log.Infof("state changed %s -> %s after %s", tr.From, tr.To, chrono.Format(tr.ClosedDuration))
	}
	s.view.Live(s.acc.Tick(s.now()))
	s.refreshAll()
}

func (s *Session) onConnected() {
	s.log.Infof("push channel connected")
	s.setConn(Connected, nil)
	s.timers.start(s.cfg)
	s.refreshAll()
}

func (s *Session) onDisconnected(err error) {
	s.log.Warnf("push channel disconnected: %v", err)
	s.timers.stop()
	s.setConn(Reconnecting, err)
}

func (s *Session) onConnectionLost(err error) {
	s.log.Errorf("giving up on push channel after %d attempts: %v", s.cfg.MaxReconnectAttempts, err)
	s.timers.stop()
	s.setConn(Lost, err)
}

func (s *Session) setConn(state ConnState, err error) {
	s.conn = state
	s.view.Connection(state, err)
}

// subscribe maintains the push subscription: on loss it retries every
// ReconnectDelay, and after MaxReconnectAttempts consecutive failures it
// reports the connection as lost and stops.
func (s *Session) subscribe(ctx context.Context) {
	attempts := 0
	for {
		stream, err := s.dial(ctx)
		if err == nil {
			attempts = 0
			s.post(ctx, s.onConnected)
			err = s.readPushes(ctx, stream)
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("push channel closed")
		}
		if attempts >= s.cfg.MaxReconnectAttempts {
			s.post(ctx, func() { s.onConnectionLost(err) })
			return
		}
		attempts++
		s.post(ctx, func() { s.onDisconnected(err) })

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// readPushes forwards pushes from 'stream' to the event loop until the stream
// fails or ctx is cancelled. It always closes 'stream'
func (s *Session) readPushes(ctx context.Context, stream PushStream) error {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer func() {
		if stop() {
			stream.Close()
		}
	}()
	for {
		p, err := stream.Next()
		if err != nil {
			return err
		}
		if !s.post(ctx, func() { s.onPush(p) }) {
			return ctx.Err()
		}
	}
}

//// Actions

// SetPeriod selects the period shown by the metrics and the event log, and
// refetches both. Results still in flight for the old period are discarded
func (s *Session) SetPeriod(period string) {
	s.do(func() {
		if _, err := chrono.PeriodStart(period, s.now()); err != nil {
			s.view.Error(OpMetrics, err)
			return
		}
		s.period = period
		s.refreshMetrics()
		s.refreshEvents()
	})
}

// SetEventFilter changes the event log's state filter ("all" or a state) and
// size, and refetches it
func (s *Session) SetEventFilter(state string, limit int) {
	s.do(func() {
		if state == "" {
			state = "all"
		}
		if limit <= 0 {
			limit = s.cfg.EventLimit
		}
		s.state, s.limit = state, limit
		s.refreshEvents()
	})
}

// Refresh refetches metrics, timeline and event log
func (s *Session) Refresh() {
	s.do(s.refreshAll)
}

// ClearData asks the daemon to delete all data. On success everything is
// refetched; on failure the view gets the daemon's message
func (s *Session) ClearData() {
	s.do(func() {
		s.action(OpClear, func(ctx context.Context) error {
			return s.api.ClearData(ctx)
		}, s.refreshAll)
	})
}

// Export writes the daemon's CSV export to 'w', and reports the outcome to
// the view. It returns ErrStopped, and the view hears nothing, if the session
// has already stopped.
func (s *Session) Export(w io.Writer) error {
	if !s.do(func() {
		s.action(OpExport, func(ctx context.Context) error {
			return s.api.ExportStates(ctx, w)
		}, nil)
	}) {
		return ErrStopped
	}
	return nil
}

// action runs a user-triggered request off the loop, and reports its outcome
// to the view
func (s *Session) action(op Op, call func(ctx context.Context) error, onSuccess func()) {
	ctx := s.groupCtx
	s.group.Go(func() error {
		err := call(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.post(ctx, func() {
			if err != nil {
				s.log.Errorf("%s failed: %v", op, err)
				s.view.Error(op, err)
				return
			}
			s.view.Completed(op)
			if onSuccess != nil {
				onSuccess()
			}
		})
		return nil
	})
}
