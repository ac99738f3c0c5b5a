package machined

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

const (
	defaultEventsLimit = 50
	defaultDateLimit   = 1000
	dateLayout         = "2006-01-02"

	// noDataDescription is reported by CurrentState before any state has been
	// recorded
	noDataDescription = "No state data available"
)

// Timestamps are stored as unix nanoseconds, so that events recorded within
// the same second keep their order. The INTEGER PRIMARY KEY breaks ties between
// identical timestamps (insertion order).
const schema = `
	CREATE TABLE IF NOT EXISTS state_changes (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  timestamp INTEGER NOT NULL,
	  state TEXT NOT NULL,
	  duration REAL NOT NULL DEFAULT 0,
	  description TEXT NOT NULL DEFAULT '',
	  tag_id INTEGER
	);
	CREATE INDEX IF NOT EXISTS state_changes_by_time ON state_changes (timestamp);
`

// Options configures the metrics computed by the server
type Options struct {
	// Workday determines the working hours reported in hourly metrics, and the
	// time zone that periods and dates are interpreted in
	Workday chrono.Workday

	// Shift is the nominal length of a work day (daily efficiency baseline, and
	// the ERROR time charged for a work day with no data)
	Shift time.Duration

	// EventLimit caps the number of events returned by GetTimeline
	EventLimit int
}

// DefaultOptions returns a 7:00-17:00 work day with an 8h shift
func DefaultOptions() Options {
	return Options{
		Workday:    chrono.DefaultWorkday,
		Shift:      8 * time.Hour,
		EventLimit: 1000,
	}
}

// server implements the client.MachineAPI interface
type server struct {
	//// Not owned
	clock Clock

	//// Owned
	opts Options

	// db is (a client of) a SQLite database that contains all state changes
	// persisted on disk
	db *sql.DB

	// dbMu guards 'db'. The sqlite driver does not allow for concurrent writes.
	// See https://github.com/mattn/go-sqlite3#faq
	// This allows for safe concurrent use of 'db'
	dbMu sync.RWMutex
}

// NewServer returns an implementation of client.MachineAPI backed by the
// sqlite database at 'dbPath'
func NewServer(clock Clock, dbPath string, opts Options) (client.MachineAPI, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	for i := 0; ; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i >= 10 {
			db.Close()
			return nil, fmt.Errorf("could not connect to DB at %q: %v", dbPath, err)
		}
		log.Print("Waiting for DB to start")
		time.Sleep(time.Second)
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create SQL tables: %v", err)
	}
	if opts.Shift <= 0 {
		opts.Shift = DefaultOptions().Shift
	}
	if opts.EventLimit <= 0 {
		opts.EventLimit = DefaultOptions().EventLimit
	}
	return &server{
		clock: clock,
		opts:  opts,
		db:    db,
	}, nil
}

// now returns the current time in the server's time zone
func (s *server) now() time.Time {
	return s.clock.Now().In(s.opts.Workday.Zone())
}

// RecordState appends a state change at the current time. The previously open
// state is closed with its final duration.
func (s *server) RecordState(req *client.RecordStateRequest) (*client.StateEvent, error) {
	if !req.State.Valid() {
		return nil, &InvalidStateErr{State: string(req.State)}
	}
	now := s.now()

	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	txn, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("could not start txn to record %s: %v", req.State, err)
	}
	if _, err := txn.Exec(`
		UPDATE state_changes SET duration = MAX(0, (? - timestamp) / 1e9)
		WHERE id = (SELECT id FROM state_changes ORDER BY timestamp DESC, id DESC LIMIT 1)`,
		now.UnixNano()); err != nil {
		txn.Rollback()
		return nil, fmt.Errorf("could not close previous state: %v", err)
	}
	res, err := txn.Exec(`
		INSERT INTO state_changes (timestamp, state, duration, description, tag_id)
		VALUES (?, ?, 0, ?, ?)`,
		now.UnixNano(), string(req.State), req.Description, req.TagID)
	if err != nil {
		txn.Rollback()
		return nil, fmt.Errorf("could not record %s: %v", req.State, err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit %s: %v", req.State, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &client.StateEvent{
		ID:          id,
		Timestamp:   now,
		State:       req.State,
		Description: req.Description,
		TagID:       req.TagID,
	}, nil
}

// CurrentState returns the most recently recorded state, or IDLE if nothing
// has been recorded yet
func (s *server) CurrentState() (*client.StatePush, error) {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	var (
		ts          int64
		state, desc string
		tagID       sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT timestamp, state, description, tag_id FROM state_changes
		ORDER BY timestamp DESC, id DESC LIMIT 1`).Scan(&ts, &state, &desc, &tagID)
	if err == sql.ErrNoRows {
		return &client.StatePush{State: string(client.Idle), Description: noDataDescription}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read current state: %v", err)
	}
	at := time.Unix(0, ts).In(s.opts.Workday.Zone())
	push := &client.StatePush{State: state, Description: desc, Timestamp: &at}
	if tagID.Valid {
		push.LastTagID = &tagID.Int64
	}
	return push, nil
}

// loadEvents returns the events with timestamps in [start, end] in ascending
// order. Durations are recomputed as the time until the next recorded event
// (which may fall after 'end'); the newest event runs until now.
func (s *server) loadEvents(start, end time.Time) ([]client.StateEvent, error) {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, timestamp, state, description, tag_id FROM state_changes
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC, id ASC`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("could not read state changes: %v", err)
	}
	defer rows.Close()

	loc := s.opts.Workday.Zone()
	var events []client.StateEvent
	for rows.Next() {
		var (
			e     client.StateEvent
			ts    int64
			state string
			tagID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &state, &e.Description, &tagID); err != nil {
			return nil, fmt.Errorf("error scanning state change row: %v", err)
		}
		e.Timestamp = time.Unix(0, ts).In(loc)
		e.State = client.StateLabel(state)
		if tagID.Valid {
			id := tagID.Int64
			e.TagID = &id
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading state changes: %v", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	// the first event after 'end' (if any) bounds the last event in range
	var next sql.NullInt64
	if err := s.db.QueryRow(`SELECT MIN(timestamp) FROM state_changes WHERE timestamp > ?`,
		end.UnixNano()).Scan(&next); err != nil {
		return nil, fmt.Errorf("could not read next state change: %v", err)
	}
	last := s.clock.Now()
	if next.Valid {
		last = time.Unix(0, next.Int64)
	}
	for i := range events {
		until := last
		if i+1 < len(events) {
			until = events[i+1].Timestamp
		}
		events[i].Duration = until.Sub(events[i].Timestamp).Seconds()
		if events[i].Duration < 0 {
			events[i].Duration = 0
		}
	}
	return events, nil
}

// periodWindow returns [start of 'period', now]
func (s *server) periodWindow(period string) (time.Time, time.Time, error) {
	now := s.now()
	start, err := chrono.PeriodStart(period, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, now, nil
}

// parseStateFilter validates a ?state= filter. "" and "all" match everything
func parseStateFilter(state string) (client.StateLabel, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" || state == "ALL" {
		return "", nil
	}
	if l := client.StateLabel(state); l.Valid() {
		return l, nil
	}
	return "", &InvalidStateErr{State: state}
}

func filterEvents(events []client.StateEvent, state client.StateLabel) []client.StateEvent {
	if state == "" {
		return events
	}
	result := events[:0:0]
	for _, e := range events {
		if e.State == state {
			result = append(result, e)
		}
	}
	return result
}

// GetEvents returns the period's events, newest first
func (s *server) GetEvents(req *client.GetEventsRequest) ([]client.StateEvent, error) {
	state, err := parseStateFilter(req.State)
	if err != nil {
		return nil, err
	}
	start, end, err := s.periodWindow(req.Period)
	if err != nil {
		return nil, err
	}
	events, err := s.loadEvents(start, end)
	if err != nil {
		return nil, err
	}
	events = filterEvents(events, state)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	result := make([]client.StateEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, events[i])
	}
	return result, nil
}

// GetTimeline returns the period's most recent events (at most
// Options.EventLimit), oldest first
func (s *server) GetTimeline(req *client.GetMetricsRequest) ([]client.StateEvent, error) {
	start, end, err := s.periodWindow(req.Period)
	if err != nil {
		return nil, err
	}
	events, err := s.loadEvents(start, end)
	if err != nil {
		return nil, err
	}
	if len(events) > s.opts.EventLimit {
		events = events[len(events)-s.opts.EventLimit:]
	}
	return events, nil
}

// GetEventsByDate returns the events of a calendar day, oldest first
func (s *server) GetEventsByDate(req *client.GetEventsByDateRequest) ([]client.StateEvent, error) {
	state, err := parseStateFilter(req.State)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(dateLayout, req.Date, s.opts.Workday.Zone())
	if err != nil {
		return nil, &InvalidDateErr{Date: req.Date}
	}
	events, err := s.loadEvents(day, day.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	events = filterEvents(events, state)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultDateLimit
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// ExportEvents returns every recorded event, oldest first
func (s *server) ExportEvents() ([]client.StateEvent, error) {
	return s.loadEvents(time.Unix(0, 0), time.Unix(0, 1<<63-1))
}

// GetMetrics computes the per-state totals and breakdowns for a period
func (s *server) GetMetrics(req *client.GetMetricsRequest) (*client.MetricsResponse, error) {
	start, end, err := s.periodWindow(req.Period)
	if err != nil {
		return nil, err
	}
	events, err := s.loadEvents(start, end)
	if err != nil {
		return nil, err
	}
	totals := stateTotals(events)
	resp := &client.MetricsResponse{
		StateCounts: totals,
		Percentages: percentages(totals),
		Period:      req.Period,
		StartTime:   start,
		EndTime:     end,
	}
	if req.Period == "today" {
		resp.HourlyMetric = hourlyMetrics(events, end, s.opts.Workday)
		resp.Summary = daySummary(totals, end, s.opts.Shift)
	} else {
		resp.DailyMetrics, resp.Summary = dailyMetrics(events, start, end, s.opts.Shift)
	}
	return resp, nil
}

// Clear deletes all recorded state changes
func (s *server) Clear() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM state_changes;`); err != nil {
		return fmt.Errorf("could not delete state changes: %v", err)
	}
	return nil
}
