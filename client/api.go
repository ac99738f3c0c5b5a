package client

import "time"

// StateLabel identifies an operating state of the machine
type StateLabel string

// The states reported by the machine. NoData never appears in raw events; it's
// introduced by the timeline reconciliation to label uncovered time.
const (
	Running StateLabel = "RUNNING"
	Idle    StateLabel = "IDLE"
	Error   StateLabel = "ERROR"
	NoData  StateLabel = "NO_DATA"
)

// RealStates lists the labels that raw events may carry, in display order
var RealStates = [...]StateLabel{Running, Idle, Error}

// Valid returns true if 'l' is one of RealStates
func (l StateLabel) Valid() bool {
	switch l {
	case Running, Idle, Error:
		return true
	}
	return false
}

// StateEvent is a single state change, as recorded by the machine daemon
type StateEvent struct {
	ID int64 `json:"id,omitempty"`

	// Timestamp is the moment the machine entered 'State'
	Timestamp time.Time `json:"timestamp"`

	State StateLabel `json:"state"`

	// Duration is the reported time spent in 'State', in seconds. 0 means the
	// state is still open
	Duration float64 `json:"duration"`

	Description string `json:"description,omitempty"`

	// TagID identifies the marker that triggered the change, if any
	TagID *int64 `json:"tag_id,omitempty"`
}

// RecordStateRequest is sent to /api/state to append a state change
type RecordStateRequest struct {
	State       StateLabel `json:"state"`
	Description string     `json:"description"`
	TagID       *int64     `json:"tag_id,omitempty"`
}

// GetMetricsRequest is sent to /api/metrics/{period}
type GetMetricsRequest struct {
	// Period is one of "today", "week", "month", "quarter", "year"
	Period string `json:"period"`
}

// HourlyMetric summarizes one working hour of today
type HourlyMetric struct {
	TotalDuration    float64            `json:"total_duration"`
	RunningDuration  float64            `json:"running_duration"`
	UptimePercentage float64            `json:"uptime_percentage"`
	StateCounts      map[StateLabel]int `json:"state_counts"`
}

// DailyMetric summarizes one work day of a longer period
type DailyMetric struct {
	TotalDuration   float64            `json:"total_duration"`
	RunningDuration float64            `json:"running_duration"`
	IdleDuration    float64            `json:"idle_duration"`
	ErrorDuration   float64            `json:"error_duration"`
	Efficiency      float64            `json:"efficiency"`
	StateCounts     map[StateLabel]int `json:"state_counts"`
}

// Summary holds the headline statistics for a period
type Summary struct {
	BestDay           string  `json:"best_day,omitempty"`
	BestDayEfficiency float64 `json:"best_day_efficiency"`
	AvgDailyRuntime   float64 `json:"avg_daily_runtime"`
	AvgDailyIdle      float64 `json:"avg_daily_idle"`
	AvgDailyError     float64 `json:"avg_daily_error"`
	PeriodEfficiency  float64 `json:"weekly_efficiency"`
	WorkDaysElapsed   int     `json:"work_days_elapsed"`
}

// MetricsResponse is returned by /api/metrics/{period}. StateCounts is
// authoritative for closed history and overwrites local accumulation.
type MetricsResponse struct {
	StateCounts  map[StateLabel]float64 `json:"state_counts"`
	Percentages  map[StateLabel]float64 `json:"percentages,omitempty"`
	Summary      *Summary               `json:"summary,omitempty"`
	HourlyMetric map[int]HourlyMetric   `json:"hourly_metrics,omitempty"`
	DailyMetrics map[string]DailyMetric `json:"daily_metrics,omitempty"`
	Period       string                 `json:"period"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
}

// GetEventsRequest is sent to /api/events/{period}
type GetEventsRequest struct {
	Period string `json:"period"`
	// State filters events by label ("all" or "" for no filter)
	State string `json:"state"`
	Limit int    `json:"limit"`
}

// GetEventsByDateRequest is sent to /api/events/date/{YYYY-MM-DD}
type GetEventsByDateRequest struct {
	Date  string `json:"date"`
	State string `json:"state"`
	Limit int    `json:"limit"`
}

// StatePush is the message sent over the push channel
type StatePush struct {
	State       string     `json:"state"`
	LastTagID   *int64     `json:"last_tag_id"`
	Description string     `json:"description,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// ClearDataResponse is returned by /api/clear_data
type ClearDataResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MachineAPI is the interface exported by the machine daemon
type MachineAPI interface {
	RecordState(req *RecordStateRequest) (*StateEvent, error)
	CurrentState() (*StatePush, error)
	GetMetrics(req *GetMetricsRequest) (*MetricsResponse, error)
	GetEvents(req *GetEventsRequest) ([]StateEvent, error)
	GetTimeline(req *GetMetricsRequest) ([]StateEvent, error)
	GetEventsByDate(req *GetEventsByDateRequest) ([]StateEvent, error)
	// ExportEvents returns every recorded event, oldest first
	ExportEvents() ([]StateEvent, error)
	Clear() error
}
