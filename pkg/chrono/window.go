package chrono

import (
	"errors"
	"fmt"
	"time"

	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

// ErrInvalidPeriod is returned by PeriodStart for unrecognized period names
var ErrInvalidPeriod = errors.New("invalid period")

// Periods lists the reporting periods understood by PeriodStart
var Periods = []string{"today", "week", "month", "quarter", "year"}

// Window is the half-open time range [Start, End) that a timeline covers
type Window struct {
	Start, End time.Time
}

// Duration returns the length of w (0 if w is empty or inverted)
func (w Window) Duration() time.Duration {
	return timecmp.NonNegative(w.End.Sub(w.Start))
}

// Contains returns true if t is in [w.Start, w.End)
func (w Window) Contains(t time.Time) bool {
	return timecmp.Within(t, w.Start, w.End)
}

// ClipPoint returns min(now, w.End), moved forward to w.Start if 'now' is
// before the window opens. No real segment may extend past it.
func (w Window) ClipPoint(now time.Time) time.Time {
	return timecmp.Clamp(now, w.Start, w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Workday describes the daily shift window (e.g. 7:00-17:00 in a given zone)
type Workday struct {
	StartHour, EndHour int
	Location           *time.Location
}

// DefaultWorkday is 7:00-17:00 local time
var DefaultWorkday = Workday{StartHour: 7, EndHour: 17, Location: time.Local}

// Zone returns d.Location, or time.Local if unset
func (d Workday) Zone() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// Window returns the workday window on the calendar day containing 'day' (in
// d's location)
func (d Workday) Window(day time.Time) Window {
	day = day.In(d.Zone())
	y, m, dd := day.Date()
	return Window{
		Start: time.Date(y, m, dd, d.StartHour, 0, 0, 0, d.Zone()),
		End:   time.Date(y, m, dd, d.EndHour, 0, 0, 0, d.Zone()),
	}
}

// IsWorkingTime returns true if t falls on a weekday inside the workday hours
func (d Workday) IsWorkingTime(t time.Time) bool {
	t = t.In(d.Zone())
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= d.StartHour && t.Hour() < d.EndHour
}

// Midnight returns 0:00 of the day containing 't', in t's location
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// PeriodStart returns the start of the named reporting period containing 'now'.
// Weeks start on Monday; quarters on Jan/Apr/Jul/Oct 1st.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	loc := now.Location()
	switch period {
	case "today":
		return Midnight(now), nil
	case "week":
		offset := (int(now.Weekday()) + 6) % 7 // days since Monday
		return Midnight(now).AddDate(0, 0, -offset), nil
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc), nil
	case "quarter":
		first := time.Month((int(now.Month())-1)/3*3 + 1)
		return time.Date(now.Year(), first, 1, 0, 0, 0, 0, loc), nil
	case "year":
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
}
