package machined

import (
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/check"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

func event(state client.StateLabel, at time.Time, seconds float64) client.StateEvent {
	return client.StateEvent{State: state, Timestamp: at, Duration: seconds}
}

func TestPercentagesWithNoTime(t *testing.T) {
	p := percentages(stateTotals(nil))
	check.T(t, check.Eq(p, map[client.StateLabel]float64{
		client.Running: 0, client.Idle: 0, client.Error: 0,
	}))
}

func TestPercentagesAreRounded(t *testing.T) {
	p := percentages(map[client.StateLabel]float64{
		client.Running: 1, client.Idle: 1, client.Error: 1,
	})
	check.T(t, check.Eq(p[client.Running], 33.3))
}

// TestHourlyMetricsSkipOffHours checks that only working hours are reported,
// and that each hour only counts the events that started in it
func TestHourlyMetricsSkipOffHours(t *testing.T) {
	wd := TestOptions.Workday
	events := []client.StateEvent{
		event(client.Running, monday.Add(-2*time.Hour), 3600), // 6:00
		event(client.Idle, monday.Add(10*time.Minute), 600),
		event(client.Running, monday.Add(20*time.Minute), 2400),
		event(client.Error, monday.Add(9*time.Hour+30*time.Minute), 60), // 17:30
	}
	hourly := hourlyMetrics(events, monday.Add(10*time.Hour), wd)
	check.T(t,
		check.Len(hourly, 1),
		check.Eq(hourly[8].TotalDuration, 3000.0),
		check.Eq(hourly[8].RunningDuration, 2400.0),
		check.Eq(hourly[8].UptimePercentage, 80.0),
		check.Eq(hourly[8].StateCounts[client.Running], 1))

	// nothing is reported on weekends
	saturday := monday.AddDate(0, 0, 5)
	hourly = hourlyMetrics([]client.StateEvent{event(client.Running, saturday, 60)}, saturday, wd)
	check.T(t, check.Len(hourly, 0))
}

func TestDailyMetricsSkipWeekends(t *testing.T) {
	start := chrono.Midnight(monday)
	end := start.AddDate(0, 0, 7).Add(-time.Second) // Sunday night
	events := []client.StateEvent{
		event(client.Running, monday, 2*3600),
		event(client.Running, monday.AddDate(0, 0, 1), 6*3600),
		event(client.Idle, monday.AddDate(0, 0, 5), 3600), // Saturday
	}
	daily, summary := dailyMetrics(events, start, end, 8*time.Hour)
	check.T(t,
		check.Len(daily, 5),
		check.Eq(daily["2024-03-05"].Efficiency, 75.0),
		check.Eq(daily["2024-03-08"].StateCounts[client.Error], 1),
		check.Eq(summary.BestDay, "2024-03-05"),
		check.Eq(summary.BestDayEfficiency, 75.0),
		check.Eq(summary.WorkDaysElapsed, 5),
		check.Eq(summary.AvgDailyRuntime, 8*3600.0/5),
		check.Eq(summary.AvgDailyError, 3*8*3600.0/5),
		check.Eq(summary.PeriodEfficiency, 20.0))
}
