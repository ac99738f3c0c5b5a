package machined

import (
	"math"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

// round1 rounds 'f' to one decimal place
func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func isWeekday(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

// stateTotals sums the (recomputed) durations of 'events' per state
func stateTotals(events []client.StateEvent) map[client.StateLabel]float64 {
	totals := make(map[client.StateLabel]float64, len(client.RealStates))
	for _, s := range client.RealStates {
		totals[s] = 0
	}
	for _, e := range events {
		if e.State.Valid() {
			totals[e.State] += e.Duration
		}
	}
	return totals
}

func stateCounts(events []client.StateEvent) map[client.StateLabel]int {
	counts := make(map[client.StateLabel]int, len(client.RealStates))
	for _, s := range client.RealStates {
		counts[s] = 0
	}
	for _, e := range events {
		if e.State.Valid() {
			counts[e.State]++
		}
	}
	return counts
}

func percentages(totals map[client.StateLabel]float64) map[client.StateLabel]float64 {
	var sum float64
	for _, v := range totals {
		sum += v
	}
	result := make(map[client.StateLabel]float64, len(totals))
	for s, v := range totals {
		if sum > 0 {
			result[s] = round1(v / sum * 100)
		} else {
			result[s] = 0
		}
	}
	return result
}

// eventsIn returns the events of the (sorted) slice 'events' that start in
// [start, end)
func eventsIn(events []client.StateEvent, start, end time.Time) []client.StateEvent {
	var result []client.StateEvent
	for _, e := range events {
		if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			result = append(result, e)
		}
	}
	return result
}

// hourlyMetrics breaks down the working hours of the day containing 'now' by
// the events that started in each hour. Hours without events are omitted.
func hourlyMetrics(events []client.StateEvent, now time.Time, wd chrono.Workday) map[int]client.HourlyMetric {
	result := make(map[int]client.HourlyMetric)
	y, m, d := now.Date()
	for hour := 0; hour < 24; hour++ {
		start := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
		if !wd.IsWorkingTime(start) {
			continue
		}
		inHour := eventsIn(events, start, start.Add(time.Hour))
		if len(inHour) == 0 {
			continue
		}
		totals := stateTotals(inHour)
		var total float64
		for _, v := range totals {
			total += v
		}
		metric := client.HourlyMetric{
			TotalDuration:   total,
			RunningDuration: totals[client.Running],
			StateCounts:     stateCounts(inHour),
		}
		if total > 0 {
			metric.UptimePercentage = totals[client.Running] / total * 100
		}
		result[hour] = metric
	}
	return result
}

// daySummary is the summary reported for "today": the day is its own best day
// and average
func daySummary(totals map[client.StateLabel]float64, now time.Time, shift time.Duration) *client.Summary {
	efficiency := round1(totals[client.Running] / shift.Seconds() * 100)
	return &client.Summary{
		BestDay:           now.Format(dateLayout),
		BestDayEfficiency: efficiency,
		AvgDailyRuntime:   totals[client.Running],
		AvgDailyIdle:      totals[client.Idle],
		AvgDailyError:     totals[client.Error],
		PeriodEfficiency:  efficiency,
		WorkDaysElapsed:   1,
	}
}

// dailyMetrics computes per-day metrics for each weekday in [start, end], and
// the period summary. A work day with no recorded events is charged a full
// shift of ERROR.
func dailyMetrics(events []client.StateEvent, start, end time.Time, shift time.Duration) (map[string]client.DailyMetric, *client.Summary) {
	daily := make(map[string]client.DailyMetric)
	summary := &client.Summary{}
	shiftSecs := shift.Seconds()
	var runtime, idle, errTime float64
	for day := chrono.Midnight(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		if !isWeekday(day) {
			continue
		}
		summary.WorkDaysElapsed++
		key := day.Format(dateLayout)
		inDay := eventsIn(events, day, day.AddDate(0, 0, 1))
		if len(inDay) == 0 {
			errTime += shiftSecs
			daily[key] = client.DailyMetric{
				TotalDuration: shiftSecs,
				ErrorDuration: shiftSecs,
				StateCounts: map[client.StateLabel]int{
					client.Running: 0, client.Idle: 0, client.Error: 1,
				},
			}
			continue
		}
		totals := stateTotals(inDay)
		metric := client.DailyMetric{
			TotalDuration:   shiftSecs,
			RunningDuration: totals[client.Running],
			IdleDuration:    totals[client.Idle],
			ErrorDuration:   totals[client.Error],
			Efficiency:      totals[client.Running] / shiftSecs * 100,
			StateCounts:     stateCounts(inDay),
		}
		if metric.Efficiency > summary.BestDayEfficiency {
			summary.BestDayEfficiency = metric.Efficiency
			summary.BestDay = key
		}
		runtime += metric.RunningDuration
		idle += metric.IdleDuration
		errTime += metric.ErrorDuration
		daily[key] = metric
	}

	summary.BestDayEfficiency = round1(summary.BestDayEfficiency)
	if n := float64(summary.WorkDaysElapsed); n > 0 {
		summary.AvgDailyRuntime = runtime / n
		summary.AvgDailyIdle = idle / n
		summary.AvgDailyError = errTime / n
		summary.PeriodEfficiency = round1(runtime / (n * shiftSecs) * 100)
	}
	return daily, summary
}
