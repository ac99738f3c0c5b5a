package main

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/dashboard"
	"github.com/msteffen/machine-chronograph/pkg/check"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/live"
)

var testWorkday = chrono.Workday{StartHour: 7, EndHour: 17, Location: time.UTC}

func newTestView() (*terminalView, *bytes.Buffer) {
	var out bytes.Buffer
	v := newTerminalView(&out, testWorkday)
	v.now = func() time.Time { return at(120) }
	return v, &out
}

// lastScreen returns the most recent redraw in 'out'
func lastScreen(out *bytes.Buffer) string {
	screens := strings.Split(out.String(), "\x1b[H\x1b[2J")
	return StripCtlChars(screens[len(screens)-1])
}

func TestViewRender(t *testing.T) {
	v, out := newTestView()
	v.Connection(dashboard.Connected, nil)
	v.Status("RUNNING", "Production run")
	v.Live(live.Status{
		LiveTotals: live.StateDurations{client.Running: time.Hour, client.Idle: time.Hour},
		Efficiency: 50,
	})
	v.Timeline([]chrono.Segment{
		{State: client.Running, Start: at(0), End: at(120), Duration: 2 * time.Hour, IsCurrent: true},
		{
			State: client.NoData, Start: at(120), End: day.End, Duration: 8 * time.Hour,
			IsSynthetic: true, Filler: chrono.PostShiftFiller,
		},
	})
	v.Metrics(&client.MetricsResponse{
		Period:      "week",
		StateCounts: map[client.StateLabel]float64{client.Running: 7200},
		Percentages: map[client.StateLabel]float64{client.Running: 100},
		Summary:     &client.Summary{PeriodEfficiency: 25, WorkDaysElapsed: 1, BestDay: "2024-03-04", BestDayEfficiency: 25},
	})

	screen := lastScreen(out)
	for _, want := range []string{
		"Machine: RUNNING (Production run)    [connected]",
		"efficiency 50.0%",
		"RUNNING since 07:00:00",
		"Period week:",
		"(100.0%)",
		"best day 2024-03-04 (25.0%)",
	} {
		check.T(t, check.True(strings.Contains(screen, want)))
	}
	check.T(t, check.HasSuffix(screen, dashHelp+"\n"))
}

func TestViewKeepsDataOnError(t *testing.T) {
	v, out := newTestView()
	v.Events([]client.StateEvent{{State: client.Idle, Timestamp: at(30), Description: "Job complete"}})
	v.Error(dashboard.OpEvents, errors.New("connection refused"))
	v.Connection(dashboard.Lost, errors.New("connection refused"))

	screen := lastScreen(out)
	check.T(t,
		check.True(strings.Contains(screen, "Job complete")),
		check.True(strings.Contains(screen, "> events failed: connection refused")),
		check.True(strings.Contains(screen, "[connection lost: connection refused]")))
}

type fakeActions struct {
	calls     []string
	w         io.Writer
	exportErr error
}

func (f *fakeActions) SetPeriod(p string) { f.calls = append(f.calls, "period "+p) }
func (f *fakeActions) SetEventFilter(s string, n int) {
	f.calls = append(f.calls, "filter "+s+" "+strings.Repeat("#", n))
}
func (f *fakeActions) Refresh()   { f.calls = append(f.calls, "refresh") }
func (f *fakeActions) ClearData() { f.calls = append(f.calls, "clear") }
func (f *fakeActions) Export(w io.Writer) error {
	f.calls = append(f.calls, "export")
	f.w = w
	return f.exportErr
}

func TestDashCommands(t *testing.T) {
	v, out := newTestView()
	a := &fakeActions{}
	path := filepath.Join(t.TempDir(), "out.csv")

	for _, line := range []string{"p week", "f IDLE 3", "f all", "", "r", "clear yes", "e " + path} {
		more, err := runDashCommand(line, a, v)
		check.T(t, check.Nil(err), check.True(more))
	}
	check.T(t, check.Eq(a.calls, []string{
		"period week", "filter IDLE ###", "filter all ", "refresh", "clear", "export",
	}))

	// the export file is closed once the session reports completion
	_, err := io.WriteString(a.w, "State\n")
	check.T(t, check.Nil(err))
	v.Completed(dashboard.OpExport)
	check.T(t, check.True(strings.Contains(lastScreen(out), "exported state changes to "+path)))

	for _, bad := range []string{"p", "f IDLE zero", "clear", "launch"} {
		more, err := runDashCommand(bad, a, v)
		check.T(t, check.NotNil(err), check.True(more))
	}
	more, err := runDashCommand("q", a, v)
	check.T(t, check.Nil(err), check.False(more))
}

func TestDashExportAfterStop(t *testing.T) {
	v, _ := newTestView()
	a := &fakeActions{exportErr: dashboard.ErrStopped}
	path := filepath.Join(t.TempDir(), "out.csv")

	more, err := runDashCommand("e "+path, a, v)
	check.T(t, check.NotNil(err), check.True(more))
	check.T(t, check.True(strings.Contains(err.Error(), dashboard.ErrStopped.Error())))

	// the file was closed and is no longer pending
	_, err = io.WriteString(a.w, "State\n")
	check.T(t, check.NotNil(err))
	check.T(t, check.True(v.finishExport() == nil))
}
