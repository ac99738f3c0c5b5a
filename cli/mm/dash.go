package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/dashboard"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/live"
)

// maxEventLines is the number of event log lines shown by the dashboard
const maxEventLines = 10

const dashHelp = "commands: p <period> | f <state> [limit] | r | e [file] | clear yes | q"

// terminalView renders a dashboard.Session to a terminal, redrawing the whole
// screen on every update. Its methods are only called from the session's
// event loop, except for expectExport
type terminalView struct {
	out     io.Writer
	workday chrono.Workday
	now     func() time.Time

	status, description string
	live                live.Status
	hasLive             bool
	segments            []chrono.Segment
	metrics             *client.MetricsResponse
	events              []client.StateEvent
	conn                dashboard.ConnState
	connErr             error
	message             string

	// exports holds the file that the in-flight export is writing to
	exports chan *os.File
}

func newTerminalView(out io.Writer, wd chrono.Workday) *terminalView {
	return &terminalView{
		out:     out,
		workday: wd,
		now:     time.Now,
		exports: make(chan *os.File, 1),
	}
}

func (v *terminalView) Status(label, description string) {
	v.status, v.description = label, description
	v.render()
}

func (v *terminalView) Live(s live.Status) {
	v.live, v.hasLive = s, true
	v.render()
}

func (v *terminalView) Timeline(segments []chrono.Segment) {
	v.segments = segments
	v.render()
}

func (v *terminalView) Metrics(m *client.MetricsResponse) {
	v.metrics = m
	v.render()
}

func (v *terminalView) Events(events []client.StateEvent) {
	v.events = events
	v.render()
}

func (v *terminalView) Connection(state dashboard.ConnState, err error) {
	v.conn, v.connErr = state, err
	v.render()
}

func (v *terminalView) Error(op dashboard.Op, err error) {
	if op == dashboard.OpExport {
		v.finishExport()
	}
	v.message = fmt.Sprintf("%s failed: %v", op, err)
	v.render()
}

func (v *terminalView) Completed(op dashboard.Op) {
	switch op {
	case dashboard.OpExport:
		if f := v.finishExport(); f != nil {
			v.message = "exported state changes to " + f.Name()
		}
	case dashboard.OpClear:
		v.message = "all state data cleared"
	}
	v.render()
}

func (v *terminalView) expectExport(f *os.File) {
	v.exports <- f
}

func (v *terminalView) finishExport() *os.File {
	select {
	case f := <-v.exports:
		f.Close()
		return f
	default:
		return nil
	}
}

func (v *terminalView) render() {
	var b bytes.Buffer
	b.WriteString("\x1b[H\x1b[2J") // home & clear screen

	// current state and connection
	status := v.status
	if status == "" {
		status = "(unknown)"
	}
	fmt.Fprintf(&b, "Machine: %s", status)
	if v.description != "" {
		fmt.Fprintf(&b, " (%s)", v.description)
	}
	fmt.Fprintf(&b, "    [%s", v.conn)
	if v.conn != dashboard.Connected && v.connErr != nil {
		fmt.Fprintf(&b, ": %v", v.connErr)
	}
	b.WriteString("]\n")

	// live totals
	if v.hasLive {
		var parts []string
		for _, s := range client.RealStates {
			parts = append(parts, fmt.Sprintf("%s %s", s, chrono.Format(v.live.LiveTotals[s])))
		}
		fmt.Fprintf(&b, "Live: %s | efficiency %.1f%%", strings.Join(parts, " | "), v.live.Efficiency)
		if v.live.HasActive {
			fmt.Fprintf(&b, " | %s for %s", v.live.Active.Label, chrono.Format(v.live.CurrentStateElapsed))
		}
		b.WriteString("\n")
	}

	// today's chronograph
	w := v.workday.Window(v.now())
	fmt.Fprintf(&b, "Today %s %s\n", w, Bar(w, v.segments))
	if cur, ok := chrono.Current(v.segments); ok {
		fmt.Fprintf(&b, "  %s since %s\n", cur.State, cur.Start.Format("15:04:05"))
	}

	// period metrics
	if m := v.metrics; m != nil {
		fmt.Fprintf(&b, "Period %s:", m.Period)
		for _, s := range client.RealStates {
			fmt.Fprintf(&b, " %s %s (%.1f%%)", s, chrono.FormatDuration(m.StateCounts[s]), m.Percentages[s])
		}
		b.WriteString("\n")
		if sum := m.Summary; sum != nil {
			fmt.Fprintf(&b, "  efficiency %.1f%% over %d work days", sum.PeriodEfficiency, sum.WorkDaysElapsed)
			if sum.BestDay != "" {
				fmt.Fprintf(&b, ", best day %s (%.1f%%)", sum.BestDay, sum.BestDayEfficiency)
			}
			b.WriteString("\n")
		}
	}

	// event log
	if len(v.events) > 0 {
		b.WriteString("Recent events:\n")
		for i, e := range v.events {
			if i == maxEventLines {
				fmt.Fprintf(&b, "  ... %d more\n", len(v.events)-maxEventLines)
				break
			}
			fmt.Fprintf(&b, "  %s %s\n", e, e.Description)
		}
	}

	if v.message != "" {
		fmt.Fprintf(&b, "> %s\n", v.message)
	}
	b.WriteString(dashHelp + "\n")
	v.out.Write(b.Bytes())
}

// sessionActions are the dashboard.Session methods driven by typed commands
type sessionActions interface {
	SetPeriod(period string)
	SetEventFilter(state string, limit int)
	Refresh()
	ClearData()
	Export(w io.Writer) error
}

// runDashCommand applies one typed command. It returns false for "q"
func runDashCommand(line string, s sessionActions, v *terminalView) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, nil
	}
	switch fields[0] {
	case "q", "quit":
		return false, nil
	case "p", "period":
		if len(fields) != 2 {
			return true, fmt.Errorf("usage: p <%s>", strings.Join(chrono.Periods, "|"))
		}
		s.SetPeriod(fields[1])
	case "f", "filter":
		if len(fields) < 2 || len(fields) > 3 {
			return true, fmt.Errorf("usage: f <all|RUNNING|IDLE|ERROR> [limit]")
		}
		limit := 0
		if len(fields) == 3 {
			n, err := strconv.Atoi(fields[2])
			if err != nil || n <= 0 {
				return true, fmt.Errorf("invalid limit %q", fields[2])
			}
			limit = n
		}
		s.SetEventFilter(fields[1], limit)
	case "r", "refresh":
		s.Refresh()
	case "e", "export":
		path := fmt.Sprintf("state_changes_%s.csv", time.Now().Format("20060102_150405"))
		if len(fields) > 1 {
			path = fields[1]
		}
		f, err := os.Create(path)
		if err != nil {
			return true, err
		}
		v.expectExport(f)
		if err := s.Export(f); err != nil {
			v.finishExport()
			return true, fmt.Errorf("could not export to %s: %v", path, err)
		}
	case "clear":
		if len(fields) != 2 || fields[1] != "yes" {
			return true, fmt.Errorf("type 'clear yes' to delete all data")
		}
		s.ClearData()
	default:
		return true, fmt.Errorf("unknown command %q (%s)", fields[0], dashHelp)
	}
	return true, nil
}

// readDashCommands applies commands read from 'r' until "q", EOF or ctx is
// cancelled, and then calls 'quit'
func readDashCommands(ctx context.Context, r io.Reader, s sessionActions, v *terminalView, quit func()) {
	defer quit()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			more, err := runDashCommand(line, s, v)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			if !more {
				return
			}
		}
	}
}

func dashCmd() *cobra.Command {
	var period, state string
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Show a live dashboard of the machine's state",
		Long: "Show a live dashboard of the machine's state: live totals, today's " +
			"chronograph, period metrics and the event log",
		Run: BoundedCommand(0, 0, func(ctx context.Context, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			if err := ensureDataDir(cfg); err != nil {
				return err
			}

			// the dashboard owns the terminal, so logs go to a file
			logFile, err := os.OpenFile(cfg.DataDir+"/dash.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("could not open dashboard log: %v", err)
			}
			defer logFile.Close()
			log.SetOutput(logFile)

			store, err := live.OpenBoltStore(cfg.StatePath())
			if err != nil {
				return err
			}
			defer store.Close()

			wd := cfg.Workday()
			view := newTerminalView(os.Stdout, wd)
			s := dashboard.New(c, dashboard.ClientDialer(c), view, store, dashboard.Config{
				Period:               period,
				EventState:           state,
				EventLimit:           cfg.EventLimit,
				Workday:              wd,
				Tick:                 cfg.Tick(),
				TimelineRefresh:      cfg.TimelineRefresh(),
				MetricsRefresh:       cfg.MetricsRefresh(),
				ReconnectDelay:       cfg.ReconnectDelay(),
				MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			})
			log.Infof("starting dashboard session %s against %s", s.ID(), cfg.Address)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go readDashCommands(ctx, os.Stdin, s, view, cancel)
			err = s.Run(ctx)
			// an export still in flight at shutdown is never reported
			view.finishExport()
			return err
		}),
	}
	cmd.Flags().StringVarP(&period, "period", "p", "today", "metrics and event log period")
	cmd.Flags().StringVarP(&state, "state", "s", "all", "event log state filter")
	return cmd
}
