package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/config"
	"github.com/msteffen/machine-chronograph/machined"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

var (
	configPath string // populated by the --config flag
	binaryName string // populated by main(), used by by getCLIClient()
)

type couldNotConnectErr struct {
	innerErr error
}

func (e couldNotConnectErr) Error() string {
	return "could not connect to machine daemon (even after attempting to start it): " + e.innerErr.Error()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// ensureDataDir creates cfg.DataDir if necessary, and checks that it's usable
func ensureDataDir(cfg config.Config) error {
	if info, err := os.Stat(cfg.DataDir); err != nil {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return err
		}
	} else if info.Mode().Perm()&0700 != 0700 {
		return fmt.Errorf("must have rwx permissions on %s but only have %s (%0d vs 0700)",
			cfg.DataDir, info.Mode(), info.Mode().Perm()&0700)
	}
	return nil
}

// getCLIClient returns a client for the daemon at cfg.Address, starting the
// daemon in the background if it isn't running
func getCLIClient(ctx context.Context, cfg config.Config) (*client.Client, error) {
	c := &client.Client{Address: cfg.Address}
	var err error
	for retry := 0; retry < 2; retry++ {
		// Try to connect naively
		_, err = c.Status(ctx)
		if err == nil {
			return c, nil
		} else if retry > 0 {
			break
		}

		// Try to start the daemon, as "mm serve" in another process
		fmt.Printf("could not connect to server: %v\nAttempting to start it...\n", err)
		if err := ensureDataDir(cfg); err != nil {
			return nil, err
		}
		args := []string{"serve"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		cmd := exec.Command(binaryName, args...)
		cmd.Stdout, err = os.OpenFile(cfg.DataDir+"/machined.stdout", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not create stdout log for machined: %v", err)
		}
		cmd.Stderr, err = os.OpenFile(cfg.DataDir+"/machined.stderr", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not create stderr log for machined: %v", err)
		}
		cmd.Stdout.Write([]byte("\n--------------------------------------------\n"))
		cmd.Stderr.Write([]byte("\n--------------------------------------------\n"))
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("error starting machined: %v", err)
		}
		time.Sleep(time.Second) // wait for machined to start
	}
	return nil, couldNotConnectErr{err}
}

// dayRow reads the events of the day containing 'date', reconciles them over
// the work day, and returns a bar for the day
func dayRow(ctx context.Context, c *client.Client, wd chrono.Workday, date, now time.Time) (string, error) {
	events, err := c.GetEventsByDate(ctx, date)
	if err != nil {
		return "", fmt.Errorf("could not retrieve events for %s: %v", date.Format("2006-01-02"), err)
	}
	w := wd.Window(date)
	segments := chrono.Reconcile(events, w, now)
	totals := chrono.Totals(segments)

	// Return string of form "Mon 02/01 [...bar...] 4h 20m running"
	return fmt.Sprintf("%[1]s%[2]s%[3]s %[4]s %[1]s%[5]s running%[3]s",
		sgr(boldText, setFGColor, labelColor),
		date.Format("Mon 01/02:"),
		string(sgr(resetAll)),
		Bar(w, segments),
		chrono.Format(totals[client.Running])), nil
}

// redraw calls 'draw' once a second until ctx is cancelled, moving the cursor
// back up 'lines' lines before each redraw
func redraw(ctx context.Context, lines int, draw func() error) error {
	for tick := 0; ; tick++ {
		if tick > 0 {
			fmt.Printf("\x1b[%dF\x1b[J", lines) // up 'lines' lines & clear rest of screen
		}
		if err := draw(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func weekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "week",
		Short: "Show the machine's state over the last seven days",
		Long:  "Show the machine's state over the last seven days",
		Run: BoundedCommand(0, 0, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			wd := cfg.Workday()
			return redraw(ctx, 9, func() error {
				now := time.Now().In(wd.Zone())
				start := chrono.Midnight(now).AddDate(0, 0, -6)
				for day := 0; day < 7; day++ {
					// print upper border
					if day+1 == 7 {
						fmt.Println(strings.Repeat("-", 80))
					}
					bar, err := dayRow(ctx, c, wd, start.AddDate(0, 0, day), now)
					if err != nil {
						return err
					}
					fmt.Println(bar)
					// print lower border
					if day+1 == 7 {
						fmt.Println(strings.Repeat("-", 80))
					}
				}
				return nil
			})
		}),
	}
}

// writeSegmentsCSV writes 'segments' to 'w' as CSV
func writeSegmentsCSV(w io.Writer, segments []chrono.Segment) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"State", "Start Time", "End Time", "Duration (seconds)", "Filler", "Current"})
	for _, s := range segments {
		cw.Write([]string{
			string(s.State),
			s.Start.Format("2006-01-02 15:04:05"),
			s.End.Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(s.Duration.Seconds(), 'f', 1, 64),
			string(s.Filler),
			strconv.FormatBool(s.IsCurrent),
		})
	}
	cw.Flush()
	return cw.Error()
}

func timelineCmd() *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "timeline [YYYY-MM-DD]",
		Short: "Print the reconciled timeline of one work day (today by default)",
		Long:  "Print the reconciled timeline of one work day (today by default)",
		Run: BoundedCommand(0, 1, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			wd := cfg.Workday()
			now := time.Now().In(wd.Zone())
			date := now
			if len(args) > 0 {
				if date, err = time.ParseInLocation("2006-01-02", args[0], wd.Zone()); err != nil {
					return fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %v", args[0], err)
				}
			}
			events, err := c.GetEventsByDate(ctx, date)
			if err != nil {
				return err
			}
			w := wd.Window(date)
			segments := chrono.Reconcile(events, w, now)
			if asCSV {
				return writeSegmentsCSV(os.Stdout, segments)
			}
			fmt.Printf("%s %s\n", w, Bar(w, segments))
			for _, s := range segments {
				marker := ""
				if s.IsCurrent {
					marker = " <- now"
				}
				label := string(s.State)
				if s.IsSynthetic {
					label += " (" + string(s.Filler) + ")"
				}
				fmt.Printf("%s-%s  %-20s %10s%s\n", s.Start.Format("15:04:05"),
					s.End.Format("15:04:05"), label, chrono.Format(s.Duration), marker)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write the timeline's segments as CSV")
	return cmd
}

func eventsCmd() *cobra.Command {
	var period, state string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recorded state changes, newest first",
		Long:  "Print recorded state changes, newest first",
		Run: BoundedCommand(0, 0, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			events, err := c.GetEvents(ctx, period, state, limit)
			if err != nil {
				return fmt.Errorf("could not retrieve events: %v", err)
			}
			for _, e := range events {
				fmt.Printf("%s %s\n", e, e.Description)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&period, "period", "p", "today", "one of "+strings.Join(chrono.Periods, ", "))
	cmd.Flags().StringVarP(&state, "state", "s", "all", "only print events of this state")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events to print")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all recorded state changes as CSV",
		Long:  "Export all recorded state changes as CSV (to state_changes_<time>.csv by default)",
		Run: BoundedCommand(0, 1, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("state_changes_%s.csv", time.Now().Format("20060102_150405"))
			if len(args) > 0 {
				path = args[0]
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := c.ExportStates(ctx, f); err != nil {
				f.Close()
				return fmt.Errorf("could not export states: %v", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("exported state changes to %s\n", path)
			return nil
		}),
	}
}

func clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded state changes",
		Long:  "Delete all recorded state changes. This can't be undone",
		Run: BoundedCommand(0, 0, func(ctx context.Context, args []string) error {
			if !yes {
				return errors.New("refusing to delete all data without --yes")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			if err := c.ClearData(ctx); err != nil {
				return fmt.Errorf("could not clear data: %v", err)
			}
			fmt.Println("all state data cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that all data should be deleted")
	return cmd
}

func recordCmd() *cobra.Command {
	var tag int64
	cmd := &cobra.Command{
		Use:   "record <RUNNING|IDLE|ERROR> [description]",
		Short: "Record a machine state change",
		Long:  "Record a machine state change, as the machine's controller would",
		Run: BoundedCommand(1, 2, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			req := &client.RecordStateRequest{State: client.StateLabel(strings.ToUpper(args[0]))}
			if len(args) > 1 {
				req.Description = args[1]
			}
			if tag >= 0 {
				req.TagID = &tag
			}
			e, err := c.RecordState(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(e)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&tag, "tag", -1, "id of the tag that triggered the change")
	return cmd
}

// waitForDaemon polls c until the daemon responds
func waitForDaemon(ctx context.Context, c *client.Client) error {
	var err error
	for i := 0; i < 50; i++ {
		if _, err = c.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("daemon did not come up: %v", err)
}

func serveCmd() *cobra.Command {
	var verbose, simulate bool
	var seed int64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the machine daemon",
		Long:  "Start the machine daemon",
		Run: BoundedCommand(0, 0, func(ctx context.Context, _ []string) error {
			// typically this is run by systemd, so use compact logs
			if !verbose {
				log.SetLevel(log.WarnLevel)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := ensureDataDir(cfg); err != nil {
				return err
			}
			lock, err := lockDataDir(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Close()

			opts := machined.Options{
				Workday:    cfg.Workday(),
				Shift:      cfg.Shift(),
				EventLimit: cfg.EventLimit,
			}
			apiServer, err := machined.NewServer(machined.SystemClock, cfg.DBPath(), opts)
			if err != nil {
				return fmt.Errorf("could not create APIServer: %v", err)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return machined.ServeOverHTTP(ctx, cfg.Address, machined.SystemClock, apiServer, opts)
			})
			if simulate {
				g.Go(func() error {
					c := &client.Client{Address: cfg.Address}
					if err := waitForDaemon(ctx, c); err != nil {
						return err
					}
					log.Warnf("simulating machine state changes (seed %d)", seed)
					if err := machined.NewSimulator(c, seed).Run(ctx); !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			return g.Wait()
		}),
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "If set, increase the logging verbosity to include every request/response")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "record simulated state changes, for demos")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed for --simulate")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Give the status of the machine daemon (or start if it it's stopped)",
		Long:  "Give the status of the machine daemon (or start if it it's stopped)",
		Run: BoundedCommand(0, 0, func(ctx context.Context, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}
			uptime, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("error retrieving daemon status: %v", err)
			}
			fmt.Printf("machine daemon at %s has been up for %s\n", cfg.Address, uptime)
			return nil
		}),
	}
}

func main() {
	rootCmd := cobra.Command{
		Use:   "mm",
		Short: "mm is the client for the machine-chronograph daemon",
		Long: "Client-side CLI for a machine-state monitor that records when a machine " +
			"is RUNNING, IDLE or in ERROR, and shows how its work day went",
		Run: BoundedCommand(0, 0, func(ctx context.Context, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := getCLIClient(ctx, cfg)
			if err != nil {
				return err
			}

			// Print today's bar, and keep it up to date
			wd := cfg.Workday()
			return redraw(ctx, 1, func() error {
				now := time.Now().In(wd.Zone())
				bar, err := dayRow(ctx, c, wd, now, now)
				if err != nil {
					return err
				}
				fmt.Println(bar)
				return nil
			})
		}),
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "path to config.yaml")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(dashCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(clearCmd())

	binaryName = os.Args[0]
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
