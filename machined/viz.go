package machined

import (
	"html/template"
	"net/http"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

// vizDays is the number of work days rendered by /viz (today and the ones
// before it)
const vizDays = 5

type vizSegment struct {
	chrono.Segment

	// Left and Width position the segment in its row, as a percentage of the
	// workday window
	Left, Width float64
}

func (s vizSegment) Label() string {
	return string(s.State) + " " + s.Start.Format("15:04") + "-" + s.End.Format("15:04") +
		" (" + chrono.Format(s.Duration) + ")"
}

func (s vizSegment) Class() string {
	switch {
	case s.Filler == chrono.PostShiftFiller:
		return "post-shift"
	case s.State == client.NoData:
		return "no-data"
	}
	return string(s.State)
}

type vizDay struct {
	// the date that this day (set of segments) falls on
	Date     time.Time
	Segments []vizSegment
	Running  string
}

// vizOp has all of the internal data structures retrieved/computed while
// generating the /viz HTML page
type vizOp struct {
	//// Not Owned
	// The 'server' that handles incoming requests
	Server  client.MachineAPI
	Workday chrono.Workday
	// The current time (injected by creator for testing)
	Now time.Time
	// The http response writer that must receive the result of /viz
	Writer http.ResponseWriter

	//// Owned
	days []vizDay
}

// Start renders the /viz page
func (t *vizOp) Start() {
	now := t.Now.In(t.Workday.Zone())
	for i := vizDays - 1; i >= 0; i-- {
		date := chrono.Midnight(now).AddDate(0, 0, -i)
		events, err := t.Server.GetEventsByDate(&client.GetEventsByDateRequest{
			Date: date.Format(dateLayout),
		})
		if err != nil {
			http.Error(t.Writer, err.Error(), http.StatusInternalServerError)
			return
		}
		t.days = append(t.days, buildVizDay(date, events, t.Workday.Window(date), now))
	}
	t.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := vizTemplate.Execute(t.Writer, t.days); err != nil {
		http.Error(t.Writer, err.Error(), http.StatusInternalServerError)
	}
}

func buildVizDay(date time.Time, events []client.StateEvent, w chrono.Window, now time.Time) vizDay {
	segments := chrono.Reconcile(events, w, now)
	day := vizDay{Date: date}
	total := float64(w.Duration())
	for _, s := range segments {
		day.Segments = append(day.Segments, vizSegment{
			Segment: s,
			Left:    float64(s.Start.Sub(w.Start)) / total * 100,
			Width:   float64(s.Duration) / total * 100,
		})
	}
	day.Running = chrono.Format(chrono.Totals(segments)[client.Running])
	return day
}

var vizTemplate = template.Must(template.New("viz").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Machine chronograph</title>
<style>
  body { font-family: sans-serif; margin: 2em; }
  .day { margin-bottom: 1.5em; }
  .bar { position: relative; height: 2em; background: #eee; }
  .seg { position: absolute; top: 0; height: 100%; }
  .RUNNING { background: #2e7d32; }
  .IDLE { background: #f9a825; }
  .ERROR { background: #c62828; }
  .no-data { background: #9e9e9e; }
  .post-shift { background: #e0e0e0; }
  .current { outline: 2px solid #000; }
</style>
</head>
<body>
{{range .}}
<div class="day">
  <h3>{{.Date.Format "Mon Jan 2"}} <small>running {{.Running}}</small></h3>
  <div class="bar">
  {{- range .Segments}}
    <div class="seg {{.Class}}{{if .IsCurrent}} current{{end}}" style="left: {{printf "%.3f" .Left}}%; width: {{printf "%.3f" .Width}}%" title="{{.Label}}"></div>
  {{- end}}
  </div>
</div>
{{end}}
</body>
</html>
`))
