package machined

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/msteffen/machine-chronograph/client"
)

// exportHeader is the first row of the CSV written by WriteEventsCSV
var exportHeader = []string{"State", "Duration (seconds)", "Start Time", "End Time", "Description"}

const exportTimeLayout = "2006-01-02 15:04:05"

// WriteEventsCSV writes 'events' to 'w' as CSV, one row per state change, with
// the end time derived from the event's duration
func WriteEventsCSV(w io.Writer, events []client.StateEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, e := range events {
		end := e.Timestamp.Add(time.Duration(e.Duration * float64(time.Second)))
		if err := cw.Write([]string{
			string(e.State),
			strconv.FormatFloat(e.Duration, 'f', 1, 64),
			e.Timestamp.Format(exportTimeLayout),
			end.Format(exportTimeLayout),
			e.Description,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
