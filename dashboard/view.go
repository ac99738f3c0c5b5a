package dashboard

import (
	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/live"
)

// ConnState is the state of a Session's push subscription
type ConnState int

const (
	Connecting ConnState = iota
	Connected
	// Reconnecting means the subscription failed and the session is waiting to
	// retry. Timers are stopped
	Reconnecting
	// Lost means the session gave up on the subscription. It's terminal
	Lost
)

func (c ConnState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Lost:
		return "connection lost"
	}
	return "unknown"
}

// Op names an operation whose failure is reported to a View
type Op string

const (
	OpMetrics  Op = "metrics"
	OpTimeline Op = "timeline"
	OpEvents   Op = "events"
	OpClear    Op = "clear"
	OpExport   Op = "export"
)

func (k fetchKind) op() Op {
	switch k {
	case fetchMetrics:
		return OpMetrics
	case fetchTimeline:
		return OpTimeline
	}
	return OpEvents
}

func (k fetchKind) String() string {
	return string(k.op())
}

// View renders a Session. All methods are called from the Session's event
// loop, one at a time, and never after Run returns.
//
// A failed refresh is reported via Error and is not followed by an empty
// Metrics/Timeline/Events call, so a View keeps showing its previous data.
type View interface {
	// Status shows the latest pushed state, including labels the session
	// doesn't track
	Status(label, description string)
	Live(live.Status)
	Timeline([]chrono.Segment)
	Metrics(*client.MetricsResponse)
	Events([]client.StateEvent)
	Connection(state ConnState, err error)
	Error(op Op, err error)
	Completed(op Op)
}
