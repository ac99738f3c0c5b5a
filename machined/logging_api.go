package machined

import (
	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
)

// LoggingAPI wraps a MachineAPI, but logs all requests and responses
type LoggingAPI struct {
	inner client.MachineAPI
}

// RecordState implements the corresponding method of the MachineAPI interface,
// passing the call to a.inner and logging the request and response
func (a *LoggingAPI) RecordState(req *client.RecordStateRequest) (resp *client.StateEvent, retErr error) {
	log.Infof("/api/state <- %s (%q)", req.State, req.Description)
	defer func() {
		log.Infof("/api/state %s -> (%v, %v)", req.State, resp, retErr)
	}()
	return a.inner.RecordState(req)
}

// CurrentState implements the corresponding method of the MachineAPI
// interface, passing the call to a.inner and logging the response
func (a *LoggingAPI) CurrentState() (resp *client.StatePush, retErr error) {
	defer func() {
		if resp != nil {
			log.Debugf("current state -> (%s, %v)", resp.State, retErr)
		}
	}()
	return a.inner.CurrentState()
}

// GetMetrics implements the corresponding method of the MachineAPI interface,
// passing the call to a.inner and logging the request and response
func (a *LoggingAPI) GetMetrics(req *client.GetMetricsRequest) (resp *client.MetricsResponse, retErr error) {
	log.Infof("/api/metrics <- %s", req.Period)
	defer func() {
		if resp == nil {
			log.Infof("/api/metrics %s -> %v", req.Period, retErr)
			return
		}
		log.Infof("/api/metrics %s -> (%v, %v)", req.Period, resp.StateCounts, retErr)
	}()
	return a.inner.GetMetrics(req)
}

// GetEvents implements the corresponding method of the MachineAPI interface,
// passing the call to a.inner and logging the request and response
func (a *LoggingAPI) GetEvents(req *client.GetEventsRequest) (resp []client.StateEvent, retErr error) {
	log.Infof("/api/events <- %#v", req)
	defer func() {
		log.Infof("/api/events %s -> (%d events, %v)", req.Period, len(resp), retErr)
	}()
	return a.inner.GetEvents(req)
}

// GetTimeline implements the corresponding method of the MachineAPI interface,
// passing the call to a.inner and logging the request and response
func (a *LoggingAPI) GetTimeline(req *client.GetMetricsRequest) (resp []client.StateEvent, retErr error) {
	log.Infof("/api/timeline <- %s", req.Period)
	defer func() {
		log.Infof("/api/timeline %s -> (%d events, %v)", req.Period, len(resp), retErr)
	}()
	return a.inner.GetTimeline(req)
}

// GetEventsByDate implements the corresponding method of the MachineAPI
// interface, passing the call to a.inner and logging the request and response
func (a *LoggingAPI) GetEventsByDate(req *client.GetEventsByDateRequest) (resp []client.StateEvent, retErr error) {
	log.Infof("/api/events/date <- %#v", req)
	defer func() {
		log.Infof("/api/events/date %s -> (%d events, %v)", req.Date, len(resp), retErr)
	}()
	return a.inner.GetEventsByDate(req)
}

// ExportEvents implements the corresponding method of the MachineAPI
// interface, passing the call to a.inner and logging the response
func (a *LoggingAPI) ExportEvents() (resp []client.StateEvent, retErr error) {
	log.Infof("/api/export_states")
	defer func() {
		log.Infof("/api/export_states -> (%d events, %v)", len(resp), retErr)
	}()
	return a.inner.ExportEvents()
}

// Clear implements the corresponding method of the MachineAPI interface,
// passing the call to a.inner and logging the response
func (a *LoggingAPI) Clear() (retErr error) {
	log.Infof("/api/clear_data")
	defer func() {
		log.Infof("/api/clear_data -> %#v", retErr)
	}()
	return a.inner.Clear()
}
