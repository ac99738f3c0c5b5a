package machined

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
)

// httpServer implements HTTP API wrappers around the apiServer's methods. It's
// stateless (except for its start time, the push hub and the apiServer it
// owns) but does all parsing, so that any error returned by apiServer that
// isn't a validation error can be an internalServerError
type httpServer struct {
	// Not Owned
	clock Clock // not owned b/c time isn't modified, but is read by /viz and /api/export_states

	// Owned
	apiServer client.MachineAPI
	hub       *pushHub
	startTime time.Time
	opts      Options
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		log.Errorf("could not serialize response: %v", err)
	}
}

// writeErr writes 'err' with the status code matching its type
func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

// queryLimit parses the optional ?limit= parameter (0 if unset)
func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid \"limit\" value: %q", s)
	}
	return limit, nil
}

func (d *httpServer) recordState(w http.ResponseWriter, r *http.Request) {
	// Unmarshal and validate request
	if r.Method != "POST" {
		http.Error(w, "must use POST to access /api/state", http.StatusMethodNotAllowed)
		return
	}
	var req client.RecordStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := fmt.Sprintf("request did not match expected type: %v", err)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	// Process request
	event, err := d.apiServer.RecordState(&req)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.hub.broadcast(client.StatePush{
		State:       string(event.State),
		LastTagID:   event.TagID,
		Description: event.Description,
		Timestamp:   &event.Timestamp,
	})
	writeJSON(w, http.StatusOK, event)
}

func (d *httpServer) getMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /api/metrics", http.StatusMethodNotAllowed)
		return
	}
	result, err := d.apiServer.GetMetrics(&client.GetMetricsRequest{Period: r.PathValue("period")})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *httpServer) getEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /api/events", http.StatusMethodNotAllowed)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := d.apiServer.GetEvents(&client.GetEventsRequest{
		Period: r.PathValue("period"),
		State:  r.URL.Query().Get("state"),
		Limit:  limit,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *httpServer) getTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /api/timeline", http.StatusMethodNotAllowed)
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "today"
	}
	result, err := d.apiServer.GetTimeline(&client.GetMetricsRequest{Period: period})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *httpServer) getEventsByDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /api/events/date", http.StatusMethodNotAllowed)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := d.apiServer.GetEventsByDate(&client.GetEventsByDateRequest{
		Date:  r.PathValue("date"),
		State: r.URL.Query().Get("state"),
		Limit: limit,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *httpServer) clear(w http.ResponseWriter, r *http.Request) {
	// Unmarshal and validate request
	if r.Method != "POST" {
		http.Error(w, "must use POST to access /api/clear_data", http.StatusMethodNotAllowed)
		return
	}

	// Require a request body, so that data isn't cleared by a stray request
	req := make(map[string]interface{})
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := fmt.Sprintf("request did not match expected type: %v", err)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if req["confirm"] != "yes" {
		http.Error(w, "Must send confirmation message to delete all server data", http.StatusBadRequest)
		return
	}

	// Process request
	if err := d.apiServer.Clear(); err != nil {
		writeJSON(w, http.StatusInternalServerError, client.ClearDataResponse{
			Status:  "error",
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, client.ClearDataResponse{
		Status:  "success",
		Message: "All state data cleared successfully",
	})
}

func (d *httpServer) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /api/export_states", http.StatusMethodNotAllowed)
		return
	}
	events, err := d.apiServer.ExportEvents()
	if err != nil {
		writeErr(w, err)
		return
	}
	filename := fmt.Sprintf("state_changes_%s.csv", d.clock.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := WriteEventsCSV(w, events); err != nil {
		log.Errorf("could not write export: %v", err)
	}
}

func (d *httpServer) status(w http.ResponseWriter, r *http.Request) {
	// Unmarshal and validate request
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /status", http.StatusMethodNotAllowed)
		return
	}
	log.Debugf("/status: %v", time.Since(d.startTime).String())
	w.Write([]byte(time.Since(d.startTime).String()))
}

func (d *httpServer) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := pushUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("could not upgrade /ws request: %v", err)
		return
	}
	d.hub.serve(conn)
}

func (d *httpServer) viz(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "must use GET to access /viz", http.StatusMethodNotAllowed)
		return
	}
	op := vizOp{
		Server:  d.apiServer,
		Workday: d.opts.Workday,
		Now:     d.clock.Now(),
		Writer:  w,
	}
	op.Start()
}

// ToHTTPServer wraps 'server' in a golang http.Server that uses 'server' to
// serve the MachineAPI over HTTP on 'hostport'. This function is a helper that
// returns the HTTP server to the caller so that it can be shut down later (for
// tests). Non-testing users will likely prefer ServeOverHTTP
func ToHTTPServer(hostport string, clock Clock, server client.MachineAPI, opts Options, pushInterval time.Duration) *http.Server {
	api := &LoggingAPI{inner: server}
	h := httpServer{
		clock:     clock,
		apiServer: api,
		hub:       newPushHub(api, pushInterval),
		startTime: time.Now(),
		opts:      opts,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", h.recordState)
	mux.HandleFunc("/api/metrics/{period}", h.getMetrics)
	mux.HandleFunc("/api/events/{period}", h.getEvents)
	mux.HandleFunc("/api/events/date/{date}", h.getEventsByDate)
	mux.HandleFunc("/api/timeline", h.getTimeline)
	mux.HandleFunc("/api/clear_data", h.clear)
	mux.HandleFunc("/api/export_states", h.export)
	mux.HandleFunc("/status", h.status)
	mux.HandleFunc("/viz", h.viz)
	mux.HandleFunc("/ws", h.ws)
	mux.Handle("/{$}", http.RedirectHandler("/viz", http.StatusFound))
	s := &http.Server{
		Addr:              hostport,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.RegisterOnShutdown(h.hub.close)
	return s
}

// ServeOverHTTP serves the MachineAPI over HTTP, on the interface/port
// specified by address, until ctx is cancelled
func ServeOverHTTP(ctx context.Context, address string, clock Clock, server client.MachineAPI, opts Options) error {
	// Check for a running server
	c := &client.Client{Address: address}
	if _, err := c.Status(ctx); err == nil {
		_, port, err := net.SplitHostPort(address)
		advice := fmt.Sprintf("(try 'sudo lsof -i :%s' to find the pid)", port)
		if err != nil {
			advice = fmt.Sprintf("(could not split hostport: %v)", err)
		}
		return fmt.Errorf("machine daemon is already running on address %q %s", address, advice)
	}

	// Start listening on 'address'
	s := ToHTTPServer(address, clock, server, opts, DefaultPushInterval)
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not shut down HTTP server: %v", err)
	}
	return nil
}
