package machined

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/check"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

// testPushInterval is long enough that periodic pushes never interleave with
// the pushes a test is waiting for
const testPushInterval = time.Hour

// ReadBody is a helper function that reads resp.Body into a buffer and returns
// it as a string
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	buf := &bytes.Buffer{}
	check.T(t, check.Nil(buf.ReadFrom(resp.Body)))
	return buf.String()
}

// TestOptions are the Options used by StartTestServer: a 7:00-17:00 work day
// in UTC
var TestOptions = Options{
	Workday:    chrono.Workday{StartHour: 7, EndHour: 17, Location: time.UTC},
	Shift:      8 * time.Hour,
	EventLimit: 1000,
}

// TestServer identifies an in-process machine daemon that uses a testing clock
// to time state changes, rather than the system clock
type TestServer struct {
	*testing.T
	*client.Client
	*TestingClock

	dbFile     string
	api        client.MachineAPI
	httpServer *httptest.Server
}

// StartTestServer brings up an in-process machine daemon, for the tests to
// talk to. Its sqlite DB lives in t.TempDir(), so every test gets a fresh one
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()
	s := &TestServer{
		T:            t,
		TestingClock: &TestingClock{},
		dbFile:       filepath.Join(t.TempDir(), "db"),
	}
	s.start()
	t.Cleanup(s.stop)
	return s
}

func (s *TestServer) start() {
	s.T.Helper()
	api, err := NewServer(s.TestingClock, s.dbFile, TestOptions)
	if err != nil {
		s.T.Fatalf("could not create API Server: %v", err)
	}
	s.api = api
	s.httpServer = httptest.NewUnstartedServer(nil)
	s.httpServer.Config = ToHTTPServer("", s.TestingClock, api, TestOptions, testPushInterval)
	s.httpServer.Start()
	s.Client = &client.Client{Address: s.httpServer.URL}
}

func (s *TestServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Config.Shutdown(ctx) // disconnects push subscribers
	s.httpServer.Close()
	if srv, ok := s.api.(*server); ok {
		srv.db.Close()
	}
}

// Restart stops the MachineAPI server owned by 's', and then starts a new one
// on the same DB. This is useful for tests that validate the daemon's startup
// behavior
func (s *TestServer) Restart() {
	s.stop()
	s.start()
}

// RecordAt is a helper function that sends state changes to the test server.
// Each change is sent 'offsets[i]' minutes after the previous one (logically)
//
// (RecordAt(client.Running, 0, 30) records RUNNING now, and again 30 minutes
// later)
func (s *TestServer) RecordAt(state client.StateLabel, offsets ...int64) {
	s.T.Helper()
	for _, o := range offsets {
		s.TestingClock.Add(time.Duration(o) * time.Minute)
		_, err := s.Client.RecordState(context.Background(), &client.RecordStateRequest{
			State:       state,
			Description: "test " + string(state),
		})
		check.T(s.T, check.Nil(err))
	}
}
