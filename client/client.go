package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// String renders a StateEvent as a string (left out of api.go so that that
// file is only types)
func (e StateEvent) String() string {
	duration := time.Duration(e.Duration * float64(time.Second))
	return fmt.Sprintf("[%s starting %s (%s)]", e.State, e.Timestamp.Format(time.RFC3339), duration)
}

// HTTPError represents an error returned by an HTTP service
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("(%d/%s) %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client is a an HTTP client wrapper, with convenience functions for Get and
// Post requests sent to paths under a single destination. It also wraps non-2xx
// http responses in an error.
type Client struct {
	Address string

	// HTTP is the client used for requests. If nil, a client with a 10s
	// timeout is used
	HTTP *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return defaultHTTPClient
}

// url converts the API endpoint 'address' into a URL that the golang http
// library can use. Address may or may not include a scheme
func (c *Client) url(path string) string {
	base := strings.TrimSuffix(c.Address, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}

func httpRespToError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msgBytes, err := io.ReadAll(resp.Body)
		msg := string(bytes.TrimSpace(msgBytes))
		if err != nil {
			msg = fmt.Sprintf("could not read response body: %v", err)
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
	return resp, err
}

// Get is a convenience function for Get requests, that sends all such
// requests to the client's URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	return httpRespToError(c.httpClient().Do(req))
}

// Post is a convenience function for Post requests, that sends all such
// requests to the client's URL.
func (c *Client) Post(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return httpRespToError(c.httpClient().Do(req))
}

// getJSON GETs 'path' and decodes the response body into 'out'
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response from %s: %v", path, err)
	}
	return nil
}

// Status returns how long the daemon has been up
func (c *Client) Status(ctx context.Context) (time.Duration, error) {
	resp, err := c.Get(ctx, "/status")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, err
	}
	dur, err := time.ParseDuration(buf.String())
	if err != nil {
		return dur, fmt.Errorf("could not parse duration from /status: %v", err)
	}
	return dur, nil
}

// RecordState POSTs a state change to /api/state
func (c *Client) RecordState(ctx context.Context, req *RecordStateRequest) (*StateEvent, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}
	resp, err := c.Post(ctx, "/api/state", &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var event StateEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("error decoding response: %v", err)
	}
	return &event, nil
}

// GetMetrics wraps the /api/metrics/{period} endpoint
func (c *Client) GetMetrics(ctx context.Context, period string) (*MetricsResponse, error) {
	var metrics MetricsResponse
	if err := c.getJSON(ctx, "/api/metrics/"+url.PathEscape(period), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// GetEvents wraps the /api/events/{period} endpoint (newest first)
func (c *Client) GetEvents(ctx context.Context, period, state string, limit int) ([]StateEvent, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var events []StateEvent
	path := "/api/events/" + url.PathEscape(period) + "?" + q.Encode()
	if err := c.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetTimeline wraps the /api/timeline endpoint (oldest first)
func (c *Client) GetTimeline(ctx context.Context, period string) ([]StateEvent, error) {
	var events []StateEvent
	if err := c.getJSON(ctx, "/api/timeline?period="+url.QueryEscape(period), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventsByDate wraps the /api/events/date/{YYYY-MM-DD} endpoint
func (c *Client) GetEventsByDate(ctx context.Context, date time.Time) ([]StateEvent, error) {
	var events []StateEvent
	if err := c.getJSON(ctx, "/api/events/date/"+date.Format("2006-01-02"), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ClearData asks the daemon to delete all recorded state changes. A failure
// reported by the daemon is returned as an error carrying its message
func (c *Client) ClearData(ctx context.Context) error {
	resp, err := c.Post(ctx, "/api/clear_data", strings.NewReader(`{"confirm":"yes"}`))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var result ClearDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	if result.Status != "success" {
		return fmt.Errorf("could not clear data: %s", result.Message)
	}
	return nil
}

// ExportStates copies the daemon's CSV export into 'w'
func (c *Client) ExportStates(ctx context.Context, w io.Writer) error {
	resp, err := c.Get(ctx, "/api/export_states")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("could not read export: %v", err)
	}
	return nil
}
