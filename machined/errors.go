package machined

import (
	"errors"
	"net/http"

	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

// InvalidStateErr is returned for a state label that isn't RUNNING, IDLE or
// ERROR (or "all", where a filter is accepted)
type InvalidStateErr struct {
	State string
}

func (e *InvalidStateErr) Error() string {
	return "invalid state " + e.State + " (must be one of RUNNING, IDLE, ERROR)"
}

// InvalidDateErr is returned by GetEventsByDate for a date not in YYYY-MM-DD
// form
type InvalidDateErr struct {
	Date string
}

func (e *InvalidDateErr) Error() string {
	return "invalid date " + e.Date + " (must be YYYY-MM-DD)"
}

// statusFor maps an error returned by the API server to an HTTP status code:
// errors caused by bad requests become 400, anything else is a 500
func statusFor(err error) int {
	var (
		stateErr *InvalidStateErr
		dateErr  *InvalidDateErr
	)
	switch {
	case errors.As(err, &stateErr), errors.As(err, &dateErr), errors.Is(err, chrono.ErrInvalidPeriod):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
