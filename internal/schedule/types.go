package schedule

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is how dates are sent upstream and used as storage keys.
const DateLayout = "2006-01-02"

// ErrNotFound means the upstream has no record for the requested date yet.
var ErrNotFound = errors.New("schedule not found")

// Day is one calendar day of a group's schedule.
type Day struct {
	Date  time.Time
	Group string
	// Slots maps a time label ("14:00-14:30") to the raw status code.
	// A record that exists without data for the group has empty Slots.
	Slots map[string]string
}

// Key returns the date as YYYY-MM-DD.
func (d Day) Key() string { return d.Date.Format(DateLayout) }

// Labels returns the slot labels in display order.
func (d Day) Labels() []string { return sortedKeys(d.Slots) }

type Status string

const (
	StatusNoPower        Status = "no-power"
	StatusPossibleOutage Status = "possible-outage"
	StatusPowerAvailable Status = "power-available"
	StatusUnknown        Status = "unknown"
)

// StatusOf maps a raw upstream code to its status.
func StatusOf(raw string) Status {
	switch raw {
	case "1":
		return StatusNoPower
	case "10":
		return StatusPossibleOutage
	case "0":
		return StatusPowerAvailable
	default:
		return StatusUnknown
	}
}

// TransientError is a failed fetch that may succeed on a later attempt:
// network failure, timeout, non-2xx status or an undecodable body.
type TransientError struct {
	Date string
	Op   string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("schedule %s: %s: %v", e.Date, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ParseError is a response body that could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse schedule: " + e.Reason
	}
	return fmt.Sprintf("parse schedule: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
