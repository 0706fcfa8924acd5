package monitor

import (
	"context"
	"time"

	"gpvbot/internal/notifier"
	"gpvbot/internal/schedule"
)

type Config struct {
	Interval   time.Duration
	FirstDelay time.Duration
	Location   *time.Location
	// DaysAhead is how many days after today are tracked; 1 means today and tomorrow.
	DaysAhead int
	// Retention is how long fingerprints of past dates are kept. Zero disables pruning.
	Retention time.Duration
}

// ChangeDetector is satisfied by *detector.Detector.
type ChangeDetector interface {
	HasChanged(ctx context.Context, date string, slots map[string]string) (bool, error)
}

type SubscriberLister interface {
	ListEnabled(ctx context.Context) ([]int64, error)
}

type FingerprintPruner interface {
	PruneFingerprints(ctx context.Context, before string) (int, error)
}

type Notifier interface {
	NotifyAll(ctx context.Context, msg notifier.Message, recipients []int64) notifier.Report
}

// CacheRefresher receives every fetch outcome so chat queries see what the
// monitor saw.
type CacheRefresher interface {
	Remember(date time.Time, day schedule.Day, err error)
}

// Formatter renders the change notification for a day.
type Formatter func(day schedule.Day) notifier.Message

// Outcome of one tracked date within a tick.
type Outcome string

const (
	OutcomeNotFound   Outcome = "not_found"
	OutcomeTransient  Outcome = "transient"
	OutcomeEmpty      Outcome = "empty"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeChanged    Outcome = "changed"
	OutcomeStoreError Outcome = "store_error"
)

type DateResult struct {
	Date      string  `json:"date"`
	Outcome   Outcome `json:"outcome"`
	Slots     int     `json:"slots,omitempty"`
	Report    string  `json:"report,omitempty"`
	Delivered int     `json:"delivered,omitempty"`
	Failed    int     `json:"failed,omitempty"`
	Err       string  `json:"error,omitempty"`
}

type TickResult struct {
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	Dates     []DateResult  `json:"dates"`
	Pruned    int           `json:"pruned,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
}

// Changed reports whether any date produced a notification.
func (r TickResult) Changed() bool {
	for _, d := range r.Dates {
		if d.Outcome == OutcomeChanged {
			return true
		}
	}
	return false
}
