package notifier

import (
	"time"

	kit "gpvbot/internal/transport"
)

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
}

// Message is what gets sent to every recipient.
type Message struct {
	Text    string
	Options *kit.SendOptions
}

// Delivery is the outcome of one send.
type Delivery struct {
	ChatID int64
	Err    error
	Took   time.Duration
}

// Report lists one Delivery per recipient, in recipient order.
type Report struct {
	ID         string
	Deliveries []Delivery
	StartedAt  time.Time
	Took       time.Duration
}

func (r Report) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

func (r Report) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Observer receives per-send outcomes, e.g. for metrics.
type Observer interface {
	ObserveDelivery(err error)
}
