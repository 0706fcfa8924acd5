// Package metrics exposes the bot's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results.
const (
	FetchOK        = "ok"
	FetchNotFound  = "not_found"
	FetchTransient = "transient"
	FetchEmpty     = "empty"
)

type Interface interface {
	ObserveTick(d time.Duration)
	IncFetch(result string)
	IncChange()
	ObserveDelivery(err error)
	SetSubscribers(enabled int)
	Handler() http.Handler
}

type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	fetches      *prometheus.CounterVec
	changes      prometheus.Counter
	deliveries   *prometheus.CounterVec
	subscribers  prometheus.Gauge
}

// New registers collectors on a private registry. When enabled is false a
// no-op implementation is returned.
func New(enabled bool) Interface {
	if !enabled {
		return noopMetrics{}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "gpvbot_monitor_ticks_total",
			Help: "Total number of monitor ticks",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpvbot_monitor_tick_duration_seconds",
			Help:    "Monitor tick duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gpvbot_schedule_fetches_total",
			Help: "Schedule fetches by result",
		}, []string{"result"}),
		changes: f.NewCounter(prometheus.CounterOpts{
			Name: "gpvbot_schedule_changes_total",
			Help: "Schedule changes detected",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gpvbot_deliveries_total",
			Help: "Notification sends by result",
		}, []string{"result"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "gpvbot_subscribers_enabled",
			Help: "Subscribers with notifications enabled",
		}),
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) IncFetch(result string) { m.fetches.WithLabelValues(result).Inc() }

func (m *Metrics) IncChange() { m.changes.Inc() }

func (m *Metrics) ObserveDelivery(err error) {
	if err != nil {
		m.deliveries.WithLabelValues("failed").Inc()
		return
	}
	m.deliveries.WithLabelValues("ok").Inc()
}

func (m *Metrics) SetSubscribers(enabled int) { m.subscribers.Set(float64(enabled)) }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(_ time.Duration) {}
func (noopMetrics) IncFetch(_ string)           {}
func (noopMetrics) IncChange()                  {}
func (noopMetrics) ObserveDelivery(_ error)     {}
func (noopMetrics) SetSubscribers(_ int)        {}
func (noopMetrics) Handler() http.Handler       { return http.NotFoundHandler() }
