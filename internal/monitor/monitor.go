// Package monitor runs the poll-diff-notify loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"gpvbot/internal/metrics"
	"gpvbot/internal/schedule"
	logx "gpvbot/pkg/logx"
)

const (
	defaultInterval = 2 * time.Minute
	pruneEvery      = 24 * time.Hour
)

type Monitor struct {
	cfg       Config
	fetcher   schedule.Fetcher
	detector  ChangeDetector
	subs      SubscriberLister
	pruner    FingerprintPruner
	notifier  Notifier
	format    Formatter
	cache     CacheRefresher
	forgetter interface{ Forget(before string) }
	metrics   metrics.Interface
	log       logx.Logger
	now       func() time.Time

	mu        sync.Mutex
	c         *cron.Cron
	first     *time.Timer
	parent    context.Context
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	running   atomic.Bool
	last      atomic.Pointer[TickResult]
	lastPrune time.Time
}

type Option func(*Monitor)

func WithCache(c CacheRefresher) Option { return func(m *Monitor) { m.cache = c } }

func WithPruner(p FingerprintPruner) Option { return func(m *Monitor) { m.pruner = p } }

func WithMetrics(mx metrics.Interface) Option { return func(m *Monitor) { m.metrics = mx } }

func WithLogger(log logx.Logger) Option { return func(m *Monitor) { m.log = log } }

// WithClock overrides the clock used to pick tracked dates.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(cfg Config, fetcher schedule.Fetcher, det ChangeDetector, subs SubscriberLister, n Notifier, format Formatter, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DaysAhead < 0 {
		cfg.DaysAhead = 0
	}
	m := &Monitor{
		cfg:      cfg,
		fetcher:  fetcher,
		detector: det,
		subs:     subs,
		notifier: n,
		format:   format,
		metrics:  metrics.New(false),
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if f, ok := det.(interface{ Forget(before string) }); ok {
		m.forgetter = f
	}
	m.log = m.log.With(logx.String("comp", "monitor"))
	return m
}

// Start schedules the first tick after FirstDelay and then one every Interval.
// A tick that is still running when the next one is due causes that one to be
// skipped. Cancelling ctx stops new ticks but not a running one; only Stop
// cancels that, and only once its own deadline passes.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}
	m.parent = ctx
	m.runCtx, m.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	clog := cronLogger{log: m.log}
	c := cron.New(
		cron.WithLocation(m.cfg.Location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.Interval), m.scheduledTick); err != nil {
		m.runCancel()
		return fmt.Errorf("schedule monitor: %w", err)
	}
	m.c = c
	m.first = time.AfterFunc(m.cfg.FirstDelay, m.scheduledTick)
	c.Start()

	m.log.Info("monitor started",
		logx.Duration("interval", m.cfg.Interval),
		logx.Duration("first_delay", m.cfg.FirstDelay),
		logx.String("tz", m.cfg.Location.String()),
		logx.Int("days_ahead", m.cfg.DaysAhead),
	)
	return nil
}

// Stop cancels the schedule and waits for a running tick, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c, first, cancel := m.c, m.first, m.runCancel
	m.c, m.first, m.runCancel = nil, nil, nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	first.Stop()
	cronDone := c.Stop().Done()
	// A running tick is allowed to finish its fan-out; it is only cancelled
	// when ctx expires first.
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastTick returns the most recent finished tick.
func (m *Monitor) LastTick() (TickResult, bool) {
	p := m.last.Load()
	if p == nil {
		return TickResult{}, false
	}
	return *p, true
}

func (m *Monitor) scheduledTick() {
	m.mu.Lock()
	ctx := m.runCtx
	stopped := m.c == nil || m.parent.Err() != nil
	if !stopped {
		m.wg.Add(1)
	}
	m.mu.Unlock()
	if stopped {
		return
	}
	defer m.wg.Done()
	m.Tick(ctx)
}

// Tick runs one poll-diff-notify pass over the tracked dates. A concurrent
// call returns immediately with Skipped set.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("tick skipped, previous still running")
		return TickResult{StartedAt: m.now(), Skipped: true}
	}
	defer m.running.Store(false)

	res := TickResult{StartedAt: m.now()}
	start := time.Now()

	for _, date := range m.trackedDates(res.StartedAt) {
		if ctx.Err() != nil {
			break
		}
		res.Dates = append(res.Dates, m.checkDate(ctx, date))
	}
	res.Pruned = m.maybePrune(ctx, res.StartedAt)

	res.Took = time.Since(start)
	m.metrics.ObserveTick(res.Took)
	m.last.Store(&res)
	m.log.Debug("tick finished", logx.Duration("took", res.Took), logx.Int("dates", len(res.Dates)), logx.Bool("changed", res.Changed()))
	return res
}

func (m *Monitor) trackedDates(now time.Time) []time.Time {
	local := now.In(m.cfg.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.cfg.Location)
	out := make([]time.Time, 0, m.cfg.DaysAhead+1)
	for i := 0; i <= m.cfg.DaysAhead; i++ {
		out = append(out, today.AddDate(0, 0, i))
	}
	return out
}

func (m *Monitor) checkDate(ctx context.Context, date time.Time) DateResult {
	key := date.Format(schedule.DateLayout)
	r := DateResult{Date: key}

	day, err := m.fetcher.Fetch(ctx, date)
	if m.cache != nil {
		m.cache.Remember(date, day, err)
	}
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		m.metrics.IncFetch(metrics.FetchNotFound)
		m.log.Debug("schedule not published", logx.String("date", key))
		r.Outcome = OutcomeNotFound
		return r
	case err != nil:
		m.metrics.IncFetch(metrics.FetchTransient)
		m.log.Warn("schedule fetch failed", logx.String("date", key), logx.Err(err))
		r.Outcome, r.Err = OutcomeTransient, err.Error()
		return r
	}

	r.Slots = len(day.Slots)
	if r.Slots == 0 {
		m.metrics.IncFetch(metrics.FetchEmpty)
		r.Outcome = OutcomeEmpty
		return r
	}
	m.metrics.IncFetch(metrics.FetchOK)

	changed, err := m.detector.HasChanged(ctx, key, day.Slots)
	if err != nil {
		m.log.Warn("change detection failed", logx.String("date", key), logx.Err(err))
		r.Outcome, r.Err = OutcomeStoreError, err.Error()
		return r
	}
	if !changed {
		r.Outcome = OutcomeUnchanged
		return r
	}
	m.metrics.IncChange()
	r.Outcome = OutcomeChanged

	recipients, err := m.subs.ListEnabled(ctx)
	if err != nil {
		// The fingerprint is already stored, so this change will not be
		// announced again.
		m.log.Error("list subscribers failed, change not announced", logx.String("date", key), logx.Err(err))
		r.Err = err.Error()
		return r
	}
	m.metrics.SetSubscribers(len(recipients))

	rep := m.notifier.NotifyAll(ctx, m.format(day), recipients)
	r.Report = rep.ID
	r.Delivered = rep.Delivered()
	r.Failed = len(rep.Failed())
	m.log.Info("schedule change announced",
		logx.String("date", key),
		logx.String("report", rep.ID),
		logx.Int("recipients", len(recipients)),
		logx.Int("failed", r.Failed),
	)
	return r
}

func (m *Monitor) maybePrune(ctx context.Context, now time.Time) int {
	if m.pruner == nil || m.cfg.Retention <= 0 {
		return 0
	}
	if !m.lastPrune.IsZero() && now.Sub(m.lastPrune) < pruneEvery {
		return 0
	}
	m.lastPrune = now

	before := now.In(m.cfg.Location).Add(-m.cfg.Retention).Format(schedule.DateLayout)
	n, err := m.pruner.PruneFingerprints(ctx, before)
	if err != nil {
		m.log.Warn("fingerprint prune failed", logx.Err(err))
		return 0
	}
	if m.forgetter != nil {
		m.forgetter.Forget(before)
	}
	if n > 0 {
		m.log.Info("fingerprints pruned", logx.Int("count", n), logx.String("before", before))
	}
	return n
}

// cronLogger routes robfig/cron's logs through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
