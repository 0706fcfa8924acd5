// Package app wires configuration, storage, the schedule monitor and the
// Telegram bot into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gpvbot/internal/bot"
	"gpvbot/internal/config"
	"gpvbot/internal/detector"
	"gpvbot/internal/metrics"
	"gpvbot/internal/monitor"
	"gpvbot/internal/notifier"
	"gpvbot/internal/ops"
	rtsup "gpvbot/internal/runtime/supervisor"
	"gpvbot/internal/schedule"
	"gpvbot/internal/storage"
	kit "gpvbot/internal/transport"
	telegram "gpvbot/internal/transport/telegram/adapter"
	logx "gpvbot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	cache   *schedule.CachedClient
	fanout  *notifier.Fanout
	monitor *monitor.Monitor
	bot     *bot.Bot
	ops     *ops.Server

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// The Telegram sink gets its sender once the adapter exists.
	logSvc, log := logx.New(cfg.Logging.Logx(), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ad, err := telegram.New(ctx, telegramConfig(cfg), log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.AttachSender(ad)

	mx := metrics.New(cfg.Ops.Enabled)

	client := schedule.NewClient(sourceConfig(cfg),
		schedule.WithLogger(log.With(logx.String("comp", "schedule"))),
	)
	cache := schedule.NewCachedClient(client, cfg.Source.CacheTTLDuration(), cfg.Source.CacheSizeMB)

	det := detector.New(store, log.With(logx.String("comp", "detector")))
	fanout := notifier.New(notifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")),
		notifier.WithObserver(mx),
	)

	mon := monitor.New(monitorConfig(cfg), client, det, store, fanout, bot.UpdateMessage,
		monitor.WithCache(cache),
		monitor.WithPruner(store),
		monitor.WithMetrics(mx),
		monitor.WithLogger(log),
	)

	b := bot.New(botConfig(cfg), bot.Deps{
		Sender:      ad,
		Subscribers: store,
		Schedule:    cache,
		Status:      mon,
		Group:       cfg.Source.Group,
		Location:    cfg.Monitor.Location(),
		Log:         log.With(logx.String("comp", "bot")),
	})

	opsSrv := ops.New(opsConfig(cfg), ops.Deps{
		Ticks:   mon,
		Stats:   store,
		Metrics: mx.Handler(),
		Log:     log.With(logx.String("comp", "ops")),
	})

	log.Info("configured",
		logx.String("bot", ad.Username()),
		logx.String("group", cfg.Source.Group),
		logx.String("storage", cfg.Storage.Driver),
		logx.String("interval", cfg.Monitor.Interval),
	)

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		store:   store,
		adapter: ad,
		cache:   cache,
		fanout:  fanout,
		monitor: mon,
		bot:     b,
		ops:     opsSrv,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(run, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.bot.Commands()); err != nil {
		a.log.Warn("set command menu failed", logx.Err(err))
	}
	cancel()

	if err := a.ops.Apply(run, opsConfig(a.cfgm.Get())); err != nil {
		// ops is optional; the bot keeps running without it
		a.log.Error("ops server failed to start", logx.Err(err))
	}

	if err := a.monitor.Start(run); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The monitor finishes an in-flight fan-out before the sender goes away.
	step("monitor", 15*time.Second, a.monitor.Stop)
	a.sup.Cancel()
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// reloadLoop applies hot-reloadable sections and warns about the rest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					next = newer
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.logs.Apply(next.Logging.Logx())
	a.fanout.Apply(notifierConfig(next))
	if err := a.ops.Apply(ctx, opsConfig(next)); err != nil {
		a.log.Warn("ops reconfigure failed", logx.Err(err))
	}
	if sections := restartSections(prev, next); len(sections) > 0 {
		a.log.Warn("config changed; restart required for these sections",
			logx.String("sections", strings.Join(sections, ",")),
		)
	}
	a.log.Info("config reloaded")
}
