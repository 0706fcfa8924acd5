// Package bot answers chat messages: subscription management and on-demand
// schedule queries.
package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gpvbot/internal/monitor"
	rtsup "gpvbot/internal/runtime/supervisor"
	"gpvbot/internal/schedule"
	"gpvbot/internal/storage"
	kit "gpvbot/internal/transport"
	logx "gpvbot/pkg/logx"
)

type Config struct {
	HandlerTimeout time.Duration
	// Concurrency bounds how many updates are handled at once.
	Concurrency int
}

// StatusSource reports the last monitor tick.
type StatusSource interface {
	LastTick() (monitor.TickResult, bool)
}

type Deps struct {
	Sender      kit.Sender
	Subscribers storage.SubscriberStore
	Schedule    schedule.Fetcher
	Status      StatusSource
	Group       string
	Location    *time.Location
	Log         logx.Logger
	Now         func() time.Time
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string
}

type Bot struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	routes   map[string]HandlerFunc
	fallback HandlerFunc
}

func New(cfg Config, d Deps) *Bot {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	b := &Bot{cfg: cfg, deps: d, log: d.Log.With(logx.String("comp", "bot"))}

	mw := []Middleware{MWPanicRecover(b.log), MWRequestLog(b.log), MWTimeout(cfg.HandlerTimeout)}
	wrap := func(h HandlerFunc) HandlerFunc { return Chain(h, mw...) }

	today := wrap(b.handleDay(0))
	tomorrow := wrap(b.handleDay(1))
	status := wrap(b.handleStatus)
	help := wrap(b.handleHelp)
	disable := wrap(b.handleToggle(false))
	enable := wrap(b.handleToggle(true))

	b.routes = map[string]HandlerFunc{
		"/start":    wrap(b.handleStart),
		"/today":    today,
		BtnToday:    today,
		"/tomorrow": tomorrow,
		BtnTomorrow: tomorrow,
		"/status":   status,
		BtnStatus:   status,
		"/help":     help,
		BtnHelp:     help,
		"/stop":     disable,
		BtnDisable:  disable,
		"/on":       enable,
		BtnEnable:   enable,
	}
	b.fallback = wrap(b.handleUnknown)
	return b
}

// Commands is the slash-command menu.
func (b *Bot) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "today", Description: "Графік на сьогодні"},
		{Command: "tomorrow", Description: "Графік на завтра"},
		{Command: "status", Description: "Мій статус"},
		{Command: "stop", Description: "Вимкнути сповіщення"},
		{Command: "on", Description: "Увімкнути сповіщення"},
		{Command: "help", Description: "Допомога"},
	}
}

// Handle routes one incoming message.
func (b *Bot) Handle(ctx context.Context, msg *kit.Message) error {
	if msg == nil {
		return nil
	}
	cmd := commandOf(msg.Text)
	req := &Request{Message: msg, Chat: kit.ChatTarget{ChatID: msg.ChatID}, Command: cmd}
	if h, ok := b.routes[cmd]; ok {
		return h(ctx, req)
	}
	return b.fallback(ctx, req)
}

// DispatchLoop handles updates on a bounded pool until ctx is done or
// updates is closed.
func (b *Bot) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	b.log.Info("dispatcher started", logx.Int("workers", b.cfg.Concurrency))

	for i := 0; i < b.cfg.Concurrency; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-updates:
					if !ok {
						return nil
					}
					if up.Kind != kit.UpdateMessage || up.Message == nil {
						continue
					}
					b.handleSafe(c, idx, up.Message)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	// Returns when ctx is done or every worker saw updates closed.
	_ = sup.Wait(ctx)
	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = sup.Wait(wctx)
	b.log.Info("dispatcher stopped")
	return nil
}

func (b *Bot) handleSafe(ctx context.Context, worker int, msg *kit.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in dispatch", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	_ = b.Handle(ctx, msg)
}

// commandOf normalizes "/Today@gpv_bot extra" to "/today"; other text is
// returned trimmed.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	cmd := strings.Fields(text)[0]
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
