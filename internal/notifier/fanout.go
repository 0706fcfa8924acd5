package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	kit "gpvbot/internal/transport"
	logx "gpvbot/pkg/logx"
)

const (
	defaultWorkers     = 4
	defaultRatePerSec  = 25
	defaultSendTimeout = 10 * time.Second
)

type Fanout struct {
	sender kit.Sender
	log    logx.Logger
	obs    Observer

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

type Option func(*Fanout)

func WithObserver(o Observer) Option {
	return func(f *Fanout) { f.obs = o }
}

func New(cfg Config, sender kit.Sender, log logx.Logger, opts ...Option) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fanout{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
	}
	for _, o := range opts {
		o(f)
	}
	f.Apply(cfg)
	return f
}

// Apply swaps pool size, pacing and timeout for subsequent NotifyAll calls.
func (f *Fanout) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// NotifyAll sends msg to every recipient once and waits for all of them.
// Cancelling ctx fails the sends that have not started yet.
func (f *Fanout) NotifyAll(ctx context.Context, msg Message, recipients []int64) Report {
	f.mu.Lock()
	cfg := f.cfg
	lim := f.limiter
	f.mu.Unlock()

	rep := Report{
		ID:         uuid.NewString(),
		Deliveries: make([]Delivery, len(recipients)),
		StartedAt:  time.Now(),
	}
	if len(recipients) == 0 {
		return rep
	}

	workers := min(cfg.Workers, len(recipients))
	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				rep.Deliveries[i] = f.deliver(ctx, lim, cfg.SendTimeout, msg, recipients[i])
			}
		}()
	}
	for i := range recipients {
		idx <- i
	}
	close(idx)
	wg.Wait()

	rep.Took = time.Since(rep.StartedAt)
	failed := rep.Failed()
	fields := []logx.Field{
		logx.String("report", rep.ID),
		logx.Int("total", len(recipients)),
		logx.Int("delivered", rep.Delivered()),
		logx.Int("failed", len(failed)),
		logx.Duration("took", rep.Took),
	}
	if len(failed) > 0 {
		f.log.Warn("fanout finished with failures", fields...)
	} else {
		f.log.Info("fanout finished", fields...)
	}
	return rep
}

func (f *Fanout) deliver(ctx context.Context, lim *rate.Limiter, timeout time.Duration, msg Message, chatID int64) (d Delivery) {
	d.ChatID = chatID
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.Err = fmt.Errorf("panic: %v", r)
			f.log.Error("panic in send", logx.Int64("chat_id", chatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		d.Took = time.Since(start)
		if d.Err != nil {
			f.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(d.Err))
		}
		if f.obs != nil {
			f.obs.ObserveDelivery(d.Err)
		}
	}()

	if err := lim.Wait(ctx); err != nil {
		d.Err = err
		return d
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, d.Err = f.sender.SendText(sctx, kit.ChatTarget{ChatID: chatID}, msg.Text, msg.Options)
	return d
}
