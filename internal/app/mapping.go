package app

import (
	"gpvbot/internal/bot"
	"gpvbot/internal/config"
	"gpvbot/internal/monitor"
	"gpvbot/internal/notifier"
	"gpvbot/internal/ops"
	"gpvbot/internal/schedule"
	"gpvbot/internal/storage"
	telegram "gpvbot/internal/transport/telegram/adapter"
)

// The mappers below assume cfg passed config.Validate.

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

func telegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}
}

func sourceConfig(cfg *config.Config) schedule.Config {
	headers := make(map[string]string, len(cfg.Source.Headers))
	for k, v := range cfg.Source.Headers {
		headers[k] = v
	}
	return schedule.Config{
		URL:       cfg.Source.URL,
		Group:     cfg.Source.Group,
		Timeout:   cfg.Source.TimeoutDuration(),
		UserAgent: cfg.Source.UserAgent,
		Headers:   headers,
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Interval:   cfg.Monitor.IntervalDuration(),
		FirstDelay: cfg.Monitor.FirstDelayDuration(),
		Location:   cfg.Monitor.Location(),
		DaysAhead:  cfg.Monitor.DaysAhead,
		Retention:  cfg.Monitor.RetentionDuration(),
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Workers:     cfg.Notifier.Workers,
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: cfg.Notifier.SendTimeoutDuration(),
	}
}

func botConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		HandlerTimeout: cfg.Telegram.HandlerTimeoutDuration(),
		Concurrency:    cfg.Telegram.HandlerConcurrency,
	}
}

// opsConfig marks health stale after three missed ticks.
func opsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:    cfg.Ops.Enabled,
		Addr:       cfg.Ops.Addr,
		Pprof:      cfg.Ops.Pprof,
		StaleAfter: cfg.Monitor.FirstDelayDuration() + 3*cfg.Monitor.IntervalDuration(),
	}
}

// restartSections lists changed sections that only take effect after a restart.
func restartSections(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Telegram.Token != next.Telegram.Token ||
		prev.Telegram.PollTimeout != next.Telegram.PollTimeout ||
		prev.Telegram.HandlerTimeout != next.Telegram.HandlerTimeout ||
		prev.Telegram.HandlerConcurrency != next.Telegram.HandlerConcurrency {
		out = append(out, "telegram")
	}
	if prev.Storage != next.Storage {
		out = append(out, "storage")
	}
	if prev.Monitor != next.Monitor {
		out = append(out, "monitor")
	}
	ps, ns := prev.Source, next.Source
	if ps.URL != ns.URL || ps.Group != ns.Group || ps.Timeout != ns.Timeout ||
		ps.UserAgent != ns.UserAgent || ps.CacheTTL != ns.CacheTTL ||
		ps.CacheSizeMB != ns.CacheSizeMB || !equalHeaders(ps.Headers, ns.Headers) {
		out = append(out, "source")
	}
	return out
}

func equalHeaders(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
