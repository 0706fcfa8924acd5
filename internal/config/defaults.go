package config

import (
	"strings"

	"gpvbot/internal/schedule"
)

const (
	DefaultGroup    = "3.2"
	DefaultTimezone = "Europe/Kyiv"
	DefaultDBPath   = "data/gpvbot.db"
	DefaultOpsAddr  = "127.0.0.1:9090"

	// debugKeyHeader is required by the upstream API.
	debugKeyHeader = "X-debug-key"
	debugKeyValue  = "MjEwMDUvMzI2ODMvMTY4"
)

// Normalize fills omitted fields with defaults. It never overrides values
// that are set.
func (c *Config) Normalize() {
	t := &c.Telegram
	t.Token = strings.TrimSpace(t.Token)
	setDefault(&t.PollTimeout, "10s")
	setDefault(&t.HandlerTimeout, "20s")
	if t.HandlerConcurrency <= 0 {
		t.HandlerConcurrency = 4
	}

	l := &c.Logging
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	setDefault(&l.Level, "info")
	if l.File.Enabled {
		setDefault(&l.File.Path, "logs/gpvbot.log")
	}
	setDefault(&l.Telegram.MinLevel, "warn")
	if l.Telegram.RatePerSec <= 0 {
		l.Telegram.RatePerSec = 1
	}

	s := &c.Source
	setDefault(&s.URL, schedule.DefaultURL)
	setDefault(&s.Group, DefaultGroup)
	setDefault(&s.Timeout, "15s")
	setDefault(&s.UserAgent, schedule.DefaultUserAgent)
	if s.Headers == nil {
		s.Headers = map[string]string{debugKeyHeader: debugKeyValue}
	}
	setDefault(&s.CacheTTL, "60s")
	if s.CacheSizeMB <= 0 {
		s.CacheSizeMB = 4
	}

	m := &c.Monitor
	setDefault(&m.Interval, "2m")
	setDefault(&m.FirstDelay, "5s")
	setDefault(&m.Timezone, DefaultTimezone)
	setDefault(&m.FingerprintRetention, "720h")

	n := &c.Notifier
	if n.Workers <= 0 {
		n.Workers = 4
	}
	if n.RatePerSec <= 0 {
		n.RatePerSec = 25
	}
	setDefault(&n.SendTimeout, "10s")

	st := &c.Storage
	st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	setDefault(&st.Driver, "sqlite")
	setDefault(&st.Path, DefaultDBPath)
	setDefault(&st.BusyTimeout, "5s")

	setDefault(&c.Ops.Addr, DefaultOpsAddr)
}

func setDefault(p *string, def string) {
	if strings.TrimSpace(*p) == "" {
		*p = def
	}
}
