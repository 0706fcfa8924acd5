package config

import (
	"strings"
	"time"

	logx "gpvbot/pkg/logx"
)

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "2m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	Ops      OpsConfig      `json:"ops"`
}

type TelegramConfig struct {
	Token              string `json:"token" validate:"required"`
	PollTimeout        string `json:"poll_timeout,omitempty"`
	HandlerTimeout     string `json:"handler_timeout,omitempty"`
	HandlerConcurrency int    `json:"handler_concurrency,omitempty" validate:"min:0|max:64"`
}

type LoggingConfig struct {
	Level    string            `json:"level" validate:"in:debug,info,warn,warning,error"`
	Console  bool              `json:"console"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LogTelegramConfig mirrors log records at or above MinLevel into a chat.
type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty" validate:"in:debug,info,warn,warning,error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"min:0"`
}

type SourceConfig struct {
	URL         string            `json:"url" validate:"required|url"`
	Group       string            `json:"group" validate:"required"`
	Timeout     string            `json:"timeout,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	CacheTTL    string            `json:"cache_ttl,omitempty"`
	CacheSizeMB int               `json:"cache_size_mb,omitempty" validate:"min:0|max:512"`
}

type MonitorConfig struct {
	Interval   string `json:"interval,omitempty"`
	FirstDelay string `json:"first_delay,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	// DaysAhead counts days after today; 1 tracks today and tomorrow.
	DaysAhead            int    `json:"days_ahead" validate:"min:0|max:7"`
	FingerprintRetention string `json:"fingerprint_retention,omitempty"`
}

type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty" validate:"min:0|max:64"`
	RatePerSec  int    `json:"rate_per_sec,omitempty" validate:"min:0|max:30"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"in:sqlite,sqlite3,file"`
	Path        string `json:"path" validate:"required"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the local HTTP endpoint (/healthz, /metrics, /debug/pprof).
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// dur parses a field that already passed Validate.
func dur(raw string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(raw))
	return d
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration    { return dur(t.PollTimeout) }
func (t TelegramConfig) HandlerTimeoutDuration() time.Duration { return dur(t.HandlerTimeout) }

func (s SourceConfig) TimeoutDuration() time.Duration  { return dur(s.Timeout) }
func (s SourceConfig) CacheTTLDuration() time.Duration { return dur(s.CacheTTL) }

func (m MonitorConfig) IntervalDuration() time.Duration   { return dur(m.Interval) }
func (m MonitorConfig) FirstDelayDuration() time.Duration { return dur(m.FirstDelay) }
func (m MonitorConfig) RetentionDuration() time.Duration  { return dur(m.FingerprintRetention) }

// Location returns the configured zone, or Local when it cannot be loaded.
func (m MonitorConfig) Location() *time.Location {
	tz := strings.TrimSpace(m.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func (n NotifierConfig) SendTimeoutDuration() time.Duration { return dur(n.SendTimeout) }

func (s StorageConfig) BusyTimeoutDuration() time.Duration { return dur(s.BusyTimeout) }

// Logx converts the logging section for pkg/logx.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
