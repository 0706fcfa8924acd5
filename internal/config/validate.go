package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"
)

// Validate checks struct tags, durations and the timezone. cfg should be
// normalized first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	v := validate.Struct(cfg)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %s", v.Errors.Error())
	}

	var errs []error
	for _, f := range []struct {
		path     string
		raw      string
		positive bool
	}{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, true},
		{"telegram.handler_timeout", cfg.Telegram.HandlerTimeout, false},
		{"source.timeout", cfg.Source.Timeout, true},
		{"source.cache_ttl", cfg.Source.CacheTTL, false},
		{"monitor.interval", cfg.Monitor.Interval, true},
		{"monitor.first_delay", cfg.Monitor.FirstDelay, false},
		{"monitor.fingerprint_retention", cfg.Monitor.FingerprintRetention, false},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout, true},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, false},
	} {
		d, err := ParseDurationField(f.path, f.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f.positive && d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be > 0", f.path))
		}
	}
	if iv := dur(cfg.Monitor.Interval); iv > 0 && iv < 10*time.Second {
		errs = append(errs, errors.New("monitor.interval: must be at least 10s"))
	}
	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("monitor.timezone: %w", err))
		}
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id: required when enabled"))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when enabled"))
	}
	return errors.Join(errs...)
}
