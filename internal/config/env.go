package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Environment variables that override file values.
const (
	EnvToken    = "BOT_TOKEN"
	EnvDBPath   = "DB_PATH"
	EnvGroup    = "GPV_GROUP"
	EnvLogLevel = "LOG_LEVEL"
)

// ApplyEnv overlays non-empty environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	_ = v.BindEnv("telegram.token", EnvToken)
	_ = v.BindEnv("storage.path", EnvDBPath)
	_ = v.BindEnv("source.group", EnvGroup)
	_ = v.BindEnv("logging.level", EnvLogLevel)

	override := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	override("telegram.token", &cfg.Telegram.Token)
	override("storage.path", &cfg.Storage.Path)
	override("source.group", &cfg.Source.Group)
	override("logging.level", &cfg.Logging.Level)
}
