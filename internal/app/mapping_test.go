package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpvbot/internal/config"
)

func normalized(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Normalize()
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestMappersCarryDefaults(t *testing.T) {
	cfg := normalized(t)

	mc := monitorConfig(cfg)
	assert.Equal(t, 2*time.Minute, mc.Interval)
	assert.Equal(t, 5*time.Second, mc.FirstDelay)
	assert.Equal(t, "Europe/Kyiv", mc.Location.String())
	assert.Equal(t, 30*24*time.Hour, mc.Retention)

	sc := sourceConfig(cfg)
	assert.Equal(t, config.DefaultGroup, sc.Group)
	assert.Equal(t, 15*time.Second, sc.Timeout)
	assert.NotEmpty(t, sc.Headers)

	nc := notifierConfig(cfg)
	assert.Equal(t, 4, nc.Workers)
	assert.Equal(t, 10*time.Second, nc.SendTimeout)

	st := storageConfig(cfg)
	assert.Equal(t, "sqlite", st.Driver)
	assert.Equal(t, 5*time.Second, st.BusyTimeout)

	oc := opsConfig(cfg)
	assert.Equal(t, 5*time.Second+6*time.Minute, oc.StaleAfter)
}

func TestSourceConfigCopiesHeaders(t *testing.T) {
	cfg := normalized(t)
	sc := sourceConfig(cfg)
	sc.Headers["X-Extra"] = "1"
	assert.NotContains(t, cfg.Source.Headers, "X-Extra")
}

func TestRestartSections(t *testing.T) {
	prev := normalized(t)
	next := normalized(t)
	assert.Empty(t, restartSections(prev, next))

	next.Logging.Level = "debug"
	next.Notifier.Workers = 8
	next.Ops.Enabled = true
	assert.Empty(t, restartSections(prev, next))

	next.Monitor.Interval = "5m"
	next.Source.Headers = map[string]string{"X-Other": "1"}
	next.Storage.Path = "other.db"
	assert.Equal(t, []string{"storage", "monitor", "source"}, restartSections(prev, next))

	assert.Nil(t, restartSections(nil, next))
}
