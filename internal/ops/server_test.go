package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpvbot/internal/metrics"
	"gpvbot/internal/monitor"
	"gpvbot/internal/storage"
)

type fakeTicks struct {
	tick monitor.TickResult
	ok   bool
}

func (f fakeTicks) LastTick() (monitor.TickResult, bool) { return f.tick, f.ok }

type fakeStats struct {
	st  storage.Stats
	err error
}

func (f fakeStats) Stats(context.Context) (storage.Stats, error) { return f.st, f.err }

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func get(t *testing.T, h http.Handler, path string) (int, Health) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	var body Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func newServer(ticks TickSource, stats StatsSource) *Server {
	return New(Config{}, Deps{
		Ticks: ticks,
		Stats: stats,
		Now:   func() time.Time { return now },
	})
}

func TestHealthzOK(t *testing.T) {
	tick := monitor.TickResult{
		StartedAt: now.Add(-time.Minute),
		Dates:     []monitor.DateResult{{Date: "2026-10-15", Outcome: monitor.OutcomeUnchanged}},
	}
	s := newServer(fakeTicks{tick: tick, ok: true}, fakeStats{st: storage.Stats{Subscribers: 3, Enabled: 2}})

	code, h := get(t, s.handler(Config{StaleAfter: 10 * time.Minute}), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusOK, h.Status)
	require.NotNil(t, h.LastTick)
	assert.Equal(t, "2026-10-15", h.LastTick.Dates[0].Date)
	require.NotNil(t, h.Storage)
	assert.Equal(t, 2, h.Storage.Enabled)
}

func TestHealthzStartingAndStale(t *testing.T) {
	s := newServer(fakeTicks{}, nil)
	code, h := get(t, s.handler(Config{StaleAfter: time.Minute}), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusStarting, h.Status)

	s = newServer(fakeTicks{tick: monitor.TickResult{StartedAt: now.Add(-time.Hour)}, ok: true}, nil)
	code, h = get(t, s.handler(Config{StaleAfter: time.Minute}), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusStale, h.Status)
}

func TestHealthzStoreError(t *testing.T) {
	s := newServer(nil, fakeStats{err: errors.New("disk gone")})
	code, h := get(t, s.handler(Config{}), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "disk gone", h.Error)
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	s := newServer(nil, nil)

	rec := httptest.NewRecorder()
	s.handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.handler(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplyStartStop(t *testing.T) {
	mx := metrics.New(true)
	mx.IncChange()
	s := New(Config{}, Deps{Metrics: mx.Handler()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gpvbot_schedule_changes_total 1")

	require.NoError(t, s.Apply(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
}
