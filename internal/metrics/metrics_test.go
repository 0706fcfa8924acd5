package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	m := New(true)
	m.ObserveTick(150 * time.Millisecond)
	m.IncFetch(FetchOK)
	m.IncFetch(FetchTransient)
	m.IncChange()
	m.ObserveDelivery(nil)
	m.ObserveDelivery(errors.New("blocked"))
	m.SetSubscribers(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	assert.Contains(t, out, "gpvbot_monitor_ticks_total 1")
	assert.Contains(t, out, `gpvbot_schedule_fetches_total{result="transient"} 1`)
	assert.Contains(t, out, "gpvbot_schedule_changes_total 1")
	assert.Contains(t, out, `gpvbot_deliveries_total{result="failed"} 1`)
	assert.Contains(t, out, "gpvbot_subscribers_enabled 7")
}

func TestNoopMetrics(t *testing.T) {
	m := New(false)
	m.ObserveTick(time.Second)
	m.IncFetch(FetchOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(true)
		New(true)
	})
}
