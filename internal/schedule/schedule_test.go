package schedule

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `{
  "hydra:member": [
    {"dateGraph": "2024-05-01T00:00:00+00:00", "dataJson": {"3.2": {"times": {"00:00": "0", "00:30": 1}}}},
    {"dateGraph": "2024-05-02T00:00:00+00:00", "dataJson": {"GPV3.2": {"times": {"10:00": "10", "10:30": "7"}}}},
    {"dateGraph": "2024-05-03", "dataJson": {"1.1": {"times": {"10:00": "1"}}}}
  ]
}`

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusNoPower, StatusOf("1"))
	assert.Equal(t, StatusPossibleOutage, StatusOf("10"))
	assert.Equal(t, StatusPowerAvailable, StatusOf("0"))
	assert.Equal(t, StatusUnknown, StatusOf("7"))
	assert.Equal(t, StatusUnknown, StatusOf(""))
}

func TestParseResponse(t *testing.T) {
	t.Run("exact group, mixed code types", func(t *testing.T) {
		d, err := ParseResponse([]byte(sampleBody), day("2024-05-01"), "3.2")
		require.NoError(t, err)
		assert.Equal(t, "2024-05-01", d.Key())
		assert.Equal(t, map[string]string{"00:00": "0", "00:30": "1"}, d.Slots)
		assert.Equal(t, []string{"00:00", "00:30"}, d.Labels())
	})

	t.Run("substring group fallback keeps unknown codes", func(t *testing.T) {
		d, err := ParseResponse([]byte(sampleBody), day("2024-05-02"), "3.2")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"10:00": "10", "10:30": "7"}, d.Slots)
	})

	t.Run("record without group data", func(t *testing.T) {
		d, err := ParseResponse([]byte(sampleBody), day("2024-05-03"), "3.2")
		require.NoError(t, err)
		assert.Empty(t, d.Slots)
	})

	t.Run("no record for date", func(t *testing.T) {
		_, err := ParseResponse([]byte(sampleBody), day("2024-05-04"), "3.2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty member list", func(t *testing.T) {
		_, err := ParseResponse([]byte(`{"hydra:member": []}`), day("2024-05-01"), "3.2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := ParseResponse([]byte(`{"hydra:member": [`), day("2024-05-01"), "3.2")
		var pe *ParseError
		assert.ErrorAs(t, err, &pe)
	})
}

func TestClientFetch(t *testing.T) {
	var gotQuery, gotAccept, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAccept = r.Header.Get("Accept")
		gotKey = r.Header.Get("X-debug-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Group: "3.2", Headers: map[string]string{"X-debug-key": "k"}},
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return time.UnixMilli(1714521600000) }),
	)
	d, err := c.Fetch(context.Background(), day("2024-05-01"))
	require.NoError(t, err)
	assert.Len(t, d.Slots, 2)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "k", gotKey)
	assert.Contains(t, gotQuery, "after=2024-05-01T00%3A00%3A00Z")
	assert.Contains(t, gotQuery, "before=2024-05-01T23%3A59%3A59Z")
	assert.Contains(t, gotQuery, "group%5B%5D=3.2")
	assert.Contains(t, gotQuery, "time=1714521600000")
}

func TestClientFetchErrors(t *testing.T) {
	t.Run("non-2xx is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewClient(Config{URL: srv.URL, Group: "3.2"}).Fetch(context.Background(), day("2024-05-01"))
		assert.True(t, IsTransient(err))
	})

	t.Run("malformed body is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		_, err := NewClient(Config{URL: srv.URL, Group: "3.2"}).Fetch(context.Background(), day("2024-05-01"))
		var te *TransientError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "parse", te.Op)
		var pe *ParseError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("timeout is transient", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := NewClient(Config{URL: srv.URL, Group: "3.2", Timeout: 50 * time.Millisecond})
		_, err := c.Fetch(context.Background(), day("2024-05-01"))
		assert.True(t, IsTransient(err))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("not found is not transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"hydra:member": []}`))
		}))
		defer srv.Close()

		_, err := NewClient(Config{URL: srv.URL, Group: "3.2"}).Fetch(context.Background(), day("2024-05-01"))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, IsTransient(err))
	})
}

type countingFetcher struct {
	calls atomic.Int32
	day   Day
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, date time.Time) (Day, error) {
	f.calls.Add(1)
	return f.day, f.err
}

func TestCachedClient(t *testing.T) {
	ctx := context.Background()
	d := day("2024-05-01")

	t.Run("hits", func(t *testing.T) {
		f := &countingFetcher{day: Day{Date: d, Group: "3.2", Slots: map[string]string{"10:00": "1"}}}
		c := NewCachedClient(f, time.Minute, 1)
		for i := 0; i < 3; i++ {
			got, err := c.Fetch(ctx, d)
			require.NoError(t, err)
			assert.Equal(t, "1", got.Slots["10:00"])
		}
		assert.EqualValues(t, 1, f.calls.Load())

		c.Forget(d)
		_, _ = c.Fetch(ctx, d)
		assert.EqualValues(t, 2, f.calls.Load())
	})

	t.Run("not found is cached", func(t *testing.T) {
		f := &countingFetcher{err: ErrNotFound}
		c := NewCachedClient(f, time.Minute, 1)
		_, err := c.Fetch(ctx, d)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = c.Fetch(ctx, d)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.EqualValues(t, 1, f.calls.Load())
	})

	t.Run("transient is not cached", func(t *testing.T) {
		f := &countingFetcher{err: &TransientError{Date: "2024-05-01", Op: "request", Err: errors.New("down")}}
		c := NewCachedClient(f, time.Minute, 1)
		_, _ = c.Fetch(ctx, d)
		_, _ = c.Fetch(ctx, d)
		assert.EqualValues(t, 2, f.calls.Load())
	})

	t.Run("remember refreshes", func(t *testing.T) {
		f := &countingFetcher{err: ErrNotFound}
		c := NewCachedClient(f, time.Minute, 1)
		c.Remember(d, Day{Date: d, Group: "3.2", Slots: map[string]string{"11:00": "0"}}, nil)
		got, err := c.Fetch(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, "0", got.Slots["11:00"])
		assert.EqualValues(t, 0, f.calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		f := &countingFetcher{err: ErrNotFound}
		c := NewCachedClient(f, 0, 1)
		_, _ = c.Fetch(ctx, d)
		_, _ = c.Fetch(ctx, d)
		assert.EqualValues(t, 2, f.calls.Load())
	})
}
