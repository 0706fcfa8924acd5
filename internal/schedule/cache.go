package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
)

// freecache refuses to allocate less than this.
const minCacheBytes = 512 * 1024

type cachedDay struct {
	Found bool              `json:"found"`
	Date  string            `json:"date"`
	Group string            `json:"group"`
	Slots map[string]string `json:"slots,omitempty"`
}

// CachedClient answers repeated queries for the same date from memory.
// Transient errors are never cached.
type CachedClient struct {
	next  Fetcher
	cache *freecache.Cache
	ttl   int
}

// NewCachedClient wraps next with a cache of sizeMB megabytes. A zero ttl
// disables caching.
func NewCachedClient(next Fetcher, ttl time.Duration, sizeMB int) *CachedClient {
	c := &CachedClient{next: next}
	if ttl <= 0 {
		return c
	}
	size := sizeMB * 1024 * 1024
	if size < minCacheBytes {
		size = minCacheBytes
	}
	c.cache = freecache.NewCache(size)
	c.ttl = max(int(ttl.Seconds()), 1)
	return c
}

func (c *CachedClient) Fetch(ctx context.Context, date time.Time) (Day, error) {
	if day, ok, err := c.lookup(date); ok {
		return day, err
	}
	day, err := c.next.Fetch(ctx, date)
	c.Remember(date, day, err)
	return day, err
}

// Remember stores the outcome of a fetch made elsewhere.
func (c *CachedClient) Remember(date time.Time, day Day, err error) {
	if c.cache == nil {
		return
	}
	var entry cachedDay
	switch {
	case err == nil:
		entry = cachedDay{Found: true, Date: day.Key(), Group: day.Group, Slots: day.Slots}
	case errors.Is(err, ErrNotFound):
		entry = cachedDay{Date: date.Format(DateLayout)}
	default:
		return
	}
	b, merr := json.Marshal(entry)
	if merr != nil {
		return
	}
	_ = c.cache.Set(cacheKey(date), b, c.ttl)
}

// Forget drops the cached entry for date.
func (c *CachedClient) Forget(date time.Time) {
	if c.cache != nil {
		c.cache.Del(cacheKey(date))
	}
}

func (c *CachedClient) lookup(date time.Time) (Day, bool, error) {
	if c.cache == nil {
		return Day{}, false, nil
	}
	b, err := c.cache.Get(cacheKey(date))
	if err != nil {
		return Day{}, false, nil
	}
	var entry cachedDay
	if err := json.Unmarshal(b, &entry); err != nil {
		return Day{}, false, nil
	}
	if !entry.Found {
		return Day{}, true, ErrNotFound
	}
	slots := entry.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	return Day{
		Date:  time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
		Group: entry.Group,
		Slots: slots,
	}, true, nil
}

func cacheKey(date time.Time) []byte {
	return []byte("day:" + date.Format(DateLayout))
}
