package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "gpvbot/pkg/logx"
)

const (
	DefaultURL       = "https://api-poweron.toe.com.ua/api/a_gpv_g"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout   = 15 * time.Second

	maxBodyBytes = 4 << 20
)

// Fetcher returns the schedule of one day.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (Day, error)
}

type Config struct {
	URL       string
	Group     string
	Timeout   time.Duration
	UserAgent string
	// Headers are sent on every request, after User-Agent and Accept.
	Headers map[string]string
}

// Client fetches schedules from the upstream API.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	now  func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log logx.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithClock overrides the clock used for the cache-busting time parameter.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  logx.Nop(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "schedule"))
	return c
}

// Group returns the configured consumer group.
func (c *Client) Group() string { return c.cfg.Group }

// Fetch performs one request for date. It does not retry.
func (c *Client) Fetch(ctx context.Context, date time.Time) (Day, error) {
	key := date.Format(DateLayout)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.get(ctx, key)
	if err != nil {
		return Day{}, err
	}

	day, err := ParseResponse(body, date, c.cfg.Group)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return Day{}, &TransientError{Date: key, Op: "parse", Err: err}
		}
		return Day{}, err
	}
	c.log.Debug("schedule fetched", logx.String("date", key), logx.Int("slots", len(day.Slots)))
	return day, nil
}

func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, &TransientError{Date: key, Op: "build url", Err: err}
	}
	q := u.Query()
	q.Set("after", key+"T00:00:00Z")
	q.Set("before", key+"T23:59:59Z")
	q.Add("group[]", c.cfg.Group)
	q.Set("time", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, &TransientError{Date: key, Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Date: key, Op: "request", Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Debug("close response body failed", logx.Err(cerr))
		}
	}()

	c.log.Debug("upstream responded",
		logx.String("date", key),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &TransientError{Date: key, Op: "status", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransientError{Date: key, Op: "read body", Err: err}
	}
	return body, nil
}
