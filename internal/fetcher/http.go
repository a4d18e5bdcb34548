package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/resilience"
)

// Options configures the fetch client.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryBase is the sleep after the first failed attempt; it doubles per
	// attempt. Default: 1s.
	RetryBase    time.Duration
	MaxBodyBytes int64
	Metrics      *Metrics
	// HTTPClient overrides the default client. Its Timeout is ignored; the
	// per-attempt timeout comes from Timeout.
	HTTPClient *http.Client
	// Sleep replaces the context-aware sleep between retries.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultMaxBodyBytes = 5 << 20
	defaultUserAgent    = "OpenSlots-Scraper/0.1 (+https://openslots.example.com/bot)"
)

// Client fetches URLs through a Limiter with bounded retries. Every attempt
// acquires the limiter and reports its outcome back to it.
type Client struct {
	http    *http.Client
	limiter Limiter
	opts    Options
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a fetch client.
func NewClient(limiter Limiter, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{http: hc, limiter: limiter, opts: opts}
}

// UserAgent returns the User-Agent sent with every request.
func (c *Client) UserAgent() string {
	return c.opts.UserAgent
}

// Get fetches rawURL, retrying any non-2xx status or transport error up to
// MaxRetries attempts with 1s, 2s, 4s... between them. A QuotaExceededError
// from the limiter is returned immediately. Exhausted retries yield a
// *resilience.FetchError.
func (c *Client) Get(ctx context.Context, rawURL string, kind model.SourceKind) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil {
			err = eris.New("fetcher: url must be absolute http(s)")
		}
		return nil, &resilience.FetchError{URL: rawURL, Err: err}
	}
	domain := u.Hostname()
	safeURL := RedactURL(rawURL)

	attempts, lastStatus := 0, 0
	cfg := resilience.RetryConfig{
		MaxAttempts:    c.opts.MaxRetries,
		InitialBackoff: c.opts.RetryBase,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, resilience.ErrQuotaExceeded)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.opts.Metrics.retry(kind)
			resilience.RetryLogger("fetcher", safeURL)(attempt, delay, err)
		},
		Sleep: c.opts.Sleep,
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		attempts++
		resp, status, err := c.attempt(ctx, rawURL, safeURL, kind, domain)
		if status != 0 {
			lastStatus = status
		}
		return resp, err
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, resilience.ErrQuotaExceeded) {
		return nil, err
	}

	zap.L().Warn("fetcher: giving up",
		zap.String("url", safeURL),
		zap.Int("attempts", attempts),
		zap.Int("status", lastStatus),
		zap.Error(err),
	)
	return nil, &resilience.FetchError{URL: safeURL, Attempts: attempts, StatusCode: lastStatus, Err: err}
}

// RedactURL drops credential query parameters so a URL can be logged or
// kept in run errors.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}
	q := u.Query()
	changed := false
	for _, k := range []string{"key", "api_key", "apikey", "access_token"} {
		if q.Has(k) {
			q.Del(k)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// attempt performs one limiter-gated request. It returns the status code it
// saw, if any, alongside the outcome. Errors only ever name safeURL.
func (c *Client) attempt(ctx context.Context, rawURL, safeURL string, kind model.SourceKind, domain string) (*Response, int, error) {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx, kind, domain); err != nil {
		return nil, 0, err
	}
	c.opts.Metrics.waited(kind, time.Since(waitStart))

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = safeURL
		}
		c.limiter.RecordFailure(domain)
		c.opts.Metrics.observe(kind, "error", time.Since(start))
		return nil, 0, resilience.NewTransientError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.limiter.RecordFailure(domain)
		c.opts.Metrics.observe(kind, "status_"+statusClass(resp.StatusCode), time.Since(start))
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("fetcher: status %d from %s", resp.StatusCode, safeURL), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		c.limiter.RecordFailure(domain)
		c.opts.Metrics.observe(kind, "error", time.Since(start))
		return nil, resp.StatusCode, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	c.limiter.RecordSuccess(domain)
	elapsed := time.Since(start)
	c.opts.Metrics.observe(kind, "ok", elapsed)

	contentType := resp.Header.Get("Content-Type")
	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Body:        decodeBody(body, contentType),
		Raw:         body,
		Header:      resp.Header.Clone(),
		ContentType: contentType,
		Elapsed:     elapsed,
	}, resp.StatusCode, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "other"
	}
}
