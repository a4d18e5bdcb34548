// Package robots decides whether a URL may be fetched under its site's
// robots.txt. Policies are cached in memory and on disk for a TTL; a
// missing or unreachable robots.txt allows everything.
package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/provider-scraper/internal/resilience"
)

const (
	defaultTTL     = 24 * time.Hour
	fetchTimeout   = 10 * time.Second
	maxRobotsBytes = 512 << 10
)

// Options configures a Cache.
type Options struct {
	UserAgent string
	TTL       time.Duration
	// CacheDir enables the disk layer when set.
	CacheDir string
	// Respect false turns every check into an unconditional allow.
	Respect    bool
	HTTPClient *http.Client
}

// policy is a parsed robots.txt. A nil data allows everything.
type policy struct {
	data      *robotstxt.RobotsData
	status    int
	fetchedAt time.Time
}

func (p *policy) allows(path, agent string) bool {
	if p == nil || p.data == nil {
		return true
	}
	return p.data.TestAgent(path, agent)
}

func (p *policy) crawlDelay(agent string) time.Duration {
	if p == nil || p.data == nil {
		return 0
	}
	if g := p.data.FindGroup(agent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

// Cache resolves robots policies from memory, then disk, then the network.
type Cache struct {
	opts   Options
	agent  string
	mem    *gocache.Cache
	disk   *diskStore
	client *http.Client
	group  singleflight.Group
	now    func() time.Time
}

// New creates a policy cache.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	c := &Cache{
		opts:   opts,
		agent:  AgentFromUserAgent(opts.UserAgent),
		mem:    gocache.New(opts.TTL, opts.TTL),
		client: client,
		now:    time.Now,
	}
	if opts.CacheDir != "" {
		c.disk = &diskStore{dir: opts.CacheDir}
	}
	return c
}

// AgentFromUserAgent returns the product token robots groups are matched
// against, e.g. "OpenSlots-Scraper" for "OpenSlots-Scraper/0.1 (+url)".
func AgentFromUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if i := strings.IndexAny(ua, "/ "); i >= 0 {
		ua = ua[:i]
	}
	if ua == "" {
		return "*"
	}
	return ua
}

// Agent returns the default agent token.
func (c *Cache) Agent() string {
	return c.agent
}

// CanFetch reports whether agent may fetch rawURL. An empty agent means the
// configured user agent. Unparseable URLs are refused; robots failures are not.
func (c *Cache) CanFetch(ctx context.Context, rawURL, agent string) bool {
	if !c.opts.Respect {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if agent == "" {
		agent = c.agent
	}
	p := c.policyFor(ctx, u)
	allowed := p.allows(requestPath(u), agent)
	if !allowed {
		zap.L().Debug("robots: disallowed", zap.String("url", rawURL), zap.String("agent", agent))
	}
	return allowed
}

// ValidateAccess returns an *resilience.AccessDeniedError when robots.txt
// disallows rawURL for the configured agent.
func (c *Cache) ValidateAccess(ctx context.Context, rawURL string) error {
	if c.CanFetch(ctx, rawURL, "") {
		return nil
	}
	return &resilience.AccessDeniedError{URL: rawURL}
}

// CrawlDelay returns the Crawl-delay published for the configured agent, if any.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	if !c.opts.Respect {
		return 0, false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, false
	}
	d := c.policyFor(ctx, u).crawlDelay(c.agent)
	return d, d > 0
}

// Clear drops the in-memory layer. Disk entries stay until they expire.
func (c *Cache) Clear() {
	c.mem.Flush()
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func (c *Cache) policyFor(ctx context.Context, u *url.URL) *policy {
	host := strings.ToLower(u.Host)
	if v, ok := c.mem.Get(host); ok {
		return v.(*policy)
	}

	v, _, _ := c.group.Do(host, func() (any, error) {
		if v, ok := c.mem.Get(host); ok {
			return v, nil
		}
		if p, ok := c.loadDisk(host); ok {
			return p, nil
		}
		e := c.fetch(ctx, u.Scheme, host)
		if e.Status == 0 && ctx.Err() != nil {
			// Cancelled by the caller, not a site failure: allow without caching.
			return &policy{fetchedAt: e.FetchedAt}, nil
		}
		p := c.remember(e)
		if c.disk != nil {
			if err := c.disk.save(e); err != nil {
				zap.L().Warn("robots: disk cache write failed", zap.String("host", host), zap.Error(err))
			}
		}
		return p, nil
	})
	return v.(*policy)
}

// loadDisk returns a fresh disk entry and promotes it to memory.
func (c *Cache) loadDisk(host string) (*policy, bool) {
	if c.disk == nil {
		return nil, false
	}
	e, ok := c.disk.load(host)
	if !ok || c.now().Sub(e.FetchedAt) >= c.opts.TTL {
		return nil, false
	}
	return c.remember(e), true
}

// remember parses e and stores it in memory for the rest of its TTL.
func (c *Cache) remember(e *diskEntry) *policy {
	p := &policy{status: e.Status, fetchedAt: e.FetchedAt}
	if e.Status == http.StatusOK {
		data, err := robotstxt.FromStatusAndBytes(http.StatusOK, []byte(e.Body))
		if err != nil {
			zap.L().Warn("robots: parse failed, allowing all", zap.String("host", e.Host), zap.Error(err))
		} else {
			p.data = data
		}
	}
	remaining := c.opts.TTL - c.now().Sub(e.FetchedAt)
	if remaining > 0 {
		c.mem.Set(e.Host, p, remaining)
	}
	return p
}

// fetch downloads robots.txt. Any failure is recorded as status 0 and
// treated as allow-all.
func (c *Cache) fetch(ctx context.Context, scheme, host string) *diskEntry {
	if scheme == "" {
		scheme = "https"
	}
	e := &diskEntry{Host: host, FetchedAt: c.now()}
	robotsURL := scheme + "://" + host + "/robots.txt"

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return e
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		zap.L().Warn("robots: fetch failed, allowing all", zap.String("url", robotsURL), zap.Error(err))
		return e
	}
	defer resp.Body.Close() //nolint:errcheck

	e.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		zap.L().Debug("robots: no policy", zap.String("url", robotsURL), zap.Int("status", resp.StatusCode))
		return e
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		e.Status = 0
		return e
	}
	e.Body = string(body)
	return e
}
