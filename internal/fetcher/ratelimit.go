package fetcher

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/resilience"
)

// Limits is the pacing and quota for one source kind.
type Limits struct {
	RequestsPerMinute int
	// DailyLimit of zero means unlimited.
	DailyLimit int
	Delay      time.Duration
}

// BackoffPolicy computes the per-domain penalty after consecutive failures.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff is 1s doubling up to 60s.
var DefaultBackoff = BackoffPolicy{Initial: time.Second, Max: 60 * time.Second, Multiplier: 2}

// DefaultLimits returns the built-in per-kind limits.
func DefaultLimits() map[model.SourceKind]Limits {
	return map[model.SourceKind]Limits{
		model.SourceGooglePlaces: {RequestsPerMinute: 50, DailyLimit: 5000, Delay: 1200 * time.Millisecond},
		model.SourceWebsite:      {RequestsPerMinute: 10, Delay: 2 * time.Second},
		model.SourceDirectory:    {RequestsPerMinute: 20, Delay: time.Second},
		model.SourceSearch:       {RequestsPerMinute: 60, DailyLimit: 100, Delay: time.Second},
	}
}

// Delay returns the backoff for n consecutive failures, zero when n is zero.
func (b BackoffPolicy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return resilience.Backoff(n, b.Initial, b.Max, b.Multiplier)
}

// DomainStats is a snapshot of one domain's limiter state.
type DomainStats struct {
	Requests    int
	Failures    int
	LastRequest time.Time
}

// LimiterStats is a snapshot of the limiter.
type LimiterStats struct {
	Domains map[string]DomainStats
	Daily   map[model.SourceKind]int
}

// RateLimiter enforces per-domain spacing, per-kind daily quotas and
// per-domain exponential backoff after failures. The wait for a request is
// computed and its slot reserved under one lock; the sleep itself happens
// outside the lock so domains do not block each other.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[model.SourceKind]Limits
	fallback model.SourceKind
	backoff  BackoffPolicy

	lastRequest map[string]time.Time
	requests    map[string]int
	failures    map[string]int
	crawlDelay  map[string]time.Duration
	daily       map[model.SourceKind]int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter. Kinds missing from limits use the
// website limits.
func NewRateLimiter(limits map[model.SourceKind]Limits, backoff BackoffPolicy) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff
	}
	return &RateLimiter{
		limits:      maps.Clone(limits),
		fallback:    model.SourceWebsite,
		backoff:     backoff,
		lastRequest: make(map[string]time.Time),
		requests:    make(map[string]int),
		failures:    make(map[string]int),
		crawlDelay:  make(map[string]time.Duration),
		daily:       make(map[model.SourceKind]int),
		now:         time.Now,
		sleep:       resilience.Sleep,
	}
}

func (l *RateLimiter) limitsFor(kind model.SourceKind) Limits {
	if lim, ok := l.limits[kind]; ok {
		return lim
	}
	if lim, ok := l.limits[l.fallback]; ok {
		return lim
	}
	return Limits{RequestsPerMinute: 10, Delay: 2 * time.Second}
}

// minInterval must be called with mu held.
func (l *RateLimiter) minInterval(lim Limits, domain string) time.Duration {
	interval := time.Duration(0)
	if lim.RequestsPerMinute > 0 {
		interval = time.Minute / time.Duration(lim.RequestsPerMinute)
	}
	interval = max(interval, lim.Delay, l.backoff.Delay(l.failures[domain]), l.crawlDelay[domain])
	return interval
}

// Acquire blocks until a request to domain may proceed. It fails with a
// QuotaExceededError, before waiting, once the kind's daily limit is spent.
func (l *RateLimiter) Acquire(ctx context.Context, kind model.SourceKind, domain string) error {
	l.mu.Lock()
	lim := l.limitsFor(kind)
	if lim.DailyLimit > 0 && l.daily[kind] >= lim.DailyLimit {
		l.mu.Unlock()
		return &resilience.QuotaExceededError{Kind: kind, Limit: lim.DailyLimit}
	}

	interval := l.minInterval(lim, domain)
	now := l.now()
	var wait time.Duration
	prev, hadPrev := l.lastRequest[domain]
	if hadPrev {
		wait = max(interval-now.Sub(prev), 0)
	}
	slot := now.Add(wait)
	l.lastRequest[domain] = slot
	l.requests[domain]++
	l.daily[kind]++
	l.mu.Unlock()

	if wait > 0 {
		zap.L().Debug("rate limiter: waiting",
			zap.String("domain", domain),
			zap.String("kind", string(kind)),
			zap.Duration("wait", wait),
		)
		if err := l.sleep(ctx, wait); err != nil {
			l.release(kind, domain, slot, prev, hadPrev)
			return eris.Wrap(err, "rate limiter: wait")
		}
	}
	return nil
}

// release returns a reserved slot whose request never went out. The slot
// time is only given back when no later caller has queued behind it.
func (l *RateLimiter) release(kind model.SourceKind, domain string, slot, prev time.Time, hadPrev bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.requests[domain] > 0 {
		l.requests[domain]--
	}
	if l.daily[kind] > 0 {
		l.daily[kind]--
	}
	if l.lastRequest[domain].Equal(slot) {
		if hadPrev {
			l.lastRequest[domain] = prev
		} else {
			delete(l.lastRequest, domain)
		}
	}
}

// RecordSuccess clears the domain's failure streak.
func (l *RateLimiter) RecordSuccess(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[domain] = 0
}

// RecordFailure extends the domain's failure streak.
func (l *RateLimiter) RecordFailure(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[domain]++
	zap.L().Debug("rate limiter: failure recorded",
		zap.String("domain", domain),
		zap.Int("consecutive_failures", l.failures[domain]),
		zap.Duration("backoff", l.backoff.Delay(l.failures[domain])),
	)
}

// SetCrawlDelay sets a floor on the spacing between requests to domain, as
// published in its robots.txt. A non-positive delay clears it.
func (l *RateLimiter) SetCrawlDelay(domain string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d <= 0 {
		delete(l.crawlDelay, domain)
		return
	}
	l.crawlDelay[domain] = d
}

// ResetDaily zeroes the per-kind daily counters.
func (l *RateLimiter) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.daily)
	zap.L().Info("rate limiter: daily counts reset")
}

// Stats returns a snapshot of the limiter state.
func (l *RateLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := LimiterStats{
		Domains: make(map[string]DomainStats, len(l.requests)),
		Daily:   maps.Clone(l.daily),
	}
	for domain, n := range l.requests {
		out.Domains[domain] = DomainStats{
			Requests:    n,
			Failures:    l.failures[domain],
			LastRequest: l.lastRequest[domain],
		}
	}
	return out
}
