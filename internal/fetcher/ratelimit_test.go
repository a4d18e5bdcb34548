package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/resilience"
)

// fakeClock advances only when the limiter sleeps or the test says so.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func newTestLimiter(limits map[model.SourceKind]Limits) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(limits, DefaultBackoff)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func websiteOnly(rpm, daily int, delay time.Duration) map[model.SourceKind]Limits {
	return map[model.SourceKind]Limits{
		model.SourceWebsite: {RequestsPerMinute: rpm, DailyLimit: daily, Delay: delay},
	}
}

func TestRateLimiter_FirstRequestDoesNotWait(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 0, 0))

	require.NoError(t, l.Acquire(context.Background(), model.SourceWebsite, "spa.test"))
	assert.Empty(t, clock.Slept())
}

func TestRateLimiter_SpacesRequestsPerDomain(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 0, 0))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	assert.Equal(t, []time.Duration{time.Second}, clock.Slept())

	clock.Advance(400 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	assert.Equal(t, []time.Duration{time.Second, 600 * time.Millisecond}, clock.Slept())

	// Another domain has its own spacing.
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "nails.test"))
	assert.Len(t, clock.Slept(), 2)
}

func TestRateLimiter_ConfiguredDelayDominates(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 0, 3*time.Second))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.Slept())
}

func TestRateLimiter_NoEarlyReturnAfterFailure(t *testing.T) {
	// 60 rpm, configured delay below one second, one failure: the next
	// request waits at least the 2s backoff.
	l, clock := newTestLimiter(websiteOnly(60, 0, 500*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	l.RecordFailure("spa.test")
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))

	slept := clock.Slept()
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], 2*time.Second)
}

func TestRateLimiter_SuccessClearsBackoff(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 0, 0))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	l.RecordFailure("spa.test")
	l.RecordFailure("spa.test")
	l.RecordSuccess("spa.test")
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	assert.Equal(t, []time.Duration{time.Second}, clock.Slept())
	assert.Equal(t, 0, l.Stats().Domains["spa.test"].Failures)
}

func TestRateLimiter_BackoffCapped(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(600, 0, 0))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "down.test"))
	for range 20 {
		l.RecordFailure("down.test")
	}
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "down.test"))
	assert.Equal(t, []time.Duration{DefaultBackoff.Max}, clock.Slept())
}

func TestBackoffPolicy_Monotonic(t *testing.T) {
	assert.Zero(t, DefaultBackoff.Delay(0))
	prev := time.Duration(0)
	for n := 1; n < 15; n++ {
		d := DefaultBackoff.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, DefaultBackoff.Max)
		prev = d
	}
	assert.Equal(t, 2*time.Second, DefaultBackoff.Delay(1))
}

func TestRateLimiter_QuotaExceededBeforeWaiting(t *testing.T) {
	l, clock := newTestLimiter(map[model.SourceKind]Limits{
		model.SourceGooglePlaces: {RequestsPerMinute: 60, DailyLimit: 2},
	})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, model.SourceGooglePlaces, "maps.test"))
	require.NoError(t, l.Acquire(ctx, model.SourceGooglePlaces, "maps.test"))
	before := clock.Slept()

	err := l.Acquire(ctx, model.SourceGooglePlaces, "maps.test")
	require.ErrorIs(t, err, resilience.ErrQuotaExceeded)
	var qe *resilience.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.SourceGooglePlaces, qe.Kind)
	assert.Equal(t, 2, qe.Limit)

	assert.Equal(t, before, clock.Slept(), "quota check must not sleep")
	assert.Equal(t, 2, l.Stats().Daily[model.SourceGooglePlaces])

	l.ResetDaily()
	require.NoError(t, l.Acquire(ctx, model.SourceGooglePlaces, "maps.test"))
}

func TestRateLimiter_UnknownKindUsesWebsiteLimits(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(30, 0, 0))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "yelp", "yelp.test"))
	require.NoError(t, l.Acquire(ctx, "yelp", "yelp.test"))
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Slept())
}

func TestRateLimiter_CrawlDelayFloor(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 0, 0))
	ctx := context.Background()

	l.SetCrawlDelay("slow.test", 5*time.Second)
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "slow.test"))
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "slow.test"))
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Slept())

	l.SetCrawlDelay("slow.test", 0)
	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "slow.test"))
	assert.Equal(t, []time.Duration{5 * time.Second, time.Second}, clock.Slept())
}

func TestRateLimiter_CancelledWait(t *testing.T) {
	l := NewRateLimiter(websiteOnly(1, 0, 0), DefaultBackoff)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
	cancel()
	err := l.Acquire(ctx, model.SourceWebsite, "spa.test")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiter_CancelledWaitReleasesSlot(t *testing.T) {
	l, clock := newTestLimiter(websiteOnly(60, 2, 0))
	first := clock.Now()

	require.NoError(t, l.Acquire(context.Background(), model.SourceWebsite, "spa.test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, model.SourceWebsite, "spa.test")
	require.ErrorIs(t, err, context.Canceled)

	stats := l.Stats()
	assert.Equal(t, 1, stats.Daily[model.SourceWebsite])
	assert.Equal(t, 1, stats.Domains["spa.test"].Requests)
	assert.Equal(t, first, stats.Domains["spa.test"].LastRequest)

	// The cancelled request did not spend the second unit of quota.
	require.NoError(t, l.Acquire(context.Background(), model.SourceWebsite, "spa.test"))
	assert.Equal(t, 2, l.Stats().Daily[model.SourceWebsite])

	var qe *resilience.QuotaExceededError
	assert.ErrorAs(t, l.Acquire(context.Background(), model.SourceWebsite, "spa.test"), &qe)
}

func TestRateLimiter_ConcurrentAcquireKeepsSpacing(t *testing.T) {
	l := NewRateLimiter(websiteOnly(600, 0, 0), DefaultBackoff) // 100ms spacing
	ctx := context.Background()

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, model.SourceWebsite, "spa.test"))
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	first, last := starts[0], starts[0]
	for _, s := range starts {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 250*time.Millisecond)
	assert.Equal(t, 4, l.Stats().Domains["spa.test"].Requests)
}

func TestLimitsFromConfig(t *testing.T) {
	limits := LimitsFromConfig(map[string]config.RateLimitConfig{
		"website": {RequestsPerMinute: 30, DelayMs: 250},
		"yelp":    {RequestsPerMinute: 5, DailyLimit: 10},
	})
	assert.Equal(t, Limits{RequestsPerMinute: 30, Delay: 250 * time.Millisecond}, limits[model.SourceWebsite])
	assert.Equal(t, Limits{RequestsPerMinute: 5, DailyLimit: 10}, limits["yelp"])
	assert.Equal(t, 5000, limits[model.SourceGooglePlaces].DailyLimit)

	backoff := BackoffFromConfig(config.BackoffConfig{InitialSecs: 1, MaxSecs: 60, Multiplier: 2})
	assert.Equal(t, DefaultBackoff, backoff)
}
