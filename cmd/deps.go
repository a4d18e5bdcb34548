package main

import (
	"time"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/fetcher"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/robots"
	"github.com/sells-group/provider-scraper/internal/source"
	"github.com/sells-group/provider-scraper/pkg/google"
)

// deps is the object graph shared by the commands.
type deps struct {
	limiter *fetcher.RateLimiter
	client  *fetcher.Client
	metrics *fetcher.Metrics
	robots  *robots.Cache
	places  *source.MapAPISource
	search  *source.SearchAPISource
	website *source.WebsiteSource
}

func newDeps(c *config.Config) *deps {
	d := &deps{metrics: fetcher.NewMetrics()}

	d.limiter = fetcher.NewRateLimiter(
		fetcher.LimitsFromConfig(c.RateLimits),
		fetcher.BackoffFromConfig(c.Backoff),
	)
	opts := fetcher.OptionsFromConfig(c.HTTP)
	opts.Metrics = d.metrics
	d.client = fetcher.NewClient(d.limiter, opts)

	d.robots = robots.New(robots.Options{
		UserAgent: c.HTTP.UserAgent,
		TTL:       c.Robots.CacheTTL(),
		CacheDir:  c.Robots.CacheDir,
		Respect:   c.Robots.Respect,
	})

	placesClient := google.NewPlacesClient(c.Google.PlacesKey,
		google.WithBaseURL(c.Google.PlacesBaseURL),
		google.WithGetter(source.FetcherGetter(d.client, model.SourceGooglePlaces)),
	)
	d.places = source.NewMapAPISource(placesClient, source.MapAPIConfig{
		APIKey:         c.Google.PlacesKey,
		PageTokenDelay: c.Google.PageTokenDelay(),
		DetailsPace:    time.Duration(c.Scrape.DetailsPaceMs) * time.Millisecond,
	})

	searchClient := google.NewSearchClient(c.Google.SearchKey, c.Google.SearchEngineID,
		google.WithBaseURL(c.Google.SearchBaseURL),
		google.WithGetter(source.FetcherGetter(d.client, model.SourceSearch)),
	)
	d.search = source.NewSearchAPISource(searchClient, source.SearchAPIConfig{
		APIKey:      c.Google.SearchKey,
		EngineID:    c.Google.SearchEngineID,
		ResultCount: c.Google.SearchResultCount,
	})

	d.website = source.NewWebsiteSource(d.client, d.robots, source.WithCrawlDelays(d.limiter))
	return d
}
