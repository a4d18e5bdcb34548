package source

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
	"github.com/sells-group/provider-scraper/internal/resilience"
	"github.com/sells-group/provider-scraper/pkg/google"
)

const (
	searchConfidence    = 0.3
	searchPhrasesPerRun = 3
	findWebsiteResults  = 5
	minNameWordLen      = 4
)

// directoryDomains are listing and social sites, never a provider's own site.
var directoryDomains = []string{
	"yelp.com", "facebook.com", "instagram.com", "twitter.com",
	"linkedin.com", "yellowpages.com", "tripadvisor.com",
	"google.com", "mapquest.com", "bbb.org", "manta.com",
}

// IsDirectory reports whether host belongs to a directory or social site.
func IsDirectory(host string) bool {
	host = strings.ToLower(host)
	for _, d := range directoryDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// SearchAPIConfig configures a SearchAPISource.
type SearchAPIConfig struct {
	APIKey      string
	EngineID    string
	ResultCount int
}

// SearchAPISource finds provider websites through Google Custom Search.
// Its records are low confidence and mostly serve to discover URLs.
type SearchAPISource struct {
	client  google.SearchClient
	enabled bool
	num     int
	now     func() time.Time
}

var _ Source = (*SearchAPISource)(nil)

// NewSearchAPISource creates a SearchAPISource. It is disabled unless both
// the API key and the engine id are set.
func NewSearchAPISource(client google.SearchClient, cfg SearchAPIConfig) *SearchAPISource {
	num := cfg.ResultCount
	if num <= 0 || num > 10 {
		num = 10
	}
	return &SearchAPISource{
		client:  client,
		enabled: cfg.APIKey != "" && cfg.EngineID != "" && client != nil,
		num:     num,
		now:     time.Now,
	}
}

func (s *SearchAPISource) Kind() model.SourceKind { return model.SourceSearch }
func (s *SearchAPISource) Priority() int          { return model.PrioritySearch }
func (s *SearchAPISource) Enabled() bool          { return s.enabled }

// Fetch runs query and returns the first provider site it finds.
func (s *SearchAPISource) Fetch(ctx context.Context, query string) Result {
	if !s.enabled {
		return notConfigured(s.Kind(), "custom search: missing GOOGLE_SEARCH_API_KEY or GOOGLE_SEARCH_ENGINE_ID", s.now())
	}
	resp, err := s.client.Search(ctx, query, s.num)
	at := s.now()
	if err != nil {
		return errResult(s.Kind(), "", err, at)
	}
	for _, item := range resp.Items {
		if IsDirectory(item.DisplayLink) {
			continue
		}
		rec := s.record(item, resp, "", "", at)
		return Result{Record: &rec, SourceURL: resp.RequestURL, Kind: s.Kind(), FetchedAt: at}
	}
	return errResult(s.Kind(), resp.RequestURL, eris.Errorf("custom search: no provider site for %q", query), at)
}

// Search runs the first few category phrases in q.Location and yields one
// record per provider site, skipping URLs already seen in this run.
func (s *SearchAPISource) Search(ctx context.Context, q Query) (iter.Seq[Result], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !s.enabled {
		return single(notConfigured(s.Kind(), "custom search: missing GOOGLE_SEARCH_API_KEY or GOOGLE_SEARCH_ENGINE_ID", s.now())), nil
	}
	q = q.WithSeen()
	phrases := SearchPhrases(q.Category)
	phrases = phrases[:min(searchPhrasesPerRun, len(phrases))]
	city, state := splitLocation(q.Location)

	return func(yield func(Result) bool) {
		w := &walk{limit: q.Limit(), yield: yield}
		for _, area := range q.areas() {
			for _, phrase := range phrases {
				if w.full() || ctx.Err() != nil {
					return
				}
				resp, err := s.client.Search(ctx, phrase+" in "+area, s.num)
				at := s.now()
				if err != nil {
					zap.L().Warn("custom search: query failed", zap.String("phrase", phrase), zap.Error(err))
					if !w.emit(errResult(s.Kind(), "", err, at)) || errors.Is(err, resilience.ErrQuotaExceeded) {
						return
					}
					continue
				}
				for _, item := range resp.Items {
					if w.full() {
						return
					}
					if IsDirectory(item.DisplayLink) || !q.Seen.Add("url:"+normalize.CanonicalURL(item.Link)) {
						continue
					}
					rec := s.record(item, resp, city, state, at)
					rec.Services = []model.ServiceOffering{categoryService(q.Category)}
					if !w.emit(Result{Record: &rec, SourceURL: resp.RequestURL, Kind: s.Kind(), FetchedAt: at}) {
						return
					}
				}
			}
		}
	}, nil
}

func (s *SearchAPISource) record(item google.SearchItem, resp *google.CustomSearchResponse, city, state string, at time.Time) model.CandidateRecord {
	return model.CandidateRecord{
		Name:       titleName(item.Title),
		City:       city,
		State:      state,
		WebsiteURL: item.Link,
		Confidence: searchConfidence,
		Provenance: []model.ProvenanceEntry{provenance(s.Kind(), resp.RequestURL, resp.Raw, at)},
	}
}

// FindWebsite looks up a provider's own site. Results whose title or host
// contains a significant word of the name win; otherwise the first
// non-directory result is used. An empty URL with a nil error means
// nothing suitable was found.
func (s *SearchAPISource) FindWebsite(ctx context.Context, name, city, state string) (string, error) {
	if !s.enabled {
		return "", resilience.ErrNotConfigured
	}
	query := strings.Join(strings.Fields(strings.Join([]string{name, city, state, "website"}, " ")), " ")
	resp, err := s.client.Search(ctx, query, findWebsiteResults)
	if err != nil {
		return "", err
	}
	return BestURL(resp.Items, name), nil
}

// BestURL picks the most likely provider site from search results.
func BestURL(items []google.SearchItem, name string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if len(w) >= minNameWordLen {
			words = append(words, w)
		}
	}

	fallback := ""
	for _, item := range items {
		host := strings.ToLower(item.DisplayLink)
		if IsDirectory(host) {
			continue
		}
		if fallback == "" {
			fallback = item.Link
		}
		title := strings.ToLower(item.Title)
		for _, w := range words {
			if strings.Contains(title, w) || strings.Contains(host, w) {
				return item.Link
			}
		}
	}
	return fallback
}
