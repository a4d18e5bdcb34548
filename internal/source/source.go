// Package source defines the record sources a run draws from: the Google
// Places API, business websites and Google Custom Search.
package source

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scraper/internal/fetcher"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
	"github.com/sells-group/provider-scraper/internal/resilience"
	"github.com/sells-group/provider-scraper/pkg/google"
)

// DefaultMaxResults caps a search when the query does not.
const DefaultMaxResults = 60

// Source yields candidate records. Search validates the query before any
// network I/O and returns a lazy sequence; ranging over it again repeats
// the whole search.
type Source interface {
	Kind() model.SourceKind
	Priority() int
	Enabled() bool
	Fetch(ctx context.Context, identifier string) Result
	Search(ctx context.Context, q Query) (iter.Seq[Result], error)
}

// Result is one outcome of a fetch. Exactly one of Record and Err is set.
type Result struct {
	Record    *model.CandidateRecord
	Err       error
	SourceURL string
	Kind      model.SourceKind
	FetchedAt time.Time
}

// OK reports a result carrying a record.
func (r Result) OK() bool {
	return r.Err == nil && r.Record != nil
}

// Point is a coordinate to run nearby searches around.
type Point struct {
	Lat     float64
	Lng     float64
	RadiusM int
}

// Query describes one search.
type Query struct {
	Location   string
	Category   model.Category
	MaxResults int
	Areas      []string
	Points     []Point
	URLs       []string
	Seen       *SeenSet
}

// Validate rejects queries no source can run.
func (q Query) Validate() error {
	if !q.Category.Valid() {
		return eris.Errorf("source: invalid category %q", q.Category)
	}
	if strings.TrimSpace(q.Location) == "" && len(q.URLs) == 0 {
		return eris.New("source: location is required")
	}
	if q.MaxResults < 0 {
		return eris.Errorf("source: max results must not be negative, got %d", q.MaxResults)
	}
	return nil
}

// Limit returns the result cap.
func (q Query) Limit() int {
	if q.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return q.MaxResults
}

func (q Query) areas() []string {
	if len(q.Areas) > 0 {
		return q.Areas
	}
	return []string{q.Location}
}

// WithSeen returns q with a seen-set, creating one when absent.
func (q Query) WithSeen() Query {
	if q.Seen == nil {
		q.Seen = NewSeenSet()
	}
	return q
}

// SeenSet records identifiers already handled in one search. It is shared
// between sources, so keys are namespaced by the caller.
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeenSet creates an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{keys: make(map[string]struct{})}
}

// Add records key and reports whether it was new.
func (s *SeenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of recorded keys.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// FetcherGetter routes google client requests through f so they are rate
// limited and retried like every other request. It returns the body as
// sent, so provenance hashes cover the server's bytes. API keys are
// stripped from the URL of any FetchError.
func FetcherGetter(f fetcher.Fetcher, kind model.SourceKind) google.Getter {
	return google.GetterFunc(func(ctx context.Context, u string) ([]byte, error) {
		resp, err := f.Get(ctx, u, kind)
		if err != nil {
			var fe *resilience.FetchError
			if errors.As(err, &fe) {
				fe.URL = google.RedactKey(fe.URL)
			}
			return nil, err
		}
		return resp.RawBody(), nil
	})
}

func provenance(kind model.SourceKind, url string, body []byte, at time.Time) model.ProvenanceEntry {
	return model.ProvenanceEntry{
		Kind:        kind,
		URL:         url,
		FetchedAt:   at,
		ContentHash: normalize.ContentHash(body),
	}
}

func errResult(kind model.SourceKind, url string, err error, at time.Time) Result {
	return Result{Err: err, SourceURL: url, Kind: kind, FetchedAt: at}
}

func notConfigured(kind model.SourceKind, what string, at time.Time) Result {
	return errResult(kind, "", eris.Wrapf(resilience.ErrNotConfigured, "%s", what), at)
}

func single(r Result) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		yield(r)
	}
}

// splitLocation turns "Austin, TX" into its city and state parts.
func splitLocation(loc string) (city, state string) {
	city, state, _ = strings.Cut(loc, ",")
	return strings.TrimSpace(city), strings.TrimSpace(state)
}

// titleName takes the business name from a page or result title such as
// "Zen Massage | Austin Day Spa".
func titleName(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{" | ", "|", " - ", " – ", " — ", ": "} {
		if i := strings.Index(title, sep); i > 0 {
			return strings.TrimSpace(title[:i])
		}
	}
	return title
}

func categoryService(c model.Category) model.ServiceOffering {
	return model.ServiceOffering{Category: c, Name: c.DisplayName()}
}
