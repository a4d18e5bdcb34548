package source

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/fetcher"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
	"github.com/sells-group/provider-scraper/internal/resilience"
)

const websiteConfidence = 0.6

var (
	phonePattern = regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	zipPattern   = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)

	placeholderEmailDomains = []string{"example.com", "test.com", "email.com", "domain.com"}
	bookingWords            = []string{"book now", "book online", "book an appointment", "schedule", "booking"}
)

// Robots decides whether a URL may be fetched.
type Robots interface {
	ValidateAccess(ctx context.Context, rawURL string) error
	CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool)
}

// CrawlDelaySetter receives robots crawl-delays per domain.
type CrawlDelaySetter interface {
	SetCrawlDelay(domain string, d time.Duration)
}

// ServiceExtractor pulls service offerings out of a page body.
type ServiceExtractor interface {
	Extract(body []byte, pageURL string) []model.ServiceOffering
}

// WebsiteOption configures a WebsiteSource.
type WebsiteOption func(*WebsiteSource)

// WithServiceExtractor adds offerings found by e to every page's record.
func WithServiceExtractor(e ServiceExtractor) WebsiteOption {
	return func(s *WebsiteSource) { s.extractor = e }
}

// WithCategorizer sets how services without a category are classified.
func WithCategorizer(c normalize.Categorizer) WebsiteOption {
	return func(s *WebsiteSource) { s.categorizer = c }
}

// WithCrawlDelays forwards robots crawl-delays to d, usually the rate limiter.
func WithCrawlDelays(d CrawlDelaySetter) WebsiteOption {
	return func(s *WebsiteSource) { s.delays = d }
}

// WebsiteSource scrapes business websites directly.
type WebsiteSource struct {
	fetcher     fetcher.Fetcher
	robots      Robots
	delays      CrawlDelaySetter
	extractor   ServiceExtractor
	categorizer normalize.Categorizer
	now         func() time.Time
}

var _ Source = (*WebsiteSource)(nil)

// NewWebsiteSource creates a WebsiteSource. A nil robots skips robots checks.
func NewWebsiteSource(f fetcher.Fetcher, robots Robots, opts ...WebsiteOption) *WebsiteSource {
	s := &WebsiteSource{
		fetcher:     f,
		robots:      robots,
		categorizer: normalize.KeywordCategorizer{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebsiteSource) Kind() model.SourceKind { return model.SourceWebsite }
func (s *WebsiteSource) Priority() int          { return model.PriorityWebsite }
func (s *WebsiteSource) Enabled() bool          { return s.fetcher != nil }

// Fetch scrapes one page. A URL refused by robots.txt yields an
// AccessDenied result.
func (s *WebsiteSource) Fetch(ctx context.Context, pageURL string) Result {
	if s.robots != nil {
		if err := s.robots.ValidateAccess(ctx, pageURL); err != nil {
			zap.L().Debug("website: skipped by robots", zap.String("url", pageURL))
			return errResult(s.Kind(), pageURL, err, s.now())
		}
		if d, ok := s.robots.CrawlDelay(ctx, pageURL); ok && s.delays != nil {
			s.delays.SetCrawlDelay(hostname(pageURL), d)
		}
	}

	resp, err := s.fetcher.Get(ctx, pageURL, s.Kind())
	at := s.now()
	if err != nil {
		return errResult(s.Kind(), pageURL, err, at)
	}
	if bt := DetectBlock(resp); bt != BlockNone {
		zap.L().Info("website: blocked", zap.String("url", pageURL), zap.String("block", string(bt)))
		return errResult(s.Kind(), pageURL, &resilience.FetchError{
			URL:      pageURL,
			Attempts: 1,
			Err:      eris.Errorf("%s page served instead of content", bt),
		}, at)
	}

	rec, err := s.parse(resp.Body, pageURL)
	if err != nil {
		return errResult(s.Kind(), pageURL, &resilience.ParseError{Source: s.Kind(), URL: pageURL, Err: err}, at)
	}
	rec.Provenance = []model.ProvenanceEntry{provenance(s.Kind(), normalize.CanonicalURL(pageURL), resp.RawBody(), at)}
	return Result{Record: &rec, SourceURL: pageURL, Kind: s.Kind(), FetchedAt: at}
}

// Search scrapes each of q.URLs once. Records without a city take it from
// q.Location.
func (s *WebsiteSource) Search(ctx context.Context, q Query) (iter.Seq[Result], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.WithSeen()
	city, state := splitLocation(q.Location)

	return func(yield func(Result) bool) {
		w := &walk{limit: q.Limit(), yield: yield}
		for _, u := range q.URLs {
			if w.full() || ctx.Err() != nil {
				return
			}
			if !q.Seen.Add("url:" + normalize.CanonicalURL(u)) {
				continue
			}
			r := s.Fetch(ctx, u)
			if r.OK() {
				if r.Record.City == "" {
					r.Record.City = city
				}
				if r.Record.State == "" {
					r.Record.State = state
				}
			}
			if !w.emit(r) {
				return
			}
		}
	}, nil
}

func (s *WebsiteSource) parse(body []byte, pageURL string) (model.CandidateRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.CandidateRecord{}, eris.Wrap(err, "website: parse html")
	}
	ld := linkedData(doc)
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()

	name := ld.Name
	if name == "" {
		name, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
		name = titleName(name)
	}
	if name == "" {
		name = titleName(doc.Find("title").First().Text())
	}
	if name == "" {
		return model.CandidateRecord{}, eris.New("no business name found")
	}

	rec := model.CandidateRecord{
		Name:       name,
		Address:    ld.Address.Street,
		City:       ld.Address.City,
		State:      ld.Address.State,
		PostalCode: ld.Address.PostalCode,
		Country:    ld.Address.Country,
		Phone:      firstNonEmpty(linkTarget(doc, "tel:"), ld.Telephone, phonePattern.FindString(text)),
		Email:      firstNonEmpty(linkTarget(doc, "mailto:"), ld.Email, pageEmail(text)),
		WebsiteURL: pageURL,
		BookingURL: bookingLink(doc, pageURL),
		Latitude:   ld.Lat,
		Longitude:  ld.Lng,
		Confidence: websiteConfidence,
	}
	if rec.PostalCode == "" {
		rec.PostalCode = zipPattern.FindString(text)
	}

	services := ld.Services
	if s.extractor != nil {
		services = append(services, s.extractor.Extract(body, pageURL)...)
	}
	for i := range services {
		if !services[i].Category.Valid() {
			services[i].Category = s.categorizer.Categorize(services[i].Name, services[i].Description)
		}
	}
	rec.Services = services
	return rec, nil
}

// linkTarget returns the first href with the given scheme, minus the scheme
// and any query.
func linkTarget(doc *goquery.Document, scheme string) string {
	href, ok := doc.Find(`a[href^="` + scheme + `"]`).First().Attr("href")
	if !ok {
		return ""
	}
	v := strings.TrimPrefix(href, scheme)
	v, _, _ = strings.Cut(v, "?")
	v, _ = url.PathUnescape(v)
	return strings.TrimSpace(v)
}

func pageEmail(text string) string {
	for _, m := range emailPattern.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		placeholder := false
		for _, d := range placeholderEmailDomains {
			if strings.HasSuffix(lower, "@"+d) || strings.HasSuffix(lower, "."+d) {
				placeholder = true
				break
			}
		}
		if !placeholder {
			return m
		}
	}
	return ""
}

func bookingLink(doc *goquery.Document, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(strings.TrimSpace(a.Text()))
		for _, w := range bookingWords {
			if strings.Contains(label, w) {
				href, _ := a.Attr("href")
				ref, err := url.Parse(strings.TrimSpace(href))
				if err != nil || strings.HasPrefix(href, "#") {
					return true
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme == "http" || abs.Scheme == "https" {
					found = abs.String()
					return false
				}
			}
		}
		return true
	})
	return found
}

// hostname matches the domain key the fetcher limits by.
func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ldBusiness is what a page's schema.org markup says about the business.
type ldBusiness struct {
	Name      string
	Telephone string
	Email     string
	Address   ldAddress
	Lat, Lng  *float64
	Services  []model.ServiceOffering
}

type ldAddress struct {
	Street, City, State, PostalCode, Country string
}

// linkedData reads the first JSON-LD object that names a business. Objects
// may be top level, in an array or under @graph.
func linkedData(doc *goquery.Document) ldBusiness {
	var out ldBusiness
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return true
		}
		for _, obj := range ldObjects(raw) {
			name := ldString(obj["name"])
			if name == "" {
				continue
			}
			out = ldBusiness{
				Name:      name,
				Telephone: ldString(obj["telephone"]),
				Email:     strings.TrimPrefix(ldString(obj["email"]), "mailto:"),
				Address:   ldAddr(obj["address"]),
				Services:  ldOffers(obj["hasOfferCatalog"]),
			}
			if geo, ok := obj["geo"].(map[string]any); ok {
				out.Lat, out.Lng = ldFloat(geo["latitude"]), ldFloat(geo["longitude"])
			}
			return false
		}
		return true
	})
	return out
}

func ldObjects(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if g, ok := t["@graph"]; ok {
			return ldObjects(g)
		}
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, ldObjects(item)...)
		}
		return out
	default:
		return nil
	}
}

func ldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return ldString(t[0])
		}
	}
	return ""
}

func ldFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return model.Ptr(t)
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err == nil {
			return model.Ptr(f)
		}
	}
	return nil
}

func ldAddr(v any) ldAddress {
	switch t := v.(type) {
	case string:
		return ldAddress{Street: strings.TrimSpace(t)}
	case map[string]any:
		country := ldString(t["addressCountry"])
		if c, ok := t["addressCountry"].(map[string]any); ok {
			country = ldString(c["name"])
		}
		return ldAddress{
			Street:     ldString(t["streetAddress"]),
			City:       ldString(t["addressLocality"]),
			State:      ldString(t["addressRegion"]),
			PostalCode: ldString(t["postalCode"]),
			Country:    country,
		}
	case []any:
		if len(t) > 0 {
			return ldAddr(t[0])
		}
	}
	return ldAddress{}
}

// ldOffers reads an OfferCatalog. Items are either services themselves or
// Offers wrapping one in itemOffered; nested catalogs are flattened.
func ldOffers(v any) []model.ServiceOffering {
	catalog, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	items, _ := catalog["itemListElement"].([]any)
	var out []model.ServiceOffering
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if _, nested := obj["itemListElement"]; nested {
			out = append(out, ldOffers(obj)...)
			continue
		}
		svc := obj
		if inner, ok := obj["itemOffered"].(map[string]any); ok {
			svc = inner
		}
		name := ldString(svc["name"])
		if name == "" {
			continue
		}
		out = append(out, model.ServiceOffering{
			Name:        name,
			Description: ldString(svc["description"]),
		})
	}
	return out
}
