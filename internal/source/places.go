package source

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/resilience"
	"github.com/sells-group/provider-scraper/pkg/google"
)

const (
	placesConfidence      = 0.95
	defaultPageTokenDelay = 2 * time.Second
	nearbyPhrases         = 3
)

// searchPhrases are the text queries run for each category.
var searchPhrases = map[model.Category][]string{
	model.CategoryMassage: {
		"massage spa", "massage therapy", "therapeutic massage",
		"deep tissue massage", "sports massage", "thai massage",
		"swedish massage", "reflexology", "shiatsu massage",
		"hot stone massage", "prenatal massage", "couples massage",
		"aromatherapy massage", "lymphatic massage", "trigger point massage",
	},
	model.CategoryAcupuncture:    {"acupuncture", "acupuncture clinic", "chinese medicine"},
	model.CategoryNails:          {"nail salon", "manicure pedicure", "nail spa"},
	model.CategoryHair:           {"hair salon", "barber shop", "hairdresser"},
	model.CategoryFacialsAndSkin: {"facial spa", "skincare", "esthetician"},
	model.CategoryLashesAndBrows: {"lash extensions", "brow bar", "eyelash salon"},
}

// placeTypeCategories maps Google place types to categories.
var placeTypeCategories = map[string]model.Category{
	"spa":          model.CategoryMassage,
	"health":       model.CategoryMassage,
	"beauty_salon": model.CategoryHair,
	"hair_care":    model.CategoryHair,
	"hair_salon":   model.CategoryHair,
	"nail_salon":   model.CategoryNails,
}

// SearchPhrases returns the query phrases for a category.
func SearchPhrases(c model.Category) []string {
	if p, ok := searchPhrases[c]; ok {
		return p
	}
	return []string{strings.ToLower(strings.ReplaceAll(string(c), "_", " "))}
}

// MapAPIConfig configures a MapAPISource.
type MapAPIConfig struct {
	APIKey string
	// PageTokenDelay is how long Google needs before a next_page_token
	// becomes valid.
	PageTokenDelay time.Duration
	// DetailsPace spaces Place Details calls. Zero disables pacing.
	DetailsPace time.Duration
}

// MapAPISource finds providers through Google Places text and nearby
// searches and fills each hit with Place Details.
type MapAPISource struct {
	places    google.PlacesClient
	enabled   bool
	pageDelay time.Duration
	pacer     *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

var _ Source = (*MapAPISource)(nil)

// NewMapAPISource creates a MapAPISource. It is disabled without an API key.
func NewMapAPISource(places google.PlacesClient, cfg MapAPIConfig) *MapAPISource {
	if cfg.PageTokenDelay <= 0 {
		cfg.PageTokenDelay = defaultPageTokenDelay
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.DetailsPace > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.DetailsPace), 1)
	}
	return &MapAPISource{
		places:    places,
		enabled:   cfg.APIKey != "" && places != nil,
		pageDelay: cfg.PageTokenDelay,
		pacer:     pacer,
		sleep:     resilience.Sleep,
		now:       time.Now,
	}
}

func (s *MapAPISource) Kind() model.SourceKind { return model.SourceGooglePlaces }
func (s *MapAPISource) Priority() int          { return model.PriorityGooglePlaces }
func (s *MapAPISource) Enabled() bool          { return s.enabled }

// Fetch loads one place by id.
func (s *MapAPISource) Fetch(ctx context.Context, placeID string) Result {
	return s.fetch(ctx, placeID, model.CategoryMassage)
}

func (s *MapAPISource) fetch(ctx context.Context, placeID string, fallback model.Category) Result {
	if !s.enabled {
		return notConfigured(s.Kind(), "google places: missing GOOGLE_API_KEY", s.now())
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return errResult(s.Kind(), "places:"+placeID, err, s.now())
	}

	resp, err := s.places.Details(ctx, placeID)
	at := s.now()
	if err != nil {
		u := "places:" + placeID
		if resp != nil {
			u = resp.RequestURL
		}
		return errResult(s.Kind(), u, s.apiErr(err), at)
	}

	rec, err := placeRecord(resp.Result, fallback)
	if err != nil {
		return errResult(s.Kind(), resp.RequestURL, &resilience.ParseError{Source: s.Kind(), URL: resp.RequestURL, Err: err}, at)
	}
	rec.Provenance = []model.ProvenanceEntry{provenance(s.Kind(), google.MapsURL(placeID), resp.Raw, at)}
	return Result{Record: &rec, SourceURL: resp.RequestURL, Kind: s.Kind(), FetchedAt: at}
}

// apiErr turns an OVER_QUERY_LIMIT status into a quota error so the run
// stops calling Places.
func (s *MapAPISource) apiErr(err error) error {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) && apiErr.OverQueryLimit() {
		return &resilience.QuotaExceededError{Kind: s.Kind()}
	}
	return err
}

// Search runs every category phrase against every area, then nearby
// searches around q.Points. Place ids are deduplicated through q.Seen.
func (s *MapAPISource) Search(ctx context.Context, q Query) (iter.Seq[Result], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !s.enabled {
		return single(notConfigured(s.Kind(), "google places: missing GOOGLE_API_KEY", s.now())), nil
	}
	q = q.WithSeen()
	phrases := SearchPhrases(q.Category)

	return func(yield func(Result) bool) {
		w := &walk{limit: q.Limit(), yield: yield}
		for _, area := range q.areas() {
			for _, phrase := range phrases {
				text := phrase + " in " + area
				if !s.paginate(ctx, q, w, func(token string) (*google.SearchResponse, error) {
					return s.places.TextSearch(ctx, text, token)
				}) {
					return
				}
			}
		}
		for _, p := range q.Points {
			for _, phrase := range phrases[:min(nearbyPhrases, len(phrases))] {
				req := google.NearbyRequest{Lat: p.Lat, Lng: p.Lng, RadiusM: p.RadiusM, Keyword: phrase}
				if !s.paginate(ctx, q, w, func(token string) (*google.SearchResponse, error) {
					req.PageToken = token
					return s.places.NearbySearch(ctx, req)
				}) {
					return
				}
			}
		}
	}, nil
}

// walk tracks how many records a search has produced.
type walk struct {
	limit int
	found int
	yield func(Result) bool
}

func (w *walk) full() bool { return w.found >= w.limit }

func (w *walk) emit(r Result) bool {
	if r.OK() {
		w.found++
	}
	return w.yield(r)
}

// paginate walks the pages of one query. It returns false when the whole
// search must stop.
func (s *MapAPISource) paginate(ctx context.Context, q Query, w *walk, page func(token string) (*google.SearchResponse, error)) bool {
	token := ""
	for {
		if w.full() || ctx.Err() != nil {
			return false
		}
		resp, err := page(token)
		if err != nil {
			err = s.apiErr(err)
			u := ""
			if resp != nil {
				u = resp.RequestURL
			}
			zap.L().Warn("places: search failed", zap.String("url", u), zap.Error(err))
			if !w.emit(errResult(s.Kind(), u, err, s.now())) {
				return false
			}
			return !errors.Is(err, resilience.ErrQuotaExceeded)
		}

		for _, place := range resp.Results {
			if w.full() {
				return false
			}
			if place.PlaceID == "" || !q.Seen.Add("places:"+place.PlaceID) {
				continue
			}
			r := s.fetch(ctx, place.PlaceID, q.Category)
			if !w.emit(r) {
				return false
			}
			if errors.Is(r.Err, resilience.ErrQuotaExceeded) {
				return false
			}
		}

		if resp.NextPageToken == "" {
			return true
		}
		token = resp.NextPageToken
		if err := s.sleep(ctx, s.pageDelay); err != nil {
			return false
		}
	}
}

func placeRecord(p google.PlaceDetails, fallback model.Category) (model.CandidateRecord, error) {
	if strings.TrimSpace(p.Name) == "" {
		return model.CandidateRecord{}, eris.New("place has no name")
	}
	addr := google.ParseAddress(p.AddressComponents)
	street := addr.Street
	if street == "" {
		street = p.FormattedAddress
	}
	phone := p.FormattedPhone
	if phone == "" {
		phone = p.InternationalPhone
	}

	rec := model.CandidateRecord{
		Name:        p.Name,
		Address:     street,
		City:        addr.City,
		State:       addr.State,
		PostalCode:  addr.PostalCode,
		Country:     addr.Country,
		Phone:       phone,
		WebsiteURL:  p.Website,
		Rating:      p.Rating,
		ReviewCount: p.UserRatingsTotal,
		Services:    []model.ServiceOffering{categoryService(placeCategory(p.Types, fallback))},
		Confidence:  placesConfidence,
	}
	if p.Geometry != nil {
		rec.Latitude = model.Ptr(p.Geometry.Location.Lat)
		rec.Longitude = model.Ptr(p.Geometry.Location.Lng)
	}
	if p.OpeningHours != nil {
		rec.OpeningHours = openingHours(p.OpeningHours.WeekdayText)
	}
	return rec, nil
}

func placeCategory(types []string, fallback model.Category) model.Category {
	for _, t := range types {
		if c, ok := placeTypeCategories[t]; ok {
			return c
		}
	}
	if fallback.Valid() {
		return fallback
	}
	return model.CategoryMassage
}

// openingHours turns "Monday: 9:00 AM – 5:00 PM" lines into a day map.
func openingHours(lines []string) map[string]string {
	if len(lines) == 0 {
		return nil
	}
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		day, hours, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(day))] = strings.TrimSpace(hours)
	}
	return out
}
