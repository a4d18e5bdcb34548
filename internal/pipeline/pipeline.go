// Package pipeline runs a scrape: it drives every enabled source
// concurrently, reconciles what they yield on a single goroutine and
// persists the result once.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
	"github.com/sells-group/provider-scraper/internal/reconcile"
	"github.com/sells-group/provider-scraper/internal/resilience"
	"github.com/sells-group/provider-scraper/internal/source"
	"github.com/sells-group/provider-scraper/internal/store"
)

const defaultBuffer = 16

// WebsiteFinder looks up a business's website. SearchAPISource implements it.
type WebsiteFinder interface {
	Enabled() bool
	FindWebsite(ctx context.Context, name, city, state string) (string, error)
}

// Options tune a Runner.
type Options struct {
	// FillWebsites looks up a website for every record that has none.
	FillWebsites bool
	// CrawlWebsites feeds every known website into the website source after
	// the first pass, so page data merges into the records.
	CrawlWebsites bool
	MaxErrors     int
	Buffer        int
	Now           func() time.Time
	NewRunID      func() string
}

// Runner orchestrates one run at a time.
type Runner struct {
	sources    []source.Source
	website    source.Source
	finder     WebsiteFinder
	normalizer *normalize.Normalizer
	persister  store.Persister
	opts       Options
}

// Option configures a Runner.
type Option func(*Runner)

// WithWebsiteSource sets the source used to crawl known websites.
func WithWebsiteSource(s source.Source) Option {
	return func(r *Runner) { r.website = s }
}

// WithWebsiteFinder sets the finder used to fill missing websites.
func WithWebsiteFinder(f WebsiteFinder) Option {
	return func(r *Runner) { r.finder = f }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(r *Runner) { r.normalizer = n }
}

// WithOptions sets run options.
func WithOptions(o Options) Option {
	return func(r *Runner) { r.opts = o }
}

// New creates a Runner over the given sources. A nil persister skips
// persistence.
func New(sources []source.Source, persister store.Persister, opts ...Option) *Runner {
	r := &Runner{
		sources:    sources,
		normalizer: normalize.NewNormalizer(nil),
		persister:  persister,
	}
	for _, o := range opts {
		o(r)
	}
	if r.opts.Now == nil {
		r.opts.Now = time.Now
	}
	if r.opts.NewRunID == nil {
		r.opts.NewRunID = func() string { return uuid.New().String() }
	}
	if r.opts.Buffer <= 0 {
		r.opts.Buffer = defaultBuffer
	}
	return r
}

// SourceSummary counts what one source yielded during a run.
type SourceSummary struct {
	Results int  `json:"results"`
	Errors  int  `json:"errors"`
	Stopped bool `json:"stopped"`
}

// Report is the outcome of a run.
type Report struct {
	Stats     *model.RunStats                     `json:"stats"`
	Records   []model.CandidateRecord             `json:"-"`
	Sources   map[model.SourceKind]*SourceSummary `json:"sources"`
	Conflicts int                                 `json:"conflicts"`
}

// run is the state owned by the consuming goroutine.
type run struct {
	stats  *model.RunStats
	recon  *reconcile.Reconciler
	report *Report
	log    *zap.Logger
}

// Run validates q, searches every enabled source and reconciles the
// results. Configuration problems are returned before any network activity;
// per-item failures are counted in the report's stats.
func (r *Runner) Run(ctx context.Context, q source.Query) (*Report, error) {
	if err := q.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: invalid query")
	}

	var enabled []source.Source
	for _, s := range r.sources {
		if s != nil && s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	if len(enabled) == 0 {
		return nil, eris.New("pipeline: no enabled source")
	}

	q = q.WithSeen()
	seqs, err := searchAll(ctx, enabled, q)
	if err != nil {
		return nil, err
	}

	stats := model.NewRunStats(r.opts.NewRunID(), q.Location, q.Category, r.opts.Now().UTC())
	if r.opts.MaxErrors > 0 {
		stats.MaxErrors = r.opts.MaxErrors
	}
	st := &run{
		stats:  stats,
		recon:  reconcile.New(),
		report: &Report{Stats: stats, Sources: make(map[model.SourceKind]*SourceSummary)},
		log: zap.L().With(
			zap.String("run_id", stats.RunID),
			zap.String("location", q.Location),
			zap.String("category", string(q.Category)),
		),
	}
	st.log.Info("pipeline: starting run", zap.Int("sources", len(enabled)))

	if err := r.drain(ctx, st, seqs); err != nil {
		return st.finish(), err
	}

	if r.opts.FillWebsites {
		r.fillWebsites(ctx, st)
	}
	if r.opts.CrawlWebsites {
		if err := r.crawlWebsites(ctx, st, q); err != nil {
			return st.finish(), err
		}
	}

	stats.Complete(r.opts.Now().UTC())
	report := st.finish()
	st.log.Info("pipeline: run complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("new", stats.New),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("errored", stats.Errored),
		zap.Int("invalid", stats.Invalid),
		zap.Duration("duration", stats.Duration()),
	)

	if r.persister != nil {
		if err := r.persister.SaveRun(ctx, stats, report.Records); err != nil {
			return report, eris.Wrap(err, "pipeline: persist run")
		}
	}
	return report, nil
}

type stream struct {
	kind model.SourceKind
	seq  iter.Seq[source.Result]
}

// searchAll starts every search. Search only validates, so an error here
// is a configuration error.
func searchAll(ctx context.Context, srcs []source.Source, q source.Query) ([]stream, error) {
	out := make([]stream, 0, len(srcs))
	for _, s := range srcs {
		seq, err := s.Search(ctx, q)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s search", s.Kind())
		}
		out = append(out, stream{kind: s.Kind(), seq: seq})
	}
	return out, nil
}

// drain ranges every stream on its own goroutine and consumes all results
// on the calling goroutine. A quota error stops the stream that hit it.
func (r *Runner) drain(ctx context.Context, st *run, streams []stream) error {
	results := make(chan source.Result, r.opts.Buffer)
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range streams {
		g.Go(func() error {
			n := 0
			for res := range s.seq {
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
				n++
				if errors.Is(res.Err, resilience.ErrQuotaExceeded) {
					break
				}
			}
			zap.L().Debug("pipeline: source finished",
				zap.String("source", string(s.kind)),
				zap.Int("results", n),
			)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	for res := range results {
		r.consume(st, res)
	}
	if err := <-done; err != nil {
		st.log.Warn("pipeline: run canceled", zap.Error(err))
		return err
	}
	if err := ctx.Err(); err != nil {
		st.log.Warn("pipeline: run canceled", zap.Error(err))
		return err
	}
	return nil
}

// consume normalizes, validates and reconciles one result.
func (r *Runner) consume(st *run, res source.Result) {
	sum := st.report.source(res.Kind)
	sum.Results++
	st.stats.Attempted++

	if !res.OK() {
		sum.Errors++
		if res.Err == nil {
			res.Err = eris.New("empty result")
		}
		if errors.Is(res.Err, resilience.ErrQuotaExceeded) {
			sum.Stopped = true
			st.log.Warn("pipeline: source stopped on quota",
				zap.String("source", string(res.Kind)),
				zap.Error(res.Err),
			)
		}
		st.stats.AddError(model.RunError{
			Source:  res.Kind,
			URL:     res.SourceURL,
			Kind:    resilience.Classify(res.Err),
			Message: res.Err.Error(),
		})
		st.log.Debug("pipeline: item failed",
			zap.String("source", string(res.Kind)),
			zap.String("url", res.SourceURL),
			zap.Error(res.Err),
		)
		return
	}
	st.stats.Fetched++

	rec := r.normalizer.Normalize(*res.Record)
	if err := r.normalizer.Validate(rec); err != nil {
		st.stats.Invalid++
		st.log.Debug("pipeline: dropping invalid record",
			zap.String("url", res.SourceURL),
			zap.Error(err),
		)
		return
	}
	st.stats.ServicesExtracted += len(rec.Services)

	out := st.recon.Add(rec)
	if out.IsNew {
		st.stats.New++
		st.log.Debug("pipeline: new record", zap.String("name", out.Record.Name), zap.Int("index", out.Index))
		return
	}
	st.stats.Duplicates++
	st.log.Debug("pipeline: merged record",
		zap.String("name", out.Record.Name),
		zap.Int("index", out.Index),
		zap.String("matched_by", string(out.MatchedBy)),
	)
}

// fillWebsites asks the finder for records that have no website and merges
// any hit back through the reconciler with a search provenance entry.
func (r *Runner) fillWebsites(ctx context.Context, st *run) {
	if r.finder == nil || !r.finder.Enabled() {
		st.log.Info("pipeline: website fill skipped, search not configured")
		return
	}

	for _, rec := range st.recon.Records() {
		if rec.WebsiteURL != "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		found, err := r.finder.FindWebsite(ctx, rec.Name, rec.City, rec.State)
		if err != nil {
			st.stats.AddError(model.RunError{
				Source:  model.SourceSearch,
				Kind:    resilience.Classify(err),
				Message: err.Error(),
			})
			if errors.Is(err, resilience.ErrQuotaExceeded) {
				st.report.source(model.SourceSearch).Stopped = true
				st.log.Warn("pipeline: website fill stopped on quota", zap.Error(err))
				return
			}
			continue
		}
		if found == "" {
			continue
		}

		st.recon.Add(model.CandidateRecord{
			Name:       rec.Name,
			Address:    rec.Address,
			City:       rec.City,
			WebsiteURL: normalize.Website(found),
			Provenance: []model.ProvenanceEntry{{
				Kind:      model.SourceSearch,
				URL:       found,
				FetchedAt: r.opts.Now().UTC(),
			}},
		})
		st.stats.WebsitesFound++
		st.log.Debug("pipeline: found website", zap.String("name", rec.Name), zap.String("url", found))
	}
}

// crawlWebsites runs the website source over every website the records
// carry. Pages merge into their records through the URL index.
func (r *Runner) crawlWebsites(ctx context.Context, st *run, q source.Query) error {
	if r.website == nil || !r.website.Enabled() {
		return nil
	}

	var urls []string
	for _, rec := range st.recon.Records() {
		if rec.WebsiteURL != "" {
			urls = append(urls, rec.WebsiteURL)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	crawl := source.Query{
		Location:   q.Location,
		Category:   q.Category,
		MaxResults: len(urls),
		URLs:       urls,
	}
	seqs, err := searchAll(ctx, []source.Source{r.website}, crawl)
	if err != nil {
		return err
	}
	st.log.Info("pipeline: crawling websites", zap.Int("urls", len(urls)))
	return r.drain(ctx, st, seqs)
}

func (st *run) finish() *Report {
	st.report.Records = st.recon.Records()
	st.report.Conflicts = st.recon.Conflicts()
	return st.report
}

func (rep *Report) source(kind model.SourceKind) *SourceSummary {
	s, ok := rep.Sources[kind]
	if !ok {
		s = &SourceSummary{}
		rep.Sources[kind] = s
	}
	return s
}
