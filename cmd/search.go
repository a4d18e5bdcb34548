package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/discovery"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/monitoring"
	"github.com/sells-group/provider-scraper/internal/pipeline"
	"github.com/sells-group/provider-scraper/internal/source"
	"github.com/sells-group/provider-scraper/internal/store"
)

var (
	searchCity          string
	searchCategory      string
	searchMaxResults    int
	searchAreas         []string
	searchPoints        []string
	searchGrids         []string
	searchURLs          []string
	searchWithSearch    bool
	searchFillWebsites  bool
	searchCrawlWebsites bool
	searchMetricsFile   string
	searchReport        bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a city for providers in one category",
	Long:  "Runs every configured source for the city and category, merges duplicate sightings and saves the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		category, err := model.ParseCategory(searchCategory)
		if err != nil {
			return err
		}
		points, err := parsePoints(searchPoints)
		if err != nil {
			return err
		}
		for _, raw := range searchGrids {
			g, err := parseGrid(raw)
			if err != nil {
				return err
			}
			cells, err := g.Points()
			if err != nil {
				return err
			}
			points = append(points, cells...)
		}
		maxResults := searchMaxResults
		if maxResults == 0 {
			maxResults = cfg.Scrape.MaxResults
		}

		d := newDeps(cfg)
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		sources := []source.Source{d.places, d.website}
		if searchWithSearch {
			sources = append(sources, d.search)
		}
		runner := pipeline.New(sources, st,
			pipeline.WithWebsiteSource(d.website),
			pipeline.WithWebsiteFinder(d.search),
			pipeline.WithOptions(pipeline.Options{
				FillWebsites:  searchFillWebsites,
				CrawlWebsites: searchCrawlWebsites,
				MaxErrors:     cfg.Scrape.MaxErrors,
				Buffer:        cfg.Scrape.SourceBufferSize,
			}),
		)

		rep, runErr := runner.Run(ctx, source.Query{
			Location:   searchCity,
			Category:   category,
			MaxResults: maxResults,
			Areas:      searchAreas,
			Points:     points,
			URLs:       searchURLs,
		})

		if searchMetricsFile != "" {
			if err := d.metrics.WriteTextfile(searchMetricsFile); err != nil {
				zap.L().Warn("search: failed to write metrics", zap.String("path", searchMetricsFile), zap.Error(err))
			}
		}
		if rep != nil {
			monitoring.NewAlerter(cfg.Monitoring).Check(ctx, rep.Stats)
			if searchReport {
				fmt.Fprint(os.Stdout, pipeline.FormatReport(rep))
			} else {
				formatRunSummary(os.Stdout, rep)
			}
		}
		return runErr
	},
}

// parseGrid reads "lat,lng,radius_km[,cell_km]".
func parseGrid(raw string) (discovery.Grid, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return discovery.Grid{}, eris.Errorf("invalid grid %q: want lat,lng,radius_km[,cell_km]", raw)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return discovery.Grid{}, eris.Wrapf(err, "invalid grid %q", raw)
		}
		vals[i] = v
	}
	g := discovery.Grid{Lat: vals[0], Lng: vals[1], RadiusKM: vals[2]}
	if len(vals) == 4 {
		g.CellKM = vals[3]
	}
	return g, nil
}

// parsePoints reads "lat,lng[,radius_m]" values.
func parsePoints(raw []string) ([]source.Point, error) {
	out := make([]source.Point, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, eris.Errorf("invalid point %q: want lat,lng[,radius_m]", r)
		}
		var p source.Point
		var err error
		if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
			return nil, eris.Wrapf(err, "invalid latitude in %q", r)
		}
		if p.Lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
			return nil, eris.Wrapf(err, "invalid longitude in %q", r)
		}
		if len(parts) == 3 {
			if p.RadiusM, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
				return nil, eris.Wrapf(err, "invalid radius in %q", r)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func formatRunSummary(w io.Writer, rep *pipeline.Report) {
	s := rep.Stats
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run ID:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Location:\t%s\n", s.Location)
	fmt.Fprintf(tw, "Category:\t%s\n", s.Category)
	fmt.Fprintf(tw, "Attempted:\t%d\n", s.Attempted)
	fmt.Fprintf(tw, "Fetched:\t%d\n", s.Fetched)
	fmt.Fprintf(tw, "New providers:\t%d\n", s.New)
	fmt.Fprintf(tw, "Duplicates merged:\t%d\n", s.Duplicates)
	fmt.Fprintf(tw, "Invalid:\t%d\n", s.Invalid)
	fmt.Fprintf(tw, "Errors:\t%d\n", s.Errored)
	fmt.Fprintf(tw, "Services extracted:\t%d\n", s.ServicesExtracted)
	if s.WebsitesFound > 0 {
		fmt.Fprintf(tw, "Websites found:\t%d\n", s.WebsitesFound)
	}
	if s.CompletedAt != nil {
		fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration().Round(10*time.Millisecond))
	}
	_ = tw.Flush()
}

func init() {
	searchCmd.Flags().StringVar(&searchCity, "city", "", "city to search, e.g. \"Austin, TX\"")
	searchCmd.Flags().StringVar(&searchCategory, "category", string(model.CategoryMassage), "service category")
	searchCmd.Flags().IntVar(&searchMaxResults, "max-results", 0, "maximum records per source (0 = scrape.max_results)")
	searchCmd.Flags().StringSliceVar(&searchAreas, "area", nil, "sub-areas to search instead of the city (repeatable)")
	searchCmd.Flags().StringArrayVar(&searchPoints, "point", nil, "nearby-search center as lat,lng[,radius_m] (repeatable)")
	searchCmd.Flags().StringArrayVar(&searchGrids, "grid", nil, "tile a circle with nearby searches: lat,lng,radius_km[,cell_km] (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchURLs, "url", nil, "provider websites to scrape (repeatable)")
	searchCmd.Flags().BoolVar(&searchWithSearch, "with-search", false, "also discover providers through Custom Search")
	searchCmd.Flags().BoolVar(&searchFillWebsites, "fill-websites", false, "look up websites for providers that have none")
	searchCmd.Flags().BoolVar(&searchCrawlWebsites, "crawl-websites", false, "scrape every provider website found")
	searchCmd.Flags().StringVar(&searchMetricsFile, "metrics-file", "", "write fetch metrics in textfile format")
	searchCmd.Flags().BoolVar(&searchReport, "report", false, "print a detailed run report")
	_ = searchCmd.MarkFlagRequired("city")
	rootCmd.AddCommand(searchCmd)
}
