package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/store"
)

var statsRunID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the latest run, or the providers of one run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if statsRunID != "" {
			recs, err := st.RunRecords(ctx, statsRunID)
			if err != nil {
				return eris.Wrap(err, "stats")
			}
			formatProviders(os.Stdout, recs)
			return nil
		}

		latest, err := st.LatestRun(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		if latest == nil {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunStats(os.Stdout, latest)
		return nil
	},
}

func formatRunStats(w io.Writer, s *model.RunStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Latest run:")
	fmt.Fprintf(tw, "  Run ID:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "  Location:\t%s\n", s.Location)
	fmt.Fprintf(tw, "  Category:\t%s\n", s.Category)
	fmt.Fprintf(tw, "  Started:\t%s\n", s.StartedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		fmt.Fprintf(tw, "  Completed:\t%s\n", s.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "  Attempted:\t%d\n", s.Attempted)
	fmt.Fprintf(tw, "  New providers:\t%d\n", s.New)
	fmt.Fprintf(tw, "  Duplicates merged:\t%d\n", s.Duplicates)
	fmt.Fprintf(tw, "  Errors:\t%d\n", s.Errored)
	_ = tw.Flush()
}

func formatProviders(w io.Writer, recs []model.CandidateRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCITY\tPHONE\tWEBSITE\tSOURCES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Name, r.City, r.Phone, r.WebsiteURL, len(r.Provenance))
	}
	_ = tw.Flush()
}

func init() {
	statsCmd.Flags().StringVar(&statsRunID, "run-id", "", "list the providers saved by this run")
	rootCmd.AddCommand(statsCmd)
}
