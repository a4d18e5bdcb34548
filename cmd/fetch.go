package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-scraper/internal/normalize"
	"github.com/sells-group/provider-scraper/internal/source"
)

var (
	fetchURL     string
	fetchPlaceID string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one provider from a website or a Places id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d := newDeps(cfg)
		var (
			src source.Source = d.website
			id                = fetchURL
		)
		if fetchPlaceID != "" {
			src, id = d.places, fetchPlaceID
		}
		if id == "" {
			return eris.New("fetch: one of --url or --place-id is required")
		}

		res := src.Fetch(ctx, id)
		if !res.OK() {
			return eris.Wrapf(res.Err, "fetch %s", id)
		}

		rec := normalize.NewNormalizer(nil).Normalize(*res.Record)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchURL, "url", "", "provider website URL")
	fetchCmd.Flags().StringVar(&fetchPlaceID, "place-id", "", "Google Places id")
	fetchCmd.MarkFlagsMutuallyExclusive("url", "place-id")
	rootCmd.AddCommand(fetchCmd)
}
