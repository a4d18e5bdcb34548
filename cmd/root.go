package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "provider-scraper",
	Short:        "Wellness provider acquisition and reconciliation",
	Long:         "Finds wellness providers through Google Places, Custom Search and their own websites, merges duplicate sightings and stores the canonical records.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		switch cmd.Name() {
		case "search", "fetch", "stats", "robots", "config":
			return cfg.Validate(cmd.Name())
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
