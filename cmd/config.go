package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/provider-scraper/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(redacted(cfg)); err != nil {
			return eris.Wrap(err, "encode config")
		}
		return enc.Close()
	},
}

// redacted returns a copy of c with credentials masked.
func redacted(c *config.Config) config.Config {
	out := *c
	out.Google.PlacesKey = mask(c.Google.PlacesKey)
	out.Google.SearchKey = mask(c.Google.SearchKey)
	out.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
