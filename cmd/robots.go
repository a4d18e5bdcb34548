package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/provider-scraper/internal/robots"
)

var (
	robotsURL   string
	robotsAgent string
)

var robotsCmd = &cobra.Command{
	Use:   "robots",
	Short: "Check whether robots.txt allows a URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cache := robots.New(robots.Options{
			UserAgent: cfg.HTTP.UserAgent,
			TTL:       cfg.Robots.CacheTTL(),
			CacheDir:  cfg.Robots.CacheDir,
			Respect:   true,
		})
		agent := robotsAgent
		if agent == "" {
			agent = cache.Agent()
		}

		ctx := cmd.Context()
		allowed := cache.CanFetch(ctx, robotsURL, agent)
		fmt.Fprintf(os.Stdout, "URL:     %s\n", robotsURL)
		fmt.Fprintf(os.Stdout, "Agent:   %s\n", agent)
		fmt.Fprintf(os.Stdout, "Allowed: %t\n", allowed)
		if d, ok := cache.CrawlDelay(ctx, robotsURL); ok {
			fmt.Fprintf(os.Stdout, "Crawl-delay: %s\n", d)
		}
		return nil
	},
}

func init() {
	robotsCmd.Flags().StringVar(&robotsURL, "url", "", "URL to check")
	robotsCmd.Flags().StringVar(&robotsAgent, "agent", "", "user agent token (default: configured agent)")
	_ = robotsCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(robotsCmd)
}
