package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/discovery"
	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/pipeline"
	"github.com/sells-group/provider-scraper/internal/source"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"search", "fetch", "stats", "robots", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "provider-scraper", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSearchCommand_Flags(t *testing.T) {
	for _, name := range []string{"city", "category", "max-results", "area", "point", "url", "grid", "with-search", "fill-websites", "crawl-websites", "metrics-file"} {
		require.NotNil(t, searchCmd.Flags().Lookup(name), "search command should have --%s", name)
	}
	assert.Equal(t, "MASSAGE", searchCmd.Flags().Lookup("category").DefValue)
	assert.Equal(t, "0", searchCmd.Flags().Lookup("max-results").DefValue)
}

func TestRobotsCommand_Flags(t *testing.T) {
	require.NotNil(t, robotsCmd.Flags().Lookup("url"))
	require.NotNil(t, robotsCmd.Flags().Lookup("agent"))
}

func TestFetchCommand_Flags(t *testing.T) {
	require.NotNil(t, fetchCmd.Flags().Lookup("url"))
	require.NotNil(t, fetchCmd.Flags().Lookup("place-id"))
}

func TestParsePoints(t *testing.T) {
	pts, err := parsePoints([]string{"30.27,-97.74", " 30.3 , -97.7 , 2500 "})
	require.NoError(t, err)
	assert.Equal(t, []source.Point{
		{Lat: 30.27, Lng: -97.74},
		{Lat: 30.3, Lng: -97.7, RadiusM: 2500},
	}, pts)

	for _, bad := range []string{"30.27", "a,b", "1,2,x", "1,2,3,4"} {
		_, err := parsePoints([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseGrid(t *testing.T) {
	g, err := parseGrid("30.27,-97.74,5")
	require.NoError(t, err)
	assert.Equal(t, discovery.Grid{Lat: 30.27, Lng: -97.74, RadiusKM: 5}, g)

	g, err = parseGrid("30.27, -97.74, 5, 1.5")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, g.CellKM, 1e-9)

	for _, bad := range []string{"30.27,-97.74", "1,2,3,4,5", "1,2,x"} {
		_, err := parseGrid(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatRunSummary(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	stats := model.NewRunStats("run-1", "Austin, TX", model.CategoryNails, start)
	stats.New = 4
	stats.WebsitesFound = 2
	stats.Complete(start.Add(2 * time.Second))

	var buf bytes.Buffer
	formatRunSummary(&buf, &pipeline.Report{Stats: stats})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "NAILS")
	assert.Regexp(t, `New providers:\s+4`, out)
	assert.Regexp(t, `Websites found:\s+2`, out)
	assert.Regexp(t, `Duration:\s+2s`, out)
}

func TestFormatProviders(t *testing.T) {
	var buf bytes.Buffer
	formatProviders(&buf, []model.CandidateRecord{{
		Name: "Zen Massage", City: "Austin", Phone: "+15125550100",
		Provenance: make([]model.ProvenanceEntry, 2),
	}})
	assert.Contains(t, buf.String(), "NAME")
	assert.Regexp(t, `Zen Massage\s+Austin\s+\+15125550100\s+2`, buf.String())
}

func TestRedacted(t *testing.T) {
	c := &config.Config{}
	c.Google.PlacesKey = "secret"
	c.Store.DatabaseURL = "postgres://u:p@h/db"

	out := redacted(c)

	assert.Equal(t, "****", out.Google.PlacesKey)
	assert.Empty(t, out.Google.SearchKey)
	assert.Equal(t, "****", out.Store.DatabaseURL)
	assert.Equal(t, "secret", c.Google.PlacesKey)
}
