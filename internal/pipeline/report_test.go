package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/provider-scraper/internal/model"
)

func TestFormatReport(t *testing.T) {
	stats := model.NewRunStats("run-1", "Austin, TX", model.CategoryFacialsAndSkin, testNow)
	stats.Attempted = 4
	stats.New = 2
	stats.MaxErrors = 1
	stats.AddError(model.RunError{Source: model.SourceWebsite, URL: "https://a.test", Kind: "fetch", Message: "status 500"})
	stats.AddError(model.RunError{Source: model.SourceWebsite, Kind: "parse", Message: "no name"})
	stats.Complete(testNow.Add(1500 * time.Millisecond))

	out := FormatReport(&Report{
		Stats:     stats,
		Conflicts: 1,
		Sources: map[model.SourceKind]*SourceSummary{
			model.SourceWebsite:      {Results: 2, Errors: 2},
			model.SourceGooglePlaces: {Results: 2, Stopped: true},
		},
	})

	assert.Contains(t, out, "# Scrape Run: run-1")
	assert.Contains(t, out, "Category: Facials And Skin")
	assert.Contains(t, out, "Duration: 1.5s")
	assert.Contains(t, out, "- New providers: 2")
	assert.Contains(t, out, "- Phone/website conflicts: 1")
	assert.Contains(t, out, "- google_places: 2 results, 0 errors (stopped: quota)")
	assert.Contains(t, out, "- [website/fetch] status 500 (https://a.test)")
	assert.Contains(t, out, "- ... and 1 more")
	assert.Less(t, strings.Index(out, "google_places"), strings.Index(out, "- website:"))
}
