package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/provider-scraper/internal/model"
)

// FormatReport renders a human-readable run summary.
func FormatReport(rep *Report) string {
	var b strings.Builder
	s := rep.Stats

	fmt.Fprintf(&b, "# Scrape Run: %s\n", s.RunID)
	fmt.Fprintf(&b, "Location: %s\n", s.Location)
	fmt.Fprintf(&b, "Category: %s\n", s.Category.DisplayName())
	if s.CompletedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\n", s.Duration().Round(time.Millisecond))
	}
	b.WriteString("\n")

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Attempted: %d\n", s.Attempted)
	fmt.Fprintf(&b, "- Fetched: %d\n", s.Fetched)
	fmt.Fprintf(&b, "- New providers: %d\n", s.New)
	fmt.Fprintf(&b, "- Duplicates merged: %d\n", s.Duplicates)
	fmt.Fprintf(&b, "- Invalid: %d\n", s.Invalid)
	fmt.Fprintf(&b, "- Errors: %d\n", s.Errored)
	fmt.Fprintf(&b, "- Services extracted: %d\n", s.ServicesExtracted)
	if s.WebsitesFound > 0 {
		fmt.Fprintf(&b, "- Websites found: %d\n", s.WebsitesFound)
	}
	if rep.Conflicts > 0 {
		fmt.Fprintf(&b, "- Phone/website conflicts: %d\n", rep.Conflicts)
	}
	b.WriteString("\n")

	if len(rep.Sources) > 0 {
		b.WriteString("## Sources\n")
		kinds := make([]model.SourceKind, 0, len(rep.Sources))
		for k := range rep.Sources {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i].Priority() > kinds[j].Priority() })
		for _, k := range kinds {
			sum := rep.Sources[k]
			fmt.Fprintf(&b, "- %s: %d results, %d errors", k, sum.Results, sum.Errors)
			if sum.Stopped {
				b.WriteString(" (stopped: quota)")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(s.Errors) > 0 {
		b.WriteString("## Errors\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "- [%s/%s] %s", e.Source, e.Kind, e.Message)
			if e.URL != "" {
				fmt.Fprintf(&b, " (%s)", e.URL)
			}
			b.WriteString("\n")
		}
		if s.Errored > len(s.Errors) {
			fmt.Fprintf(&b, "- ... and %d more\n", s.Errored-len(s.Errors))
		}
	}

	return b.String()
}
