package output

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/law-makers/deepcrawl/internal/crawl"
	"github.com/law-makers/deepcrawl/internal/ui"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// summaryPreview is how many URLs are listed per depth.
const summaryPreview = 5

// SummaryOptions adds sink details to the printed summary.
type SummaryOptions struct {
	MarkdownDir   string
	MarkdownFiles int
	SaveMarkdown  bool
}

// WriteSummary prints the crawl summary grouped by depth.
func WriteSummary(w io.Writer, s crawl.Summary, opts SummaryOptions) {
	fmt.Fprintf(w, "\n%s\n\n", ui.Bold("===== CRAWL RESULTS ====="))
	fmt.Fprintf(w, "  %s\n", ui.Field("Total pages crawled:", fmt.Sprint(s.Total)))
	fmt.Fprintf(w, "  %s %s\n", ui.ColorBold+"Succeeded:"+ui.ColorReset, ui.Success(fmt.Sprintf("%d", s.Succeeded)))
	fmt.Fprintf(w, "  %s %s\n", ui.ColorBold+"Failed:"+ui.ColorReset, ui.Error(fmt.Sprintf("%d", s.Failed)))
	for _, kind := range sortedKinds(s.FailedByKind) {
		fmt.Fprintf(w, "    %s %d\n", ui.ColorDim+string(kind)+":"+ui.ColorReset, s.FailedByKind[kind])
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  %s %s\n", ui.ColorBold+"Skipped:"+ui.ColorReset, ui.Info(fmt.Sprintf("%d", s.Skipped)))
	}
	if s.Filtered > 0 {
		fmt.Fprintf(w, "  %s %s\n", ui.ColorBold+"Filtered out:"+ui.ColorReset, ui.Info(fmt.Sprintf("%d", s.Filtered)))
	}
	fmt.Fprintf(w, "  %s\n", ui.Field("Duration:", s.Duration.Round(time.Millisecond).String()))
	fmt.Fprintf(w, "  %s %s\n", ui.ColorBold+"Stopped:"+ui.ColorReset, ui.ColorDim+s.StopReason+ui.ColorReset)
	if d := s.Dispatcher; d.Policy != "" {
		line := fmt.Sprintf("%s, peak %d of %d", d.Policy, d.Peak, d.Capacity)
		if d.PressureEvents > 0 {
			line += fmt.Sprintf(", paused %s under memory pressure", d.PressureBlocked.Round(time.Millisecond))
		}
		fmt.Fprintf(w, "  %s\n", ui.Field("Dispatcher:", line))
	}

	for _, depth := range s.Depths() {
		urls := s.ByDepth[depth]
		fmt.Fprintf(w, "\n%s %s\n", ui.Bold(fmt.Sprintf("Depth %d:", depth)), ui.ColorWhite+fmt.Sprintf("%d pages", len(urls))+ui.ColorReset)
		for _, u := range urls[:min(len(urls), summaryPreview)] {
			fmt.Fprintf(w, "  %s→%s %s\n", ui.ColorDim, ui.ColorReset, u)
		}
		if len(urls) > summaryPreview {
			fmt.Fprintf(w, "  %s\n", ui.Info(fmt.Sprintf("... and %d more", len(urls)-summaryPreview)))
		}
	}

	switch {
	case opts.SaveMarkdown && opts.MarkdownFiles > 0:
		fmt.Fprintf(w, "\n%s %s\n", ui.Success("✓ Markdown files saved to:"), ui.ColorWhite+opts.MarkdownDir+ui.ColorReset)
	case opts.SaveMarkdown:
		fmt.Fprintf(w, "\n%s\n", ui.Info("No markdown content was generated for any of the crawled pages."))
	}
}

// WriteSummaryJSON writes the summary as indented JSON.
func WriteSummaryJSON(w io.Writer, s crawl.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func sortedKinds(m map[models.ErrorKind]int) []models.ErrorKind {
	kinds := make([]models.ErrorKind, 0, len(m))
	for k, n := range m {
		if n > 0 {
			kinds = append(kinds, k)
		}
	}
	slices.Sort(kinds)
	return kinds
}
