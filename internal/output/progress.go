package output

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// ProgressSink shows a live counter of resolved pages. With a page budget the
// bar is bounded; otherwise it renders as a spinner.
type ProgressSink struct {
	bar *progressbar.ProgressBar

	succeeded, failed, skipped int
}

// NewProgressSink renders to w. max is the page budget, or <= 0 if unbounded.
func NewProgressSink(w io.Writer, max int) *ProgressSink {
	total := int64(max)
	if max <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &ProgressSink{bar: bar}
}

func (s *ProgressSink) Write(_ context.Context, o *models.CrawlOutcome) error {
	switch {
	case o.Succeeded():
		s.succeeded++
	case o.Skipped():
		s.skipped++
	default:
		s.failed++
	}
	s.bar.Describe(fmt.Sprintf("depth %d · ok %d · failed %d · skipped %d",
		o.Candidate.Depth, s.succeeded, s.failed, s.skipped))
	return s.bar.Add(1)
}

func (s *ProgressSink) Close() error {
	return s.bar.Finish()
}
