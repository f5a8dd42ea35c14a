package crawl

import (
	"maps"
	"slices"
	"time"

	"github.com/law-makers/deepcrawl/internal/dispatcher"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Summary aggregates a run. Failed candidates are counted apart from
// successes; URLs are grouped by the depth they were fetched at.
type Summary struct {
	RunID     string    `json:"run_id"`
	Seed      string    `json:"seed"`
	StartedAt time.Time `json:"started_at"`

	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Filtered   int `json:"filtered"`
	Dispatched int `json:"dispatched"`
	Discovered int `json:"discovered"`

	FailedByKind map[models.ErrorKind]int `json:"failed_by_kind,omitempty"`
	ByDepth      map[int][]string         `json:"by_depth"`

	Duration   time.Duration    `json:"duration"`
	StopReason string           `json:"stop_reason"`
	Dispatcher dispatcher.Stats `json:"dispatcher"`
}

func newSummary(runID, seed string, started time.Time) Summary {
	return Summary{
		RunID:        runID,
		Seed:         seed,
		StartedAt:    started,
		FailedByKind: make(map[models.ErrorKind]int),
		ByDepth:      make(map[int][]string),
	}
}

// Depths returns the depths present, ascending.
func (s Summary) Depths() []int {
	return slices.Sorted(maps.Keys(s.ByDepth))
}

func (s Summary) clone() Summary {
	out := s
	out.FailedByKind = maps.Clone(s.FailedByKind)
	out.ByDepth = make(map[int][]string, len(s.ByDepth))
	for d, urls := range s.ByDepth {
		out.ByDepth[d] = slices.Clone(urls)
	}
	return out
}

func (c *Crawler) record(o *models.CrawlOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.summary
	s.Total++
	s.ByDepth[o.Candidate.Depth] = append(s.ByDepth[o.Candidate.Depth], o.Candidate.URL)
	switch {
	case o.Skipped():
		s.Skipped++
	case o.Succeeded():
		s.Succeeded++
	default:
		s.Failed++
		s.FailedByKind[o.ErrorKind]++
	}
}

func (c *Crawler) countFiltered() {
	c.mu.Lock()
	c.summary.Filtered++
	c.mu.Unlock()
}
