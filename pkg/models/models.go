package models

import (
	"strings"
	"time"
)

// CrawlCandidate is a URL discovered during a crawl, waiting to be resolved.
type CrawlCandidate struct {
	URL          string    `json:"url"`
	Depth        int       `json:"depth"`
	ParentURL    string    `json:"parent_url,omitempty"`
	Score        float64   `json:"score,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Seed is a scored starting URL produced by a seeder.
type Seed struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// ErrorKind classifies why a candidate did not produce content.
type ErrorKind string

const (
	ErrKindNone                 ErrorKind = ""
	ErrKindFilterRejected       ErrorKind = "filter_rejected"
	ErrKindFetchFailed          ErrorKind = "fetch_failed"
	ErrKindRateLimitExhausted   ErrorKind = "rate_limit_exhausted"
	ErrKindFilterStrategyFailed ErrorKind = "filter_strategy_failed"
	ErrKindConfigInvalid        ErrorKind = "config_invalid"
)

// FetchRequest carries the per-URL options handed to a fetcher.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// Scroll enables virtual scroll reconciliation on fetchers that support it.
	Scroll *ScrollOptions

	// PDF accepts application/pdf responses as documents instead of rejecting them.
	PDF bool
}

// ScrollOptions configures the virtual scroll reconciler.
type ScrollOptions struct {
	ContainerSelector string        `json:"container_selector" yaml:"container_selector"`
	ItemSelector      string        `json:"item_selector" yaml:"item_selector"`
	MaxScrolls        int           `json:"max_scrolls" yaml:"max_scrolls"`
	WaitAfterScroll   time.Duration `json:"wait_after_scroll" yaml:"wait_after_scroll"`
}

// FetchResult is what a fetcher returns for one candidate.
type FetchResult struct {
	Candidate      CrawlCandidate    `json:"candidate"`
	URL            string            `json:"url"`
	StatusCode     int               `json:"status_code"`
	ContentType    string            `json:"content_type,omitempty"`
	Title          string            `json:"title,omitempty"`
	RawContent     string            `json:"-"`
	Headers        map[string]string `json:"headers,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Links          []string          `json:"links,omitempty"`
	ExtractedLinks []CrawlCandidate  `json:"extracted_links,omitempty"`
	Success        bool              `json:"success"`
	ErrorKind      ErrorKind         `json:"error_kind,omitempty"`
	Error          string            `json:"error,omitempty"`
	Attempts       int               `json:"attempts"`
	FromCache      bool              `json:"from_cache,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
	ResponseTime   int64             `json:"response_time_ms"`
}

// MediaType returns the content type without parameters, lower-cased.
func (r *FetchResult) MediaType() string {
	ct := r.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsHTML reports whether the response body is an HTML document.
func (r *FetchResult) IsHTML() bool {
	mt := r.MediaType()
	return mt == "" || mt == "text/html" || mt == "application/xhtml+xml"
}

// ChunkStatus records the outcome of one chunk of an LLM-filtered document.
type ChunkStatus struct {
	Index   int    `json:"index"`
	Tokens  int    `json:"tokens"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FilteredContent is the output of the content filter pipeline for one page.
type FilteredContent struct {
	Strategy     string             `json:"strategy"`
	FilteredText string             `json:"filtered_text"`
	FitMarkdown  string             `json:"fit_markdown,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Chunks       []ChunkStatus      `json:"chunks,omitempty"`
	Partial      bool               `json:"partial,omitempty"`
}

// CrawlOutcome is a resolved candidate handed to sinks and reporting.
type CrawlOutcome struct {
	Candidate   CrawlCandidate   `json:"candidate"`
	Result      *FetchResult     `json:"result,omitempty"`
	RawMarkdown string           `json:"raw_markdown,omitempty"`
	Filtered    *FilteredContent `json:"filtered,omitempty"`
	ErrorKind   ErrorKind        `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Succeeded reports whether the candidate produced usable content.
func (o *CrawlOutcome) Succeeded() bool {
	return o.ErrorKind == ErrKindNone && o.Result != nil && o.Result.Success
}

// Skipped reports whether the candidate was excluded after its response arrived.
func (o *CrawlOutcome) Skipped() bool {
	return o.ErrorKind == ErrKindFilterRejected
}
