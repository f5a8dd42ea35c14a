// Package crawl runs a breadth-first deep crawl from one or more seeds.
//
// Every candidate flows through the same pipeline: pre-fetch filters,
// dispatcher admission, a paced fetch, the post-fetch content-type check,
// content filtering, and outlink expansion into the next depth level. A level
// is fully resolved before the next one is admitted.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/internal/content"
	"github.com/law-makers/deepcrawl/internal/dispatcher"
	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/internal/filter"
	"github.com/law-makers/deepcrawl/internal/ratelimit"
	"github.com/law-makers/deepcrawl/internal/reqctx"
	urlutil "github.com/law-makers/deepcrawl/internal/utils/url"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// State is the crawl lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateDraining means the page budget is spent: in-flight work finishes,
	// nothing new is admitted.
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Dispatcher admits workers and paces their fetches.
// *dispatcher.Dispatcher implements it.
type Dispatcher interface {
	Acquire(ctx context.Context) (dispatcher.Slot, error)
	Release(dispatcher.Slot)
	Execute(ctx context.Context, urlStr string, fetch func(ctx context.Context) (int, error)) (int, error)
	Stats() dispatcher.Stats
}

// Options configures a crawl.
type Options struct {
	MaxDepth int
	// MaxPages caps dispatched candidates; 0 means unlimited.
	MaxPages int
	// Request is the template for every fetch; URL is filled per candidate.
	Request models.FetchRequest
	// BufferSize bounds the outcome channel.
	BufferSize int

	Seeder       Seeder
	MinSeedScore float64
}

// Crawler owns the state of one crawl run. It is single use.
type Crawler struct {
	fetcher    engine.Fetcher
	chain      *filter.Chain
	dispatcher Dispatcher
	pipeline   *content.Pipeline
	opts       Options

	visited    *visitedSet
	dispatched atomic.Int64
	state      atomic.Int32
	started    atomic.Bool

	mu      sync.Mutex
	summary Summary
	err     error
	log     zerolog.Logger
}

// New creates a crawler. pipeline may be nil to skip content filtering.
func New(fetcher engine.Fetcher, chain *filter.Chain, d Dispatcher, pipeline *content.Pipeline, opts Options) *Crawler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if pipeline == nil {
		pipeline = content.NewPipeline(nil, nil, false)
	}
	return &Crawler{
		fetcher:    fetcher,
		chain:      chain,
		dispatcher: d,
		pipeline:   pipeline,
		opts:       opts,
		visited:    newVisitedSet(),
		log:        log.Logger,
	}
}

// State reports the current lifecycle state.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

// Stream starts the crawl and returns outcomes in completion order. The
// channel closes when the crawl is done; Summary and Err are final after that.
func (c *Crawler) Stream(ctx context.Context, seedURLs ...string) (<-chan *models.CrawlOutcome, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	ctx = reqctx.WithRun(ctx)
	run := reqctx.FromContext(ctx)
	c.log = reqctx.Logger(ctx, log.Logger)

	seeds, err := c.seeds(ctx, seedURLs)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, &Error{Kind: models.ErrKindConfigInvalid, Err: errors.New("no valid seed URL")}
	}

	c.summary = newSummary(run.ID, seeds[0].URL, run.StartTime)
	c.state.Store(int32(StateRunning))

	out := make(chan *models.CrawlOutcome, c.opts.BufferSize)
	go c.run(ctx, seeds, out)
	return out, nil
}

// Run crawls to completion and returns every outcome.
func (c *Crawler) Run(ctx context.Context, seedURLs ...string) ([]*models.CrawlOutcome, *Summary, error) {
	stream, err := c.Stream(ctx, seedURLs...)
	if err != nil {
		return nil, nil, err
	}
	var outcomes []*models.CrawlOutcome
	for o := range stream {
		outcomes = append(outcomes, o)
	}
	s := c.Summary()
	return outcomes, &s, c.Err()
}

// Summary returns a copy of the run summary.
func (c *Crawler) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary.clone()
}

// Err returns the fatal error that stopped the crawl, if any.
func (c *Crawler) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Crawler) seeds(ctx context.Context, seedURLs []string) ([]models.CrawlCandidate, error) {
	scored := make([]models.Seed, 0, len(seedURLs))
	for _, u := range seedURLs {
		scored = append(scored, models.Seed{URL: u})
	}
	if c.opts.Seeder != nil {
		extra, err := c.opts.Seeder.Seeds(ctx)
		if err != nil {
			return nil, fmt.Errorf("seeder: %w", err)
		}
		for _, s := range extra {
			if s.Score < c.opts.MinSeedScore {
				c.log.Debug().Str("url", s.URL).Float64("score", s.Score).Msg("Seed below minimum score")
				continue
			}
			scored = append(scored, s)
		}
	}

	now := time.Now()
	var out []models.CrawlCandidate
	for _, s := range scored {
		norm, err := urlutil.Normalize(s.URL)
		if err != nil {
			c.log.Warn().Str("url", s.URL).Err(err).Msg("Skipping invalid seed")
			continue
		}
		if c.visited.Add(norm, 0) {
			out = append(out, models.CrawlCandidate{URL: norm, Depth: 0, Score: s.Score, DiscoveredAt: now})
		}
	}
	return out, nil
}

func (c *Crawler) run(ctx context.Context, frontier []models.CrawlCandidate, out chan<- *models.CrawlOutcome) {
	defer close(out)
	defer c.finish(ctx)

	c.log.Info().
		Int("seeds", len(frontier)).
		Int("max_depth", c.opts.MaxDepth).
		Int("max_pages", c.opts.MaxPages).
		Msg("Crawl started")

	level := c.admitSeeds(ctx, frontier)
	for depth := 0; len(level) > 0; depth++ {
		if ctx.Err() != nil {
			return
		}
		c.log.Debug().Int("depth", depth).Int("candidates", len(level)).Msg("Starting depth level")

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			next []models.CrawlCandidate
		)
		for _, cand := range level {
			if !c.reserve() {
				c.drain("page budget reached")
				break
			}
			slot, err := c.dispatcher.Acquire(ctx)
			if err != nil {
				c.unreserve()
				if errors.Is(err, dispatcher.ErrSamplerFailed) {
					c.fail(err)
				}
				break
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.dispatcher.Release(slot)

				outcome, links := c.process(ctx, cand)
				c.record(outcome)
				select {
				case out <- outcome:
				case <-ctx.Done():
				}

				mu.Lock()
				next = append(next, links...)
				mu.Unlock()
			}()
		}
		wg.Wait()

		if c.Err() != nil || c.State() == StateDraining {
			return
		}
		if !c.budgetLeft() {
			c.drain("page budget reached")
			return
		}
		level = next
	}
}

// admitSeeds runs the pre-fetch filters over the seeds.
func (c *Crawler) admitSeeds(ctx context.Context, seeds []models.CrawlCandidate) []models.CrawlCandidate {
	var level []models.CrawlCandidate
	for _, s := range seeds {
		if d := c.chain.Accepts(ctx, s); !d.Accepted {
			c.countFiltered()
			continue
		}
		level = append(level, s)
	}
	return level
}

func (c *Crawler) reserve() bool {
	if c.opts.MaxPages <= 0 {
		c.dispatched.Add(1)
		return true
	}
	for {
		n := c.dispatched.Load()
		if n >= int64(c.opts.MaxPages) {
			return false
		}
		if c.dispatched.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (c *Crawler) unreserve() {
	c.dispatched.Add(-1)
}

func (c *Crawler) budgetLeft() bool {
	return c.opts.MaxPages <= 0 || c.dispatched.Load() < int64(c.opts.MaxPages)
}

func (c *Crawler) drain(reason string) {
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		c.log.Info().Str("reason", reason).Int64("dispatched", c.dispatched.Load()).Msg("Crawl draining")
		c.mu.Lock()
		c.summary.StopReason = reason
		c.mu.Unlock()
	}
}

func (c *Crawler) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		c.summary.StopReason = err.Error()
	}
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("Crawl aborted")
}

func (c *Crawler) finish(ctx context.Context) {
	c.state.Store(int32(StateDone))

	c.mu.Lock()
	if c.err == nil && ctx.Err() != nil {
		c.err = reqctx.NewRunError(ctx, ctx.Err())
		c.summary.StopReason = "canceled"
	}
	if c.summary.StopReason == "" {
		c.summary.StopReason = "frontier exhausted"
	}
	c.summary.Duration = time.Since(c.summary.StartedAt)
	c.summary.Dispatched = int(c.dispatched.Load())
	c.summary.Discovered = c.visited.Len()
	c.summary.Dispatcher = c.dispatcher.Stats()
	s := c.summary
	c.mu.Unlock()

	c.log.Info().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Dur("duration", s.Duration).
		Str("reason", s.StopReason).
		Msg("Crawl finished")
}

// process runs one candidate's fetch, filter and expand pipeline.
func (c *Crawler) process(ctx context.Context, cand models.CrawlCandidate) (*models.CrawlOutcome, []models.CrawlCandidate) {
	outcome := &models.CrawlOutcome{Candidate: cand}

	req := c.opts.Request
	req.URL = cand.URL

	var result *models.FetchResult
	attempts, err := c.dispatcher.Execute(ctx, cand.URL, func(ctx context.Context) (int, error) {
		r, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return 0, err
		}
		result = r
		return r.StatusCode, nil
	})

	if result != nil {
		result.Candidate = cand
		result.Attempts = attempts
		outcome.Result = result
	}

	var exhausted *ratelimit.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return c.failed(outcome, models.ErrKindRateLimitExhausted, err), nil
	case err != nil:
		return c.failed(outcome, models.ErrKindFetchFailed, err), nil
	case result == nil:
		return c.failed(outcome, models.ErrKindFetchFailed, errors.New("fetcher returned no result")), nil
	case result.ErrorKind == models.ErrKindFilterRejected:
		return c.skipped(outcome, result.Error), nil
	case !result.Success:
		return c.failed(outcome, models.ErrKindFetchFailed, errors.New(result.Error)), nil
	}

	if d := c.chain.AcceptsResponse(result.ContentType); !d.Accepted {
		return c.skipped(outcome, d.Reason), nil
	}

	// Redirect targets count as visited too.
	if final, err := urlutil.Normalize(result.URL); err == nil && final != cand.URL {
		c.visited.Add(final, cand.Depth)
	}

	switch {
	case result.IsHTML():
		c.filterContent(ctx, outcome, result.RawContent)
	case result.MediaType() == "application/pdf":
	case c.pipeline.Strategy() == content.StrategyNone:
		outcome.RawMarkdown = result.RawContent
	default:
		// Plain text goes through the active filter as a single block.
		c.filterContent(ctx, outcome, "<pre>"+html.EscapeString(result.RawContent)+"</pre>")
	}

	links := c.expand(ctx, cand, result)

	c.log.Debug().
		Str("url", cand.URL).
		Int("depth", cand.Depth).
		Int("status", result.StatusCode).
		Int("attempts", attempts).
		Bool("cached", result.FromCache).
		Int("enqueued", len(links)).
		Msg("Candidate resolved")
	return outcome, links
}

func (c *Crawler) filterContent(ctx context.Context, outcome *models.CrawlOutcome, body string) {
	result := outcome.Result
	raw, filtered, err := c.pipeline.Process(ctx, &content.Document{
		URL:      result.URL,
		HTML:     body,
		Title:    result.Title,
		Metadata: result.Metadata,
	})
	outcome.RawMarkdown = raw
	outcome.Filtered = filtered
	if err != nil {
		c.failed(outcome, models.ErrKindFilterStrategyFailed, err)
	}
}

// expand turns outlinks into next-level candidates: depth-bounded, filtered,
// and new to this run.
func (c *Crawler) expand(ctx context.Context, parent models.CrawlCandidate, result *models.FetchResult) []models.CrawlCandidate {
	depth := parent.Depth + 1
	if depth > c.opts.MaxDepth || len(result.Links) == 0 {
		return nil
	}

	now := time.Now()
	var next []models.CrawlCandidate
	for _, link := range result.Links {
		norm, err := urlutil.Normalize(link)
		if err != nil {
			continue
		}
		cand := models.CrawlCandidate{URL: norm, Depth: depth, ParentURL: parent.URL, DiscoveredAt: now}
		result.ExtractedLinks = append(result.ExtractedLinks, cand)

		if !c.budgetLeft() || c.visited.Has(norm) {
			continue
		}
		if d := c.chain.Accepts(ctx, cand); !d.Accepted {
			c.countFiltered()
			continue
		}
		if c.visited.Add(norm, depth) {
			next = append(next, cand)
		}
	}
	return next
}

func (c *Crawler) failed(o *models.CrawlOutcome, kind models.ErrorKind, err error) *models.CrawlOutcome {
	ce := &Error{Kind: kind, URL: o.Candidate.URL, Err: err}
	o.ErrorKind = kind
	o.Error = ce.Error()
	c.log.Debug().Err(ce).Int("depth", o.Candidate.Depth).Msg("Candidate failed")
	return o
}

func (c *Crawler) skipped(o *models.CrawlOutcome, reason string) *models.CrawlOutcome {
	o.ErrorKind = models.ErrKindFilterRejected
	o.Error = reason
	c.log.Debug().Str("url", o.Candidate.URL).Str("reason", reason).Msg("Candidate skipped after fetch")
	return o
}
