// Package ratelimit paces requests per domain and backs off when a server
// signals it is being overwhelmed.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter is the contract the dispatcher uses around every fetch.
type RateLimiter interface {
	// Wait blocks until a request for the given URL may be sent.
	Wait(ctx context.Context, urlStr string) error

	// Update records the status code of the response for the URL's domain.
	Update(urlStr string, statusCode int) Outcome
}

// State is the per-domain pacing state.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateSending
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateSending:
		return "sending"
	case StateBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// Config parameterizes a Limiter.
type Config struct {
	// Enabled turns on base-range pacing between same-domain requests.
	// Backoff after rate-limit responses applies regardless.
	Enabled        bool
	BaseDelayMin   time.Duration
	BaseDelayMax   time.Duration
	MaxDelay       time.Duration
	BackoffBase    time.Duration
	MaxRetries     int
	RateLimitCodes []int

	// RequestsPerSecond adds a steady token bucket per host; 0 disables it.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the stock pacing parameters.
func DefaultConfig() Config {
	return Config{
		BaseDelayMin:   1 * time.Second,
		BaseDelayMax:   3 * time.Second,
		MaxDelay:       60 * time.Second,
		BackoffBase:    1 * time.Second,
		MaxRetries:     3,
		RateLimitCodes: []int{429, 503},
	}
}

// Outcome describes what Update decided for a response.
type Outcome struct {
	RateLimited bool
	Hits        int
	Delay       time.Duration
}

// DomainSnapshot is a read-only copy of a domain's state.
type DomainSnapshot struct {
	State         State
	CurrentDelay  time.Duration
	Hits          int
	LastRequestAt time.Time
}

type domainState struct {
	mu            sync.Mutex
	state         State
	currentDelay  time.Duration
	hits          int
	lastRequestAt time.Time
	steady        *rate.Limiter
}

// Limiter keeps independent pacing state for every domain it has seen.
// Requests to different domains never contend on the same lock.
type Limiter struct {
	cfg     Config
	domains map[string]*domainState
	mu      sync.RWMutex

	jitter  func() float64
	uniform func() float64
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithJitter replaces the backoff jitter source. It must return values in [0.75, 1.25].
func WithJitter(fn func() float64) Option {
	return func(l *Limiter) { l.jitter = fn }
}

// WithUniform replaces the [0,1) source used to sample the base delay.
func WithUniform(fn func() float64) Option {
	return func(l *Limiter) { l.uniform = fn }
}

// WithClock replaces the clock and sleep functions.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BaseDelayMax < cfg.BaseDelayMin {
		cfg.BaseDelayMax = cfg.BaseDelayMin
	}
	if len(cfg.RateLimitCodes) == 0 {
		cfg.RateLimitCodes = []int{429, 503}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	l := &Limiter{
		cfg:     cfg,
		domains: make(map[string]*domainState),
		jitter:  func() float64 { return 0.75 + rand.Float64()*0.5 },
		uniform: rand.Float64,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limiter's parameters.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Wait reserves the next send slot for the URL's domain and sleeps until it.
// The reservation happens under the domain lock so concurrent callers for one
// domain are spaced out; the sleep happens outside it.
func (l *Limiter) Wait(ctx context.Context, urlStr string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	domain := extractDomain(urlStr)
	if domain == "" {
		// Invalid URL, let it proceed (will fail elsewhere)
		return nil
	}
	ds := l.getDomain(domain)

	ds.mu.Lock()
	var delay time.Duration
	switch {
	case ds.state == StateBackoff:
		delay = ds.currentDelay
	case l.cfg.Enabled:
		ds.currentDelay = l.sampleBase()
		delay = ds.currentDelay
	}
	now := l.now()
	sendAt := now
	if !ds.lastRequestAt.IsZero() {
		if next := ds.lastRequestAt.Add(delay); next.After(sendAt) {
			sendAt = next
		}
	}
	ds.lastRequestAt = sendAt
	wait := sendAt.Sub(now)
	if wait > 0 {
		ds.state = StateWaiting
	}
	ds.mu.Unlock()

	if wait > 0 {
		log.Debug().
			Str("domain", domain).
			Dur("delay", wait).
			Msg("Waiting for domain rate limit")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if ds.steady != nil {
		if err := ds.steady.Wait(ctx); err != nil {
			return err
		}
	}

	ds.mu.Lock()
	ds.state = StateSending
	ds.mu.Unlock()
	return nil
}

// Update applies a response status to the domain state. Rate-limit statuses
// grow the delay exponentially; anything else resets it to the base range.
func (l *Limiter) Update(urlStr string, statusCode int) Outcome {
	domain := extractDomain(urlStr)
	if domain == "" {
		return Outcome{}
	}
	ds := l.getDomain(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if l.IsRateLimitCode(statusCode) {
		ds.hits++
		ds.currentDelay = BackoffDelay(l.cfg.BackoffBase, l.cfg.MaxDelay, ds.hits, l.jitter())
		ds.state = StateBackoff

		log.Debug().
			Str("domain", domain).
			Int("status", statusCode).
			Int("hits", ds.hits).
			Dur("delay", ds.currentDelay).
			Msg("Rate limited, backing off")

		return Outcome{RateLimited: true, Hits: ds.hits, Delay: ds.currentDelay}
	}

	ds.hits = 0
	ds.currentDelay = l.sampleBase()
	ds.state = StateIdle
	return Outcome{Delay: ds.currentDelay}
}

// Abandon returns a domain to idle after a request that produced no response.
// The consecutive-hit counter is left untouched.
func (l *Limiter) Abandon(urlStr string) {
	domain := extractDomain(urlStr)
	if domain == "" {
		return
	}
	ds := l.getDomain(domain)
	ds.mu.Lock()
	if ds.state != StateBackoff {
		ds.state = StateIdle
	}
	ds.mu.Unlock()
}

// Do runs fetch under the domain's pacing, retrying rate-limited responses up
// to MaxRetries times. The (MaxRetries+1)-th consecutive rate-limited response
// yields an *ExhaustedError.
func (l *Limiter) Do(ctx context.Context, urlStr string, fetch func(ctx context.Context) (int, error)) (int, error) {
	for attempt := 1; ; attempt++ {
		if err := l.Wait(ctx, urlStr); err != nil {
			return attempt - 1, err
		}

		status, err := fetch(ctx)
		if status == 0 {
			l.Abandon(urlStr)
			return attempt, err
		}

		out := l.Update(urlStr, status)
		if !out.RateLimited {
			return attempt, err
		}
		if attempt > l.cfg.MaxRetries {
			log.Warn().
				Str("url", urlStr).
				Int("attempts", attempt).
				Int("status", status).
				Msg("Rate limit retry budget exhausted")
			return attempt, &ExhaustedError{URL: urlStr, Attempts: attempt, LastStatus: status}
		}

		log.Debug().
			Str("url", urlStr).
			Int("attempt", attempt).
			Int("max_retries", l.cfg.MaxRetries).
			Dur("backoff", out.Delay).
			Msg("Retrying rate-limited request")
	}
}

// Snapshot returns a copy of the domain's state; ok is false for unseen domains.
func (l *Limiter) Snapshot(domain string) (DomainSnapshot, bool) {
	l.mu.RLock()
	ds, exists := l.domains[strings.ToLower(domain)]
	l.mu.RUnlock()
	if !exists {
		return DomainSnapshot{}, false
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return DomainSnapshot{
		State:         ds.state,
		CurrentDelay:  ds.currentDelay,
		Hits:          ds.hits,
		LastRequestAt: ds.lastRequestAt,
	}, true
}

// IsRateLimitCode reports whether status is in the configured rate-limit set.
func (l *Limiter) IsRateLimitCode(status int) bool {
	return slices.Contains(l.cfg.RateLimitCodes, status)
}

// BackoffDelay is min(maxDelay, base * 2^hits * jitter).
func BackoffDelay(base, maxDelay time.Duration, hits int, jitter float64) time.Duration {
	d := float64(base) * math.Pow(2, float64(hits)) * jitter
	if d > float64(maxDelay) || math.IsInf(d, 1) {
		return maxDelay
	}
	return time.Duration(d)
}

func (l *Limiter) sampleBase() time.Duration {
	span := l.cfg.BaseDelayMax - l.cfg.BaseDelayMin
	if span <= 0 {
		return l.cfg.BaseDelayMin
	}
	return l.cfg.BaseDelayMin + time.Duration(l.uniform()*float64(span))
}

// getDomain returns or creates the state for the given domain
func (l *Limiter) getDomain(domain string) *domainState {
	l.mu.RLock()
	ds, exists := l.domains[domain]
	l.mu.RUnlock()

	if exists {
		return ds
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if ds, exists := l.domains[domain]; exists {
		return ds
	}

	ds = &domainState{}
	if l.cfg.RequestsPerSecond > 0 {
		ds.steady = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	}
	l.domains[domain] = ds
	return ds
}

// ExhaustedError reports a candidate whose rate-limit retry budget ran out.
type ExhaustedError struct {
	URL        string
	Attempts   int
	LastStatus int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("rate limit retries exhausted for %s after %d attempts (last status %d)", e.URL, e.Attempts, e.LastStatus)
}

// GetStatusCode implements retry.StatusCoder.
func (e *ExhaustedError) GetStatusCode() int {
	return e.LastStatus
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extractDomain extracts the domain from a URL string
func extractDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
