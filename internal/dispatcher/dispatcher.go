// Package dispatcher decides when a crawl worker may start fetching.
//
// Two admission policies share one Acquire/Release contract:
//   - Semaphore: a fixed number of concurrent slots
//   - MemoryAdaptive: a slot cap that also closes while system memory is
//     above a threshold
//
// The Dispatcher wraps a policy together with the per-domain rate limiter, so
// a worker holds its slot while it waits out rate-limit delays.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind selects an admission policy.
type Kind string

const (
	KindSemaphore Kind = "semaphore"
	KindMemory    Kind = "memory"
)

// ErrSamplerFailed is returned by Acquire once the memory sampler could not
// read system state. It is fatal to the crawl.
var ErrSamplerFailed = errors.New("memory sampler failed")

// Slot is a capacity token handed out by Acquire.
type Slot struct {
	ID         uint64
	AcquiredAt time.Time
}

// Policy is the admission contract.
type Policy interface {
	// Acquire blocks until a slot is available or ctx is done.
	Acquire(ctx context.Context) (Slot, error)
	Release(Slot)
	Name() string
	Stats() Stats
	Close() error
}

// Config selects and parameterizes a policy.
type Config struct {
	Kind            Kind
	MaxConcurrent   int
	MemoryThreshold float64
	CheckInterval   time.Duration
}

// Stats summarizes admission activity.
type Stats struct {
	Policy          string        `json:"policy"`
	Capacity        int           `json:"capacity"`
	InFlight        int64         `json:"in_flight"`
	Admitted        int64         `json:"admitted"`
	Peak            int64         `json:"peak"`
	PressureEvents  int64         `json:"pressure_events,omitempty"`
	PressureBlocked time.Duration `json:"pressure_blocked,omitempty"`
	LastMemoryUsed  float64       `json:"last_memory_used,omitempty"`
}

// NewPolicy builds the configured policy. sampler is only used by the memory
// policy; nil selects the system sampler.
func NewPolicy(cfg Config, sampler MemorySampler) (Policy, error) {
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must be >= 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = OptimalConcurrency()
		log.Debug().Int("max_concurrent", cfg.MaxConcurrent).Msg("Sized dispatcher from host")
	}
	switch cfg.Kind {
	case KindSemaphore:
		return NewSemaphore(cfg.MaxConcurrent), nil
	case KindMemory, "":
		if sampler == nil {
			sampler = SystemMemory{}
		}
		return NewMemoryAdaptive(cfg, sampler)
	default:
		return nil, fmt.Errorf("unknown dispatcher policy %q", cfg.Kind)
	}
}

// Pacer runs a fetch under per-domain pacing and rate-limit retries.
// *ratelimit.Limiter implements it.
type Pacer interface {
	Do(ctx context.Context, urlStr string, fetch func(ctx context.Context) (int, error)) (int, error)
}

// Dispatcher pairs an admission policy with a pacer.
type Dispatcher struct {
	policy Policy
	pacer  Pacer
}

// New creates a Dispatcher. pacer may be nil to fetch without pacing.
func New(policy Policy, pacer Pacer) *Dispatcher {
	return &Dispatcher{policy: policy, pacer: pacer}
}

// Acquire obtains a slot from the policy.
func (d *Dispatcher) Acquire(ctx context.Context) (Slot, error) {
	return d.policy.Acquire(ctx)
}

// Release returns a slot to the policy.
func (d *Dispatcher) Release(s Slot) {
	d.policy.Release(s)
}

// Execute runs fetch for urlStr through the pacer. The caller must hold a slot
// for the duration, so slot occupancy includes rate-limit waits.
func (d *Dispatcher) Execute(ctx context.Context, urlStr string, fetch func(ctx context.Context) (int, error)) (int, error) {
	if d.pacer == nil {
		_, err := fetch(ctx)
		return 1, err
	}
	return d.pacer.Do(ctx, urlStr, fetch)
}

// Stats reports the policy's admission stats.
func (d *Dispatcher) Stats() Stats {
	return d.policy.Stats()
}

// Close stops background work owned by the policy.
func (d *Dispatcher) Close() error {
	return d.policy.Close()
}

// counters is shared bookkeeping for both policies.
type counters struct {
	nextID   atomic.Uint64
	inFlight atomic.Int64
	admitted atomic.Int64
	peak     atomic.Int64
}

func (c *counters) admit() Slot {
	n := c.inFlight.Add(1)
	c.admitted.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return Slot{ID: c.nextID.Add(1), AcquiredAt: time.Now()}
}

func (c *counters) release(s Slot) {
	if c.inFlight.Add(-1) < 0 {
		c.inFlight.Store(0)
		log.Warn().Uint64("slot", s.ID).Msg("Slot released more than once")
	}
}

func (c *counters) fill(s *Stats) {
	s.InFlight = c.inFlight.Load()
	s.Admitted = c.admitted.Load()
	s.Peak = c.peak.Load()
}
