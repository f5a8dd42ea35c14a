package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"
)

// MemorySampler reports system memory utilization as a percentage.
type MemorySampler interface {
	UsedPercent(ctx context.Context) (float64, error)
}

// SystemMemory samples virtual memory through gopsutil.
type SystemMemory struct{}

// UsedPercent implements MemorySampler.
func (SystemMemory) UsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// MemoryAdaptive caps concurrency at MaxConcurrent and additionally refuses
// new admissions while sampled memory utilization is at or above the
// threshold. Running work is never preempted.
type MemoryAdaptive struct {
	sem       *semaphore.Weighted
	capacity  int
	sampler   MemorySampler
	threshold float64
	interval  time.Duration

	mu            sync.Mutex
	gate          chan struct{} // closed while admissions are open
	open          bool
	lastUsed      float64
	pressureSince time.Time
	blocked       time.Duration
	events        int64
	err           error

	failed chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	counters
}

// NewMemoryAdaptive takes an initial sample and starts the periodic sampler.
// A failing initial sample is returned as an error.
func NewMemoryAdaptive(cfg Config, sampler MemorySampler) (*MemoryAdaptive, error) {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	m := &MemoryAdaptive{
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		capacity:  cfg.MaxConcurrent,
		sampler:   sampler,
		threshold: cfg.MemoryThreshold,
		interval:  interval,
		gate:      make(chan struct{}),
		failed:    make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), interval+5*time.Second)
	defer cancel()
	if err := m.sample(ctx); err != nil {
		close(m.done)
		return nil, err
	}

	go m.run()
	return m, nil
}

func (m *MemoryAdaptive) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval+5*time.Second)
			err := m.sample(ctx)
			cancel()
			if err != nil {
				return
			}
		case <-m.stop:
			return
		}
	}
}

// sample reads utilization once and opens or closes the admission gate.
func (m *MemoryAdaptive) sample(ctx context.Context) error {
	used, err := m.sampler.UsedPercent(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.err = fmt.Errorf("%w: %v", ErrSamplerFailed, err)
		close(m.failed)
		log.Error().Err(err).Msg("Memory sampler failed, aborting admissions")
		return m.err
	}

	m.lastUsed = used
	pressured := used >= m.threshold

	switch {
	case pressured && m.open:
		m.open = false
		m.gate = make(chan struct{})
		m.pressureSince = time.Now()
		m.events++
		log.Warn().
			Float64("memory_used", used).
			Float64("threshold", m.threshold).
			Msg("Memory pressure, pausing admissions")
	case !pressured && !m.open:
		if !m.pressureSince.IsZero() {
			m.blocked += time.Since(m.pressureSince)
			m.pressureSince = time.Time{}
		}
		m.open = true
		close(m.gate)
		log.Debug().
			Float64("memory_used", used).
			Msg("Memory below threshold, admissions open")
	case pressured && m.pressureSince.IsZero():
		// Initial sample already above threshold.
		m.pressureSince = time.Now()
		m.events++
		log.Warn().
			Float64("memory_used", used).
			Float64("threshold", m.threshold).
			Msg("Memory pressure, pausing admissions")
	}
	return nil
}

func (m *MemoryAdaptive) state() (chan struct{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate, m.open, m.err
}

// Acquire waits for the memory gate to open and for a free slot.
func (m *MemoryAdaptive) Acquire(ctx context.Context) (Slot, error) {
	for {
		gate, _, err := m.state()
		if err != nil {
			return Slot{}, err
		}

		select {
		case <-gate:
		case <-m.failed:
			_, _, err := m.state()
			return Slot{}, err
		case <-ctx.Done():
			return Slot{}, ctx.Err()
		}

		if err := m.sem.Acquire(ctx, 1); err != nil {
			return Slot{}, err
		}

		// Pressure may have returned while we waited for capacity.
		if _, open, err := m.state(); open && err == nil {
			return m.admit(), nil
		}
		m.sem.Release(1)
	}
}

// Release frees a slot.
func (m *MemoryAdaptive) Release(slot Slot) {
	m.release(slot)
	m.sem.Release(1)
}

func (m *MemoryAdaptive) Name() string { return string(KindMemory) }

func (m *MemoryAdaptive) Stats() Stats {
	m.mu.Lock()
	blocked := m.blocked
	if !m.pressureSince.IsZero() {
		blocked += time.Since(m.pressureSince)
	}
	st := Stats{
		Policy:          m.Name(),
		Capacity:        m.capacity,
		PressureEvents:  m.events,
		PressureBlocked: blocked,
		LastMemoryUsed:  m.lastUsed,
	}
	m.mu.Unlock()
	m.fill(&st)
	return st
}

// Close stops the sampler goroutine.
func (m *MemoryAdaptive) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return nil
}
