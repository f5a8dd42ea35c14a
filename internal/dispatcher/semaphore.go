package dispatcher

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore admits at most a fixed number of concurrent workers.
type Semaphore struct {
	sem      *semaphore.Weighted
	capacity int
	counters
}

// NewSemaphore creates a fixed-capacity policy.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until fewer than capacity slots are outstanding.
func (s *Semaphore) Acquire(ctx context.Context) (Slot, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Slot{}, err
	}
	return s.admit(), nil
}

// Release frees a slot.
func (s *Semaphore) Release(slot Slot) {
	s.release(slot)
	s.sem.Release(1)
}

func (s *Semaphore) Name() string { return string(KindSemaphore) }

func (s *Semaphore) Stats() Stats {
	st := Stats{Policy: s.Name(), Capacity: s.capacity}
	s.fill(&st)
	return st
}

func (s *Semaphore) Close() error { return nil }
