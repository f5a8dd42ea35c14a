package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSampler struct {
	mu   sync.Mutex
	used float64
	err  error
}

func (f *fakeSampler) set(used float64) {
	f.mu.Lock()
	f.used = used
	f.mu.Unlock()
}

func (f *fakeSampler) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSampler) UsedPercent(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used, f.err
}

func TestSemaphore_BlocksAtCapacity(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	a, err := s.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected third acquire to block, got %v", err)
	}

	s.Release(a)
	if _, err := s.Acquire(ctx); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}

	st := s.Stats()
	if st.Admitted != 3 || st.InFlight != 2 || st.Peak != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSemaphore_NeverExceedsCapacity(t *testing.T) {
	s := NewSemaphore(3)
	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := s.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			s.Release(slot)
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("observed %d concurrent holders, capacity is 3", peak.Load())
	}
}

func TestMemoryAdaptive_PressureBlocksThenResumes(t *testing.T) {
	sampler := &fakeSampler{used: 90}
	m, err := NewMemoryAdaptive(Config{
		Kind:            KindMemory,
		MaxConcurrent:   3,
		MemoryThreshold: 80,
		CheckInterval:   5 * time.Millisecond,
	}, sampler)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	// Held at 90%: no acquisition succeeds across many sampling intervals.
	blocked, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	_, err = m.Acquire(blocked)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire to block under pressure, got %v", err)
	}
	if st := m.Stats(); st.Admitted != 0 {
		t.Fatalf("expected zero admissions under pressure, got %d", st.Admitted)
	}

	sampler.set(70)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	slots := make([]Slot, 0, 3)
	for i := 0; i < 3; i++ {
		s, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d after pressure cleared: %v", i, err)
		}
		slots = append(slots, s)
	}

	// Capacity still caps admissions at MaxConcurrent.
	full, cancelFull := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = m.Acquire(full)
	cancelFull()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire beyond max concurrent to block, got %v", err)
	}

	for _, s := range slots {
		m.Release(s)
	}
	st := m.Stats()
	if st.Admitted != 3 || st.InFlight != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.PressureEvents == 0 {
		t.Error("expected a recorded pressure event")
	}
}

func TestMemoryAdaptive_PressureDoesNotPreemptRunningWork(t *testing.T) {
	sampler := &fakeSampler{used: 10}
	m, err := NewMemoryAdaptive(Config{MaxConcurrent: 2, MemoryThreshold: 80, CheckInterval: 5 * time.Millisecond}, sampler)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	held, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sampler.set(95)
	time.Sleep(30 * time.Millisecond)

	if st := m.Stats(); st.InFlight != 1 {
		t.Errorf("running work should keep its slot, in flight = %d", st.InFlight)
	}
	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(short); err == nil {
		t.Error("expected new admission to block under pressure")
	}
	m.Release(held)
}

func TestMemoryAdaptive_SamplerFailureIsFatal(t *testing.T) {
	sampler := &fakeSampler{used: 10}
	m, err := NewMemoryAdaptive(Config{MaxConcurrent: 1, MemoryThreshold: 80, CheckInterval: 5 * time.Millisecond}, sampler)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	sampler.fail(errors.New("cannot read /proc/meminfo"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		slot, err := m.Acquire(context.Background())
		if err != nil {
			if !errors.Is(err, ErrSamplerFailed) {
				t.Fatalf("expected ErrSamplerFailed, got %v", err)
			}
			return
		}
		m.Release(slot)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sampler failure never surfaced")
}

func TestNewMemoryAdaptive_InitialSampleFailure(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("unsupported platform")}
	if _, err := NewMemoryAdaptive(Config{MaxConcurrent: 1, MemoryThreshold: 80}, sampler); !errors.Is(err, ErrSamplerFailed) {
		t.Fatalf("expected ErrSamplerFailed, got %v", err)
	}
}

type countingPacer struct{ calls int }

func (p *countingPacer) Do(ctx context.Context, url string, fetch func(ctx context.Context) (int, error)) (int, error) {
	p.calls++
	_, err := fetch(ctx)
	return 1, err
}

func TestDispatcher_ExecuteGoesThroughPacer(t *testing.T) {
	pacer := &countingPacer{}
	d := New(NewSemaphore(1), pacer)
	defer d.Close()

	slot, err := d.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release(slot)

	attempts, err := d.Execute(context.Background(), "https://example.com/", func(context.Context) (int, error) {
		return 200, nil
	})
	if err != nil || attempts != 1 {
		t.Fatalf("unexpected result: attempts=%d err=%v", attempts, err)
	}
	if pacer.calls != 1 {
		t.Errorf("expected pacer to be used once, got %d", pacer.calls)
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(Config{Kind: KindSemaphore, MaxConcurrent: 4}, nil)
	if err != nil || p.Name() != "semaphore" {
		t.Fatalf("unexpected policy %v, %v", p, err)
	}
	p, err = NewPolicy(Config{Kind: KindMemory, MaxConcurrent: 4, MemoryThreshold: 90, CheckInterval: time.Second}, &fakeSampler{used: 1})
	if err != nil || p.Name() != "memory" {
		t.Fatalf("unexpected policy %v, %v", p, err)
	}
	p.Close()
	if _, err := NewPolicy(Config{Kind: "lottery", MaxConcurrent: 1}, nil); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestNewPolicy_AutoSized(t *testing.T) {
	p, err := NewPolicy(Config{Kind: KindSemaphore}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if c := p.Stats().Capacity; c <= 0 || c > 50 {
		t.Errorf("auto capacity = %d, want 1..50", c)
	}
	if _, err := NewPolicy(Config{Kind: KindSemaphore, MaxConcurrent: -1}, nil); err == nil {
		t.Error("expected error for negative max concurrent")
	}
}
