package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances virtual time on sleep so tests never block.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newTestLimiter(cfg Config, clock *fakeClock, jitter float64) *Limiter {
	return New(cfg,
		WithClock(clock.Now, clock.Sleep),
		WithJitter(func() float64 { return jitter }),
		WithUniform(func() float64 { return 0.5 }),
	)
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	maxDelay := 60 * time.Second

	tests := []struct {
		hits   int
		jitter float64
		want   time.Duration
	}{
		{1, 1.0, 2 * time.Second},
		{2, 1.0, 4 * time.Second},
		{3, 0.75, 6 * time.Second},
		{4, 1.25, 20 * time.Second},
		{6, 1.0, 60 * time.Second},
		{40, 1.25, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(base, maxDelay, tt.hits, tt.jitter); got != tt.want {
			t.Errorf("BackoffDelay(hits=%d, jitter=%.2f) = %s, want %s", tt.hits, tt.jitter, got, tt.want)
		}
	}
}

func TestUpdate_ConsecutiveHitsGrowDelay(t *testing.T) {
	cfg := DefaultConfig()
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)

	url := "https://example.com/page"
	var prev time.Duration
	for n := 1; n <= 8; n++ {
		out := l.Update(url, 429)
		if !out.RateLimited {
			t.Fatalf("hit %d: expected rate limited outcome", n)
		}
		want := BackoffDelay(cfg.BackoffBase, cfg.MaxDelay, n, 1.0)
		if out.Delay != want {
			t.Errorf("hit %d: delay %s, want %s", n, out.Delay, want)
		}
		if out.Delay < prev {
			t.Errorf("hit %d: delay decreased from %s to %s", n, prev, out.Delay)
		}
		prev = out.Delay
	}

	snap, ok := l.Snapshot("example.com")
	if !ok || snap.State != StateBackoff || snap.Hits != 8 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	out := l.Update(url, 200)
	if out.RateLimited {
		t.Fatal("success must not be rate limited")
	}
	snap, _ = l.Snapshot("example.com")
	if snap.Hits != 0 || snap.State != StateIdle {
		t.Errorf("expected reset after success, got %+v", snap)
	}
	if snap.CurrentDelay < cfg.BaseDelayMin || snap.CurrentDelay > cfg.BaseDelayMax {
		t.Errorf("delay %s not back in base range", snap.CurrentDelay)
	}
}

func TestDo_ExhaustsAfterMaxRetriesPlusOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)

	calls := 0
	attempts, err := l.Do(context.Background(), "https://example.com/", func(context.Context) (int, error) {
		calls++
		return 429, nil
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if calls != cfg.MaxRetries+1 || attempts != cfg.MaxRetries+1 {
		t.Errorf("expected %d attempts, got calls=%d attempts=%d", cfg.MaxRetries+1, calls, attempts)
	}
	if exhausted.LastStatus != 429 {
		t.Errorf("expected last status 429, got %d", exhausted.LastStatus)
	}

	// Each retry waited out the backoff computed from the preceding hit.
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(clock.slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), clock.slept)
	}
	for i, d := range want {
		if clock.slept[i] != d {
			t.Errorf("sleep %d = %s, want %s", i, clock.slept[i], d)
		}
	}
}

func TestDo_RecoversBeforeBudget(t *testing.T) {
	cfg := DefaultConfig()
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)

	statuses := []int{503, 429, 200}
	i := 0
	attempts, err := l.Do(context.Background(), "https://example.com/", func(context.Context) (int, error) {
		s := statuses[i]
		i++
		return s, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	snap, _ := l.Snapshot("example.com")
	if snap.Hits != 0 {
		t.Errorf("expected hits reset, got %d", snap.Hits)
	}
}

func TestDo_NetworkErrorIsNotRetried(t *testing.T) {
	l := newTestLimiter(DefaultConfig(), newFakeClock(), 1.0)
	boom := errors.New("connection refused")
	calls := 0
	attempts, err := l.Do(context.Background(), "https://example.com/", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected network error, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestWait_SpacesSameDomainOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseDelayMin = 2 * time.Second
	cfg.BaseDelayMax = 2 * time.Second
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example/1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "https://b.example/1"); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("first request per domain should not wait, slept %v", clock.slept)
	}

	if err := l.Wait(ctx, "https://a.example/2"); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s wait, got %v", clock.slept)
	}
}

func TestWait_DisabledSkipsBasePacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "https://example.com/"); err != nil {
			t.Fatal(err)
		}
	}
	if len(clock.slept) != 0 {
		t.Errorf("disabled limiter should not pace, slept %v", clock.slept)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	l := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	l.Update("https://example.com/", 429)
	if err := l.Wait(ctx, "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx, "https://example.com/"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWait_DisabledStillBacksOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	clock := newFakeClock()
	l := newTestLimiter(cfg, clock, 1.0)
	ctx := context.Background()

	if err := l.Wait(ctx, "https://example.com/a"); err != nil {
		t.Fatal(err)
	}
	l.Update("https://example.com/a", 429)
	if err := l.Wait(ctx, "https://example.com/b"); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 2*cfg.BackoffBase {
		t.Errorf("expected one backoff sleep of %v, slept %v", 2*cfg.BackoffBase, clock.slept)
	}
}

func TestWait_SteadyRatePerHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.RequestsPerSecond = 50
	cfg.Burst = 1
	l := New(cfg)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "https://example.com/"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three requests at 50/s finished in %v", elapsed)
	}

	start = time.Now()
	if err := l.Wait(ctx, "https://other.example.org/"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Millisecond {
		t.Errorf("a fresh host should not wait, took %v", elapsed)
	}
}
