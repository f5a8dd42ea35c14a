package engine

import (
	"context"
	"testing"
	"time"

	"github.com/law-makers/deepcrawl/internal/cache"
	"github.com/law-makers/deepcrawl/pkg/models"
)

type countingFetcher struct {
	calls   int
	success bool
}

func (f *countingFetcher) Name() string { return "counting" }

func (f *countingFetcher) Fetch(_ context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	f.calls++
	return &models.FetchResult{URL: req.URL, StatusCode: 200, Success: f.success}, nil
}

func TestCachingFetcher_Modes(t *testing.T) {
	tests := []struct {
		mode      cache.Mode
		wantCalls int
		wantHit   bool
	}{
		{cache.ModeEnabled, 1, true},
		{cache.ModeBypass, 2, false},
		{cache.ModeRefresh, 2, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			c := cache.NewMemoryCache(0)
			defer c.Close()
			next := &countingFetcher{success: true}
			f := NewCachingFetcher(next, c, tt.mode, time.Minute)

			req := models.FetchRequest{URL: "https://example.com/"}
			if _, err := f.Fetch(context.Background(), req); err != nil {
				t.Fatal(err)
			}
			second, err := f.Fetch(context.Background(), req)
			if err != nil {
				t.Fatal(err)
			}
			if next.calls != tt.wantCalls {
				t.Errorf("underlying fetches = %d, want %d", next.calls, tt.wantCalls)
			}
			if second.FromCache != tt.wantHit {
				t.Errorf("FromCache = %v, want %v", second.FromCache, tt.wantHit)
			}
		})
	}
}

func TestCachingFetcher_RefreshWritesForLaterReads(t *testing.T) {
	c := cache.NewMemoryCache(0)
	defer c.Close()

	NewCachingFetcher(&countingFetcher{success: true}, c, cache.ModeRefresh, time.Minute).
		Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/a"})

	if _, ok := c.Get("https://example.com/a"); !ok {
		t.Error("refresh mode should store the fresh result")
	}
}

func TestCachingFetcher_SkipsFailures(t *testing.T) {
	c := cache.NewMemoryCache(0)
	defer c.Close()
	next := &countingFetcher{success: false}
	f := NewCachingFetcher(next, c, cache.ModeEnabled, time.Minute)

	f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if next.calls != 2 {
		t.Errorf("failed results must not be cached, calls = %d", next.calls)
	}
}
