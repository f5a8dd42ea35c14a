package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/internal/cache"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// CachingFetcher consults a cache before delegating to another fetcher.
// Only successful results are stored.
type CachingFetcher struct {
	next  Fetcher
	cache cache.Cache
	mode  cache.Mode
	ttl   time.Duration
}

// NewCachingFetcher wraps next. With ModeBypass the wrapper is a pass-through.
func NewCachingFetcher(next Fetcher, c cache.Cache, mode cache.Mode, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{next: next, cache: c, mode: mode, ttl: ttl}
}

func (f *CachingFetcher) Name() string {
	return f.next.Name() + "+cache"
}

// Fetch implements Fetcher.
func (f *CachingFetcher) Fetch(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	key := cacheKey(req)

	if f.cache != nil && f.mode.Reads() {
		if hit, ok := f.cache.Get(key); ok {
			res := *hit
			res.FromCache = true
			return &res, nil
		}
	}

	res, err := f.next.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if f.cache != nil && f.mode.Writes() && res.Success {
		if err := f.cache.Set(key, res, f.ttl); err != nil {
			log.Warn().Err(err).Str("url", req.URL).Msg("Failed to cache result")
		}
	}
	return res, nil
}

func cacheKey(req models.FetchRequest) string {
	if req.Scroll != nil {
		return req.URL + "::scroll"
	}
	return req.URL
}
