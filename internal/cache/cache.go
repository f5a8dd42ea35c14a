// Package cache keeps fetched responses so repeat visits within a run, or
// across runs sharing a process, skip the network.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// Mode controls how fetchers consult the cache.
type Mode string

const (
	// ModeEnabled reads and writes the cache.
	ModeEnabled Mode = "enabled"
	// ModeBypass neither reads nor writes.
	ModeBypass Mode = "bypass"
	// ModeRefresh skips reads but stores fresh results.
	ModeRefresh Mode = "refresh"
)

// Reads reports whether lookups are allowed in this mode.
func (m Mode) Reads() bool { return m == ModeEnabled }

// Writes reports whether results are stored in this mode.
func (m Mode) Writes() bool { return m == ModeEnabled || m == ModeRefresh }

// Cache stores fetch results keyed by normalized URL.
type Cache interface {
	Get(key string) (*models.FetchResult, bool)
	Set(key string, result *models.FetchResult, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Close()
}

type cacheEntry struct {
	result    *models.FetchResult
	expiresAt time.Time
	key       string
	size      int64
}

// Stats reports cache utilization.
type Stats struct {
	Entries int
	Size    int64
	MaxSize int64
	Hits    uint64
	Misses  uint64
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// MemoryCache is an in-memory cache with LRU eviction bounded by an
// approximate byte size.
type MemoryCache struct {
	store   map[string]*list.Element
	lruList *list.List
	mu      sync.Mutex
	maxSize int64
	size    int64
	ctx     context.Context
	cancel  context.CancelFunc
	hits    uint64
	misses  uint64
}

// NewMemoryCache creates a cache and starts its expiry sweeper.
func NewMemoryCache(maxSizeBytes int64) *MemoryCache {
	if maxSizeBytes <= 0 {
		maxSizeBytes = 100 * 1024 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &MemoryCache{
		store:   make(map[string]*list.Element),
		lruList: list.New(),
		maxSize: maxSizeBytes,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.cleanupExpired(time.Minute)

	return c
}

// Get returns a live entry and marks it most recently used.
func (mc *MemoryCache) Get(key string) (*models.FetchResult, bool) {
	mc.mu.Lock()
	element, exists := mc.store[key]
	if !exists {
		mc.misses++
		mc.mu.Unlock()
		return nil, false
	}

	entry := element.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		mc.misses++
		mc.removeElement(element)
		mc.mu.Unlock()
		return nil, false
	}

	mc.lruList.MoveToFront(element)
	mc.hits++
	mc.mu.Unlock()

	log.Debug().Str("key", key).Msg("Cache hit")
	return entry.result, true
}

// Set stores result under key, evicting least recently used entries to fit.
func (mc *MemoryCache) Set(key string, result *models.FetchResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := entrySize(result)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		mc.removeElement(element)
	}

	for mc.size+size > mc.maxSize && mc.lruList.Len() > 0 {
		mc.evictLRU()
	}

	entry := &cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
		key:       key,
		size:      size,
	}
	mc.store[key] = mc.lruList.PushFront(entry)
	mc.size += size

	log.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int64("size_bytes", size).
		Msg("Cached response")

	return nil
}

// Delete removes an entry; missing keys are not an error.
func (mc *MemoryCache) Delete(key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		mc.removeElement(element)
	}
	return nil
}

// Clear empties the cache and resets counters.
func (mc *MemoryCache) Clear() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.store = make(map[string]*list.Element)
	mc.lruList = list.New()
	mc.size = 0
	mc.hits = 0
	mc.misses = 0
	return nil
}

// Close stops the background sweeper.
func (mc *MemoryCache) Close() {
	mc.cancel()
}

// Stats returns a snapshot of cache counters.
func (mc *MemoryCache) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return Stats{
		Entries: mc.lruList.Len(),
		Size:    mc.size,
		MaxSize: mc.maxSize,
		Hits:    mc.hits,
		Misses:  mc.misses,
	}
}

// must be called with lock held
func (mc *MemoryCache) removeElement(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	mc.lruList.Remove(element)
	delete(mc.store, entry.key)
	mc.size -= entry.size
}

// must be called with lock held
func (mc *MemoryCache) evictLRU() {
	element := mc.lruList.Back()
	if element == nil {
		return
	}
	key := element.Value.(*cacheEntry).key
	mc.removeElement(element)
	log.Debug().Str("key", key).Msg("Evicted from cache (LRU)")
}

func (mc *MemoryCache) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.mu.Lock()
			now := time.Now()
			var next *list.Element
			for element := mc.lruList.Front(); element != nil; element = next {
				next = element.Next()
				if now.After(element.Value.(*cacheEntry).expiresAt) {
					mc.removeElement(element)
				}
			}
			mc.mu.Unlock()
		case <-mc.ctx.Done():
			return
		}
	}
}

func entrySize(r *models.FetchResult) int64 {
	size := int64(len(r.RawContent) + len(r.Title) + len(r.URL))
	for _, l := range r.Links {
		size += int64(len(l))
	}
	// struct, map and slice headers
	return size + 1024
}
