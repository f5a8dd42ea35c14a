package filter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"

	"github.com/law-makers/deepcrawl/pkg/models"
)

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// Robots rejects candidates disallowed by their host's robots.txt.
// Rules are fetched once per host and cached for ttl. A robots.txt that
// cannot be fetched allows everything.
type Robots struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

// NewRobots creates a robots.txt filter.
func NewRobots(client *http.Client, userAgent string, ttl time.Duration) *Robots {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Robots{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]robotsEntry),
	}
}

func (r *Robots) Name() string { return "robots" }

// Apply implements PreFilter.
func (r *Robots) Apply(ctx context.Context, c models.CrawlCandidate) Decision {
	target, err := url.Parse(c.URL)
	if err != nil {
		return reject(r.Name(), "unparseable url")
	}
	rules, err := r.rules(ctx, target)
	if err != nil {
		log.Debug().Err(err).Str("host", target.Host).Msg("robots.txt unavailable, allowing")
		return accept()
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	if !rules.TestAgent(path, r.userAgent) {
		return reject(r.Name(), "disallowed by robots.txt for %s", r.userAgent)
	}
	return accept()
}

func (r *Robots) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetched) < r.ttl {
		return entry.rules, nil
	}

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	// FromResponse maps 4xx to allow-all and 5xx to disallow-all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.mu.Lock()
	r.cache[host] = robotsEntry{fetched: time.Now(), rules: data}
	r.mu.Unlock()

	return data, nil
}
