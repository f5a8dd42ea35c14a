// Package filter decides which discovered URLs a crawl may fetch.
//
// Pre-fetch filters run on a candidate before it takes a dispatcher slot;
// the content-type check runs once response headers are known.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	urlutil "github.com/law-makers/deepcrawl/internal/utils/url"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Decision is the result of running a candidate through the chain.
type Decision struct {
	Accepted bool
	Filter   string
	Reason   string
}

func accept() Decision { return Decision{Accepted: true} }

func reject(filter, format string, args ...any) Decision {
	return Decision{Filter: filter, Reason: fmt.Sprintf(format, args...)}
}

// PreFilter inspects a candidate before it is fetched.
type PreFilter interface {
	Name() string
	Apply(ctx context.Context, c models.CrawlCandidate) Decision
}

// Config describes the chain's rules.
type Config struct {
	// SeedURLs define which hosts count as internal.
	SeedURLs            []string
	MaxDepth            int
	IncludeExternal     bool
	IncludeSubdomains   bool
	URLPatterns         []string
	AllowedDomains      []string
	BlockedDomains      []string
	AllowedContentTypes []string
}

// Chain evaluates pre-fetch filters in order and the post-fetch content-type check.
type Chain struct {
	pre          []PreFilter
	contentTypes []string
}

// NewChain builds the standard filters from cfg followed by any extra filters.
func NewChain(cfg Config, extra ...PreFilter) (*Chain, error) {
	c := &Chain{}

	c.pre = append(c.pre, &depthFilter{maxDepth: cfg.MaxDepth})

	if len(cfg.BlockedDomains) > 0 || len(cfg.AllowedDomains) > 0 {
		c.pre = append(c.pre, &domainFilter{
			allowed:           normalizeDomains(cfg.AllowedDomains),
			blocked:           normalizeDomains(cfg.BlockedDomains),
			includeSubdomains: cfg.IncludeSubdomains,
		})
	}

	if !cfg.IncludeExternal {
		var hosts []string
		for _, s := range cfg.SeedURLs {
			if h := urlutil.Host(s); h != "" {
				hosts = append(hosts, h)
			}
		}
		c.pre = append(c.pre, &externalFilter{seedHosts: hosts, includeSubdomains: cfg.IncludeSubdomains})
	}

	if len(cfg.URLPatterns) > 0 {
		pf, err := newPatternFilter(cfg.URLPatterns)
		if err != nil {
			return nil, err
		}
		c.pre = append(c.pre, pf)
	}

	c.pre = append(c.pre, extra...)

	for _, ct := range cfg.AllowedContentTypes {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		if ct != "" {
			c.contentTypes = append(c.contentTypes, ct)
		}
	}
	return c, nil
}

// Accepts runs the pre-fetch phase. The first rejecting filter wins.
func (c *Chain) Accepts(ctx context.Context, cand models.CrawlCandidate) Decision {
	for _, f := range c.pre {
		d := f.Apply(ctx, cand)
		if !d.Accepted {
			d.Filter = f.Name()
			log.Debug().
				Str("url", cand.URL).
				Int("depth", cand.Depth).
				Str("filter", d.Filter).
				Str("reason", d.Reason).
				Msg("Candidate rejected")
			return d
		}
	}
	return accept()
}

// AcceptsResponse runs the post-fetch content-type check.
func (c *Chain) AcceptsResponse(contentType string) Decision {
	if len(c.contentTypes) == 0 {
		return accept()
	}
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" {
		// Servers that omit the header are treated as serving HTML.
		mt = "text/html"
	}
	for _, allowed := range c.contentTypes {
		if allowed == mt {
			return accept()
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return accept()
		}
	}
	return reject("content-type", "content type %q not allowed", mt)
}

// Filters returns the names of the configured pre-fetch filters in order.
func (c *Chain) Filters() []string {
	names := make([]string, len(c.pre))
	for i, f := range c.pre {
		names[i] = f.Name()
	}
	return names
}

type depthFilter struct{ maxDepth int }

func (f *depthFilter) Name() string { return "depth" }

func (f *depthFilter) Apply(_ context.Context, c models.CrawlCandidate) Decision {
	if c.Depth > f.maxDepth {
		return reject(f.Name(), "depth %d exceeds max depth %d", c.Depth, f.maxDepth)
	}
	return accept()
}

type domainFilter struct {
	allowed           []string
	blocked           []string
	includeSubdomains bool
}

func (f *domainFilter) Name() string { return "domain" }

func (f *domainFilter) Apply(_ context.Context, c models.CrawlCandidate) Decision {
	host := urlutil.Host(c.URL)
	for _, d := range f.blocked {
		// Blocking always covers subdomains.
		if urlutil.DomainMatches(host, d, true) {
			return reject(f.Name(), "host %s is blocked by %s", host, d)
		}
	}
	if len(f.allowed) == 0 {
		return accept()
	}
	for _, d := range f.allowed {
		if urlutil.DomainMatches(host, d, f.includeSubdomains) {
			return accept()
		}
	}
	return reject(f.Name(), "host %s is not in the allowed domains", host)
}

type externalFilter struct {
	seedHosts         []string
	includeSubdomains bool
}

func (f *externalFilter) Name() string { return "external" }

func (f *externalFilter) Apply(_ context.Context, c models.CrawlCandidate) Decision {
	if c.Depth == 0 {
		return accept()
	}
	host := urlutil.Host(c.URL)
	for _, s := range f.seedHosts {
		if urlutil.DomainMatches(host, s, f.includeSubdomains) {
			return accept()
		}
	}
	return reject(f.Name(), "host %s is external", host)
}

type patternFilter struct {
	patterns []string
	globs    []glob.Glob
}

func newPatternFilter(patterns []string) (*patternFilter, error) {
	pf := &patternFilter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern %q: %w", p, err)
		}
		pf.patterns = append(pf.patterns, p)
		pf.globs = append(pf.globs, g)
	}
	return pf, nil
}

func (f *patternFilter) Name() string { return "url-pattern" }

func (f *patternFilter) Apply(_ context.Context, c models.CrawlCandidate) Decision {
	if len(f.globs) == 0 {
		return accept()
	}
	for _, g := range f.globs {
		if g.Match(c.URL) {
			return accept()
		}
	}
	return reject(f.Name(), "url matches none of %v", f.patterns)
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		// Accept full URLs as well as bare hosts.
		if strings.Contains(d, "://") {
			d = urlutil.Host(d)
		}
		out = append(out, d)
	}
	return out
}
