package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validate(c *Config) error {
	if c.HTTPTimeout <= 0 {
		return invalid("http timeout must be > 0")
	}
	if c.Browser.PoolSize <= 0 || c.Browser.PoolSize > DefaultMaxBrowserPoolSize {
		return invalid("browser pool size must be between 1 and %d", DefaultMaxBrowserPoolSize)
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return invalid("cache max size must be > 0")
	}
	switch c.Cache.Mode {
	case "enabled", "bypass", "refresh":
	default:
		return invalid("cache mode must be enabled, bypass, or refresh, got %q", c.Cache.Mode)
	}
	return c.Crawl.Validate()
}

// Validate checks the crawl snapshot for malformed parameters.
func (c *CrawlConfig) Validate() error {
	if c.MaxDepth < 0 {
		return invalid("max depth must be >= 0")
	}
	if c.MaxPages < 0 {
		return invalid("max pages must be >= 0")
	}
	switch c.Renderer {
	case "static", "browser", "auto":
	default:
		return invalid("renderer must be static, browser, or auto, got %q", c.Renderer)
	}
	for _, p := range c.URLPatterns {
		if _, err := glob.Compile(p); err != nil {
			return invalid("url pattern %q: %v", p, err)
		}
	}
	for _, ct := range c.AllowedContentTypes {
		if !strings.Contains(ct, "/") {
			return invalid("content type %q must look like type/subtype", ct)
		}
	}
	if c.Scroll.Enabled {
		if c.Renderer == "static" {
			return invalid("virtual scroll requires the browser or auto renderer")
		}
		if c.Scroll.MaxScrolls <= 0 {
			return invalid("max scrolls must be > 0")
		}
	}

	f := c.Filter
	switch f.Strategy {
	case "", "none":
	case "pruning":
		if f.ThresholdType != "fixed" && f.ThresholdType != "dynamic" {
			return invalid("threshold type must be fixed or dynamic, got %q", f.ThresholdType)
		}
		if f.MinWordThreshold < 0 {
			return invalid("min word threshold must be >= 0")
		}
	case "bm25":
		if f.BM25K1 <= 0 || f.BM25B < 0 || f.BM25B > 1 {
			return invalid("bm25 parameters out of range (k1 > 0, 0 <= b <= 1)")
		}
	case "llm":
		if !strings.Contains(f.LLMProvider, "/") {
			return invalid("llm provider must look like provider/model, got %q", f.LLMProvider)
		}
		if f.ChunkTokenThreshold <= 0 {
			return invalid("chunk token threshold must be > 0")
		}
		if f.LLMConcurrency <= 0 {
			return invalid("llm concurrency must be > 0")
		}
	default:
		return invalid("content filter must be pruning, bm25, or llm, got %q", f.Strategy)
	}

	r := c.RateLimit
	if r.BaseDelayMin < 0 || r.BaseDelayMax < r.BaseDelayMin {
		return invalid("base delay range must satisfy 0 <= min <= max")
	}
	if r.MaxDelay < r.BaseDelayMax {
		return invalid("max delay must be >= base delay max")
	}
	if r.BackoffBase <= 0 {
		return invalid("backoff base must be > 0")
	}
	if r.MaxRetries < 0 {
		return invalid("max retries must be >= 0")
	}
	if r.RequestsPerSecond < 0 {
		return invalid("requests per second must be >= 0")
	}

	d := c.Dispatcher
	switch d.Policy {
	case "memory":
		if d.MemoryThreshold <= 0 || d.MemoryThreshold > 100 {
			return invalid("memory threshold must be in (0, 100]")
		}
		if d.CheckInterval <= 0 {
			return invalid("check interval must be > 0")
		}
	case "semaphore":
	default:
		return invalid("dispatcher must be memory or semaphore, got %q", d.Policy)
	}
	if d.MaxConcurrent < 0 {
		return invalid("max concurrent must be >= 0 (0 sizes from CPU and memory)")
	}

	if c.Output.SaveMarkdown && strings.TrimSpace(c.Output.OutputDir) == "" {
		return invalid("output dir is required when saving markdown")
	}
	return nil
}
