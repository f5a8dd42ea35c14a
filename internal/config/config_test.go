package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	root := &cobra.Command{Use: "deepcrawl"}
	RegisterFlags(root)
	crawl := &cobra.Command{Use: "crawl", RunE: func(*cobra.Command, []string) error { return nil }}
	RegisterCrawlFlags(crawl)
	root.AddCommand(crawl)
	return crawl
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newTestCommand())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crawl.MaxDepth != DefaultMaxDepth {
		t.Errorf("Expected max depth %d, got %d", DefaultMaxDepth, cfg.Crawl.MaxDepth)
	}
	if cfg.Crawl.Dispatcher.Policy != "memory" {
		t.Errorf("Expected memory dispatcher, got %s", cfg.Crawl.Dispatcher.Policy)
	}
	if cfg.Crawl.RateLimit.BaseDelayMax != 3*time.Second {
		t.Errorf("Expected base delay max 3s, got %s", cfg.Crawl.RateLimit.BaseDelayMax)
	}
	if len(cfg.Crawl.RateLimit.RateLimitCodes) != 2 {
		t.Errorf("Expected 2 rate limit codes, got %v", cfg.Crawl.RateLimit.RateLimitCodes)
	}
	if cfg.Cache.Mode != "bypass" {
		t.Errorf("Expected cache mode bypass, got %s", cfg.Cache.Mode)
	}
}

func TestLoad_FlagsOverride(t *testing.T) {
	cmd := newTestCommand()
	if err := cmd.ParseFlags([]string{
		"--max-depth=1",
		"--content-filter=bm25",
		"--user-query=tutorial",
		"--dispatcher=semaphore",
		"--url-patterns=*/docs/*,*/blog/*",
		"--base-delay-min=500ms",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crawl.MaxDepth != 1 {
		t.Errorf("Expected max depth 1, got %d", cfg.Crawl.MaxDepth)
	}
	if cfg.Crawl.Filter.Strategy != "bm25" || cfg.Crawl.Filter.Query != "tutorial" {
		t.Errorf("Unexpected filter config: %+v", cfg.Crawl.Filter)
	}
	if cfg.Crawl.Dispatcher.Policy != "semaphore" {
		t.Errorf("Expected semaphore dispatcher, got %s", cfg.Crawl.Dispatcher.Policy)
	}
	if len(cfg.Crawl.URLPatterns) != 2 {
		t.Errorf("Expected 2 url patterns, got %v", cfg.Crawl.URLPatterns)
	}
	if cfg.Crawl.RateLimit.BaseDelayMin != 500*time.Millisecond {
		t.Errorf("Expected base delay min 500ms, got %s", cfg.Crawl.RateLimit.BaseDelayMin)
	}
}

func TestLoad_ConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deepcrawl.yaml")
	content := "crawl:\n  max_pages: 25\n  dispatcher:\n    max_concurrent: 4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEEPCRAWL_CRAWL_MAX_DEPTH", "4")

	cmd := newTestCommand()
	if err := cmd.ParseFlags([]string{"--config=" + path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crawl.MaxPages != 25 {
		t.Errorf("Expected max pages 25 from file, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.Dispatcher.MaxConcurrent != 4 {
		t.Errorf("Expected max concurrent 4 from file, got %d", cfg.Crawl.Dispatcher.MaxConcurrent)
	}
	if cfg.Crawl.MaxDepth != 4 {
		t.Errorf("Expected max depth 4 from env, got %d", cfg.Crawl.MaxDepth)
	}
}

func TestValidate_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative depth", func(c *Config) { c.Crawl.MaxDepth = -1 }},
		{"unknown filter", func(c *Config) { c.Crawl.Filter.Strategy = "regex" }},
		{"bad threshold type", func(c *Config) {
			c.Crawl.Filter.Strategy = "pruning"
			c.Crawl.Filter.ThresholdType = "adaptive"
		}},
		{"inverted delay range", func(c *Config) { c.Crawl.RateLimit.BaseDelayMin = 5 * time.Second }},
		{"unknown dispatcher", func(c *Config) { c.Crawl.Dispatcher.Policy = "fifo" }},
		{"memory threshold over 100", func(c *Config) { c.Crawl.Dispatcher.MemoryThreshold = 120 }},
		{"bad glob", func(c *Config) { c.Crawl.URLPatterns = []string{"[a-"} }},
		{"scroll without browser", func(c *Config) { c.Crawl.Scroll.Enabled = true }},
		{"bad cache mode", func(c *Config) { c.Cache.Mode = "sometimes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}

	if err := validate(Default()); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}
