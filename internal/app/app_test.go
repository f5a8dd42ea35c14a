package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/law-makers/deepcrawl/internal/config"
	"github.com/law-makers/deepcrawl/internal/content"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Crawl.Dispatcher.Policy = "semaphore"
	cfg.Crawl.Dispatcher.MaxConcurrent = 2
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestNew_Renderers(t *testing.T) {
	tests := []struct {
		renderer  string
		cacheMode string
		want      string
	}{
		{"static", "bypass", "static"},
		{"browser", "bypass", "browser"},
		{"auto", "bypass", "auto"},
		{"static", "enabled", "static+cache"},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.Crawl.Renderer = tt.renderer
		cfg.Cache.Mode = tt.cacheMode
		a := newApp(t, cfg)
		if got := a.Fetcher.Name(); got != tt.want {
			t.Errorf("renderer %s cache %s: fetcher %q, want %q", tt.renderer, tt.cacheMode, got, tt.want)
		}
		if (a.Cache != nil) != (tt.cacheMode != "bypass") {
			t.Errorf("cache mode %s: cache allocated = %v", tt.cacheMode, a.Cache != nil)
		}
	}
}

func TestNew_ContentStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Crawl.Filter.Strategy = "bm25"
	cfg.Crawl.Filter.Query = "tutorial"
	a := newApp(t, cfg)
	if a.Pipeline.Strategy() != content.StrategyBM25 {
		t.Errorf("strategy = %s", a.Pipeline.Strategy())
	}
}

func TestNew_LLMNeedsCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CI", "true")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := testConfig()
	cfg.Crawl.Filter.Strategy = "llm"
	cfg.Crawl.Filter.LLMProvider = "openai/gpt-4o-mini"
	if _, err := New(context.Background(), cfg); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid without an API key, got %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	a := newApp(t, cfg)
	if a.Pipeline.Strategy() != content.StrategyLLM {
		t.Errorf("strategy = %s", a.Pipeline.Strategy())
	}
}

func TestNew_InvalidProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Proxies = []string{"::bad"}
	if _, err := New(context.Background(), cfg); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestNewCrawler_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		case "/":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><p>Home page</p><a href="/public">p</a><a href="/private">x</a></body></html>`))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><p>Leaf</p></body></html>`))
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Crawl.MaxDepth = 1
	cfg.Crawl.RespectRobots = true
	a := newApp(t, cfg)

	c, err := a.NewCrawler([]string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	outcomes, summary, err := c.Run(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range outcomes {
		if strings.HasSuffix(o.Candidate.URL, "/private") {
			t.Error("robots-disallowed URL was fetched")
		}
	}
	if summary.Succeeded != 2 || summary.Filtered != 1 {
		t.Errorf("succeeded=%d filtered=%d", summary.Succeeded, summary.Filtered)
	}
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	cfg := testConfig()
	cfg.JSONLog = true
	cfg.LogLevel = "debug"
	logger := SetupLogger(cfg, &buf)
	logger.Debug().Str("url", "https://example.com").Msg("hello")
	if !strings.Contains(buf.String(), `"url":"https://example.com"`) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}

	buf.Reset()
	cfg.LogLevel = "info"
	logger = SetupLogger(cfg, &buf)
	logger.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Errorf("info should be suppressed by default, got %q", buf.String())
	}
}
