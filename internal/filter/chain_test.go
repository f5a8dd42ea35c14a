package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/law-makers/deepcrawl/pkg/models"
)

func cand(url string, depth int) models.CrawlCandidate {
	return models.CrawlCandidate{URL: url, Depth: depth}
}

func TestChain_Accepts(t *testing.T) {
	chain, err := NewChain(Config{
		SeedURLs:       []string{"https://example.com/"},
		MaxDepth:       2,
		URLPatterns:    []string{"*/docs/*", "https://example.com/"},
		BlockedDomains: []string{"ads.example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		url    string
		depth  int
		want   bool
		filter string
	}{
		{"seed", "https://example.com/", 0, true, ""},
		{"docs page", "https://example.com/docs/intro", 1, true, ""},
		{"too deep", "https://example.com/docs/a", 3, false, "depth"},
		{"external", "https://other.org/docs/a", 1, false, "external"},
		{"subdomain not included", "https://blog.example.com/docs/a", 1, false, "external"},
		{"pattern miss", "https://example.com/blog/post", 1, false, "url-pattern"},
		{"blocked", "https://ads.example.com/docs/x", 1, false, "domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := chain.Accepts(context.Background(), cand(tt.url, tt.depth))
			if d.Accepted != tt.want {
				t.Fatalf("Accepts(%s) = %v (%s: %s), want %v", tt.url, d.Accepted, d.Filter, d.Reason, tt.want)
			}
			if !tt.want && d.Filter != tt.filter {
				t.Errorf("rejected by %q, want %q", d.Filter, tt.filter)
			}
		})
	}
}

func TestChain_SubdomainsAndExternal(t *testing.T) {
	chain, err := NewChain(Config{
		SeedURLs:          []string{"https://example.com/"},
		MaxDepth:          1,
		IncludeSubdomains: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d := chain.Accepts(context.Background(), cand("https://blog.example.com/a", 1)); !d.Accepted {
		t.Errorf("subdomain should be internal: %+v", d)
	}
	if d := chain.Accepts(context.Background(), cand("https://notexample.com/a", 1)); d.Accepted {
		t.Error("suffix-only match must not count as a subdomain")
	}

	open, err := NewChain(Config{SeedURLs: []string{"https://example.com/"}, MaxDepth: 1, IncludeExternal: true})
	if err != nil {
		t.Fatal(err)
	}
	if d := open.Accepts(context.Background(), cand("https://other.org/", 1)); !d.Accepted {
		t.Errorf("external allowed when IncludeExternal is set: %+v", d)
	}
}

func TestChain_AllowedDomains(t *testing.T) {
	chain, err := NewChain(Config{
		SeedURLs:        []string{"https://example.com/"},
		MaxDepth:        3,
		IncludeExternal: true,
		AllowedDomains:  []string{"https://docs.example.org", "example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d := chain.Accepts(context.Background(), cand("https://docs.example.org/x", 1)); !d.Accepted {
		t.Errorf("allowed domain rejected: %+v", d)
	}
	if d := chain.Accepts(context.Background(), cand("https://other.org/x", 1)); d.Accepted || d.Filter != "domain" {
		t.Errorf("unlisted domain accepted: %+v", d)
	}
}

func TestChain_InvalidPattern(t *testing.T) {
	if _, err := NewChain(Config{URLPatterns: []string{"[unclosed"}}); err == nil {
		t.Error("expected error for malformed glob")
	}
}

func TestChain_AcceptsResponse(t *testing.T) {
	chain, err := NewChain(Config{AllowedContentTypes: []string{"text/*", "application/pdf"}})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		ct   string
		want bool
	}{
		{"text/html; charset=utf-8", true},
		{"TEXT/PLAIN", true},
		{"application/pdf", true},
		{"image/png", false},
		{"application/json", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := chain.AcceptsResponse(tt.ct).Accepted; got != tt.want {
			t.Errorf("AcceptsResponse(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}

	all, _ := NewChain(Config{})
	if !all.AcceptsResponse("image/png").Accepted {
		t.Error("empty allow-list should accept every content type")
	}
}

func TestChain_ExtraFiltersRunLast(t *testing.T) {
	var calls atomic.Int32
	extra := filterFunc(func(c models.CrawlCandidate) Decision {
		calls.Add(1)
		return accept()
	})
	chain, err := NewChain(Config{SeedURLs: []string{"https://example.com/"}, MaxDepth: 0}, extra)
	if err != nil {
		t.Fatal(err)
	}
	chain.Accepts(context.Background(), cand("https://example.com/deep", 1))
	if calls.Load() != 0 {
		t.Error("extra filter ran after an earlier rejection")
	}
	chain.Accepts(context.Background(), cand("https://example.com/", 0))
	if calls.Load() != 1 {
		t.Errorf("extra filter calls = %d, want 1", calls.Load())
	}
}

type filterFunc func(models.CrawlCandidate) Decision

func (f filterFunc) Name() string { return "func" }

func (f filterFunc) Apply(_ context.Context, c models.CrawlCandidate) Decision { return f(c) }

func TestRobots(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRobots(srv.Client(), "deepcrawl-test", 0)
	ctx := context.Background()

	if d := r.Apply(ctx, cand(srv.URL+"/public/page", 1)); !d.Accepted {
		t.Errorf("public page rejected: %+v", d)
	}
	if d := r.Apply(ctx, cand(srv.URL+"/private/page", 1)); d.Accepted {
		t.Error("private page accepted")
	}
	if fetches.Load() != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", fetches.Load())
	}
}

func TestRobots_MissingFileAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewRobots(srv.Client(), "deepcrawl-test", 0)
	if d := r.Apply(context.Background(), cand(srv.URL+"/anything", 1)); !d.Accepted {
		t.Errorf("404 robots.txt should allow everything: %+v", d)
	}
}
