package dynamic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/pkg/models"
)

func TestFetcher_PoolUnavailable(t *testing.T) {
	boom := errors.New("chrome not installed")
	f := New(func(context.Context) (*BrowserPool, error) { return nil, boom }, Options{})

	if f.Name() != "browser" {
		t.Errorf("Expected name 'browser', got '%s'", f.Name())
	}

	_, err := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected error when pool cannot be created")
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeBrowser {
		t.Errorf("expected BROWSER engine error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("underlying pool error should be preserved")
	}
}

func TestNewScrollDriver_Defaults(t *testing.T) {
	d := NewScrollDriver("", ".row")
	if d.container != "body" {
		t.Errorf("container = %q, want body", d.container)
	}
	if got := jsString(`div[data-x="1"]`); got != `"div[data-x=\"1\"]"` {
		t.Errorf("selector not quoted for JS: %s", got)
	}
}

func TestFetcher_LiveBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if FindChrome() == "" {
		t.Skip("Chrome not installed")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Rendered</title></head><body>
<ul id="list"></ul>
<script>
for (let i = 0; i < 3; i++) {
	const li = document.createElement('li');
	li.textContent = 'Row ' + i;
	document.getElementById('list').appendChild(li);
}
</script></body></html>`)
	}))
	defer server.Close()

	pool, err := NewBrowserPool(BrowserPoolOptions{Size: 1, Headless: true})
	if err != nil {
		t.Skipf("browser pool unavailable: %v", err)
	}
	defer pool.Close()

	f := New(func(context.Context) (*BrowserPool, error) { return pool, nil }, Options{
		Timeout: 20 * time.Second,
		JSWait:  100 * time.Millisecond,
	})

	result, err := f.Fetch(context.Background(), models.FetchRequest{
		URL: server.URL,
		Scroll: &models.ScrollOptions{
			ContainerSelector: "#list",
			MaxScrolls:        2,
		},
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Success || result.StatusCode != 200 {
		t.Fatalf("unexpected result: status=%d success=%v", result.StatusCode, result.Success)
	}
	if result.Title != "Rendered" {
		t.Errorf("Expected title 'Rendered', got '%s'", result.Title)
	}
	if !strings.Contains(result.RawContent, "Row 2") {
		t.Error("script-rendered rows missing from content")
	}
	if result.Metadata["scroll_items"] != "3" {
		t.Errorf("scroll_items = %q, want 3", result.Metadata["scroll_items"])
	}
}
