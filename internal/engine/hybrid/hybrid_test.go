package hybrid

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/law-makers/deepcrawl/pkg/models"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

var articleBody = "<p>" + strings.Repeat("plenty of server rendered words here ", 20) + "</p>"

func TestDetermineStrategy(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Strategy
	}{
		{"no scripts", "<html><body>" + articleBody + "</body></html>", StrategyStatic},
		{"external scripts only", `<html><body>` + articleBody + `<script src="/a.js"></script></body></html>`, StrategyStatic},
		{"inline data script", `<html><body>` + articleBody + `<script>var pageData = {id: 7};</script></body></html>`, StrategyHybrid},
		{"react mount", `<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`, StrategyDynamic},
		{"empty shell", `<html><body><div>Loading</div><script src="/app.js"></script></body></html>`, StrategyDynamic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineStrategy(parse(t, tt.html), tt.html); got != tt.want {
				t.Errorf("DetermineStrategy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractScriptData(t *testing.T) {
	doc := parse(t, `<html><body>
<script>var pageData = {title: "Intro", tags: ["a", "b"]}; var count = 3;</script>
<script>document.getElementById("x").innerHTML = "boom";</script>
<script type="application/ld+json">{"@type": "Article"}</script>
<script>function helper() {}</script>
</body></html>`)

	data := ExtractScriptData(doc, "https://example.com/")

	if data["js:pageData"] != `{"tags":["a","b"],"title":"Intro"}` {
		t.Errorf("pageData = %q", data["js:pageData"])
	}
	if data["js:count"] != "3" {
		t.Errorf("count = %q", data["js:count"])
	}
	if _, ok := data["js:helper"]; ok {
		t.Error("functions should not be captured")
	}
	if _, ok := data["js:window"]; ok {
		t.Error("standard globals should not be captured")
	}
}

func TestExtractScriptData_InfiniteLoopInterrupted(t *testing.T) {
	doc := parse(t, `<html><body><script>var before = 1; while (true) {}</script><script>var after = 2;</script></body></html>`)
	data := ExtractScriptData(doc, "https://example.com/")
	if data["js:after"] != "2" {
		t.Errorf("scripts after an interrupted one should still run: %v", data)
	}
}

type stubFetcher struct {
	name  string
	html  string
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(_ context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.FetchResult{URL: req.URL, StatusCode: 200, ContentType: "text/html", RawContent: s.html, Success: true}, nil
}

func TestFetcher_UpgradesToBrowser(t *testing.T) {
	static := &stubFetcher{name: "static", html: `<html><body><div id="root"></div><script src="/b.js"></script></body></html>`}
	browser := &stubFetcher{name: "browser", html: "<html><body>rendered</body></html>"}

	res, err := New(static, browser).Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if err != nil {
		t.Fatal(err)
	}
	if browser.calls != 1 || res.RawContent != browser.html {
		t.Errorf("expected browser render, calls=%d", browser.calls)
	}
}

func TestFetcher_BrowserFailureKeepsStatic(t *testing.T) {
	static := &stubFetcher{name: "static", html: `<html><body><div id="root"></div><script>var boot = true;</script></body></html>`}
	browser := &stubFetcher{name: "browser", err: errors.New("chrome missing")}

	res, err := New(static, browser).Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RawContent != static.html {
		t.Error("expected static result")
	}
	if res.Metadata["js:boot"] != "true" {
		t.Errorf("expected inline script data, got %v", res.Metadata)
	}
}

func TestFetcher_ScrollGoesToBrowser(t *testing.T) {
	static := &stubFetcher{name: "static", html: "<html></html>"}
	browser := &stubFetcher{name: "browser", html: "<html></html>"}
	New(static, browser).Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/", Scroll: &models.ScrollOptions{MaxScrolls: 1}})
	if static.calls != 0 || browser.calls != 1 {
		t.Errorf("scroll requests should skip the static fetch: static=%d browser=%d", static.calls, browser.calls)
	}
}
