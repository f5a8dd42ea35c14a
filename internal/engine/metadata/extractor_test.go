package metadata

import (
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/law-makers/deepcrawl/pkg/models"
)

func TestExtract(t *testing.T) {
	html := `<html><head>
	<title> Docs Home </title>
	<meta name="Description" content="All the docs">
	<meta property="og:title" content="Docs">
</head><body>
	<a href="/guide/">Guide</a>
	<a href="tutorial#step-2">Tutorial</a>
	<a href="tutorial">Tutorial again</a>
	<a href="https://EXAMPLE.com:443/guide/">Guide (absolute)</a>
	<a href="mailto:team@example.com">Mail</a>
	<a href="javascript:void(0)">JS</a>
	<a href="#top">Top</a>
	<a href="/private" rel="nofollow">Private</a>
	<a href="https://other.org/x">Other</a>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}

	res := &models.FetchResult{}
	Extract(doc, "https://example.com/docs/index.html", res)

	if res.Title != "Docs Home" {
		t.Errorf("title = %q", res.Title)
	}
	if res.Metadata["description"] != "All the docs" || res.Metadata["og:title"] != "Docs" {
		t.Errorf("metadata = %v", res.Metadata)
	}

	want := []string{
		"https://example.com/guide/",
		"https://example.com/docs/tutorial",
		"https://other.org/x",
	}
	if !reflect.DeepEqual(res.Links, want) {
		t.Errorf("links = %v, want %v", res.Links, want)
	}
}

func TestExtract_BaseHref(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><head><base href="https://cdn.example.com/root/"></head><body><a href="page">p</a></body></html>`))
	res := &models.FetchResult{}
	Extract(doc, "https://example.com/", res)
	if len(res.Links) != 1 || res.Links[0] != "https://cdn.example.com/root/page" {
		t.Errorf("links = %v", res.Links)
	}
}

func TestFilterUniqueLinks(t *testing.T) {
	got := FilterUniqueLinks([]string{"a", "b", "a", "c", "b"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("got %v", got)
	}
}
