package metadata

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	urlutil "github.com/law-makers/deepcrawl/internal/utils/url"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Extract fills the title, meta tags and outlinks of result from doc.
// Links are resolved against baseURL (or a <base href> when present),
// normalized and deduplicated in document order.
func Extract(doc *goquery.Document, baseURL string, result *models.FetchResult) {
	if doc == nil || result == nil {
		return
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(i int, sel *goquery.Selection) {
		content, _ := sel.Attr("content")
		if name, exists := sel.Attr("name"); exists {
			result.Metadata[strings.ToLower(name)] = content
		}
		if property, exists := sel.Attr("property"); exists {
			result.Metadata[strings.ToLower(property)] = content
		}
	})

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && href != "" {
		baseURL = urlutil.ResolveURL(baseURL, href)
	}
	result.Links = ExtractLinks(doc, baseURL)
}

// ExtractLinks returns the page's navigable outlinks as absolute, normalized URLs.
func ExtractLinks(doc *goquery.Document, baseURL string) []string {
	var links []string
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		if rel, _ := sel.Attr("rel"); strings.Contains(strings.ToLower(rel), "nofollow") {
			return
		}
		href, _ := sel.Attr("href")
		abs, err := urlutil.ResolveAndNormalize(baseURL, href)
		if err != nil {
			return
		}
		links = append(links, abs)
	})
	return FilterUniqueLinks(links)
}
