package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// noiseSelector matches elements that never carry readable content.
const noiseSelector = "script, style, link, meta, noscript, iframe, svg, form, input, button, select, textarea, canvas, template"

// CleanHTML removes non-content elements and every attribute except link and
// image targets, so converters only see document structure.
func CleanHTML(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	cleanSelection(doc.Selection)

	htmlStr, err := doc.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(htmlStr), nil
}

func cleanSelection(sel *goquery.Selection) {
	sel.Find(noiseSelector).Remove()
	removeComments(sel)

	sel.Find("*").Each(func(i int, s *goquery.Selection) {
		node := s.Get(0)
		var kept []html.Attribute
		for _, attr := range node.Attr {
			switch {
			case node.Data == "a" && (attr.Key == "href" || attr.Key == "title"):
			case node.Data == "img" && (attr.Key == "src" || attr.Key == "alt" || attr.Key == "title"):
			case attr.Key == "class" || attr.Key == "id":
				// kept for pruning heuristics, ignored by the converter
			default:
				continue
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	})
}

func removeComments(sel *goquery.Selection) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.CommentNode {
				n.RemoveChild(c)
			} else {
				walk(c)
			}
			c = next
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
}
