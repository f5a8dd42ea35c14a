package content

import (
	"fmt"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	urlutil "github.com/law-makers/deepcrawl/internal/utils/url"
)

// MarkdownOptions controls HTML to markdown rendering.
type MarkdownOptions struct {
	IgnoreLinks  bool
	IgnoreImages bool
	// EscapeHTML escapes markdown syntax characters found in text.
	EscapeHTML bool
	// BodyWidth wraps paragraph text at this many columns; 0 disables.
	BodyWidth int
	// SkipInternalLinks renders same-page anchors (#...) as plain text.
	SkipInternalLinks bool
}

// Markdown renders cleaned HTML as GitHub-flavored markdown.
type Markdown struct {
	opts MarkdownOptions
}

// NewMarkdown creates a renderer.
func NewMarkdown(opts MarkdownOptions) *Markdown {
	return &Markdown{opts: opts}
}

// Convert cleans htmlContent and converts it, resolving links against pageURL.
func (m *Markdown) Convert(pageURL, htmlContent string) (string, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return "", nil
	}

	escape := "disabled"
	if m.opts.EscapeHTML {
		escape = "basic"
	}
	converter := md.NewConverter("", true, &md.Options{EscapeMode: escape})
	converter.Use(plugin.GitHubFlavored())

	converter.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			text := strings.TrimSpace(content)
			href, exists := selec.Attr("href")
			if !exists || m.opts.IgnoreLinks {
				return &text
			}
			if m.opts.SkipInternalLinks && strings.HasPrefix(strings.TrimSpace(href), "#") {
				return &text
			}

			resolved := urlutil.ResolveURL(pageURL, href)
			title, hasTitle := selec.Attr("title")
			var titlePart string
			if hasTitle {
				titlePart = fmt.Sprintf(" %q", title)
			}
			str := fmt.Sprintf("[%s](%s%s)", text, resolved, titlePart)
			return &str
		},
	})

	if m.opts.IgnoreImages {
		converter.AddRules(md.Rule{
			Filter: []string{"img", "picture"},
			Replacement: func(string, *goquery.Selection, *md.Options) *string {
				empty := ""
				return &empty
			},
		})
	}

	cleaned, err := CleanHTML(htmlContent)
	if err != nil {
		return "", err
	}

	out, err := converter.ConvertString(cleaned)
	if err != nil {
		return "", err
	}
	if m.opts.BodyWidth > 0 {
		out = wrap(out, m.opts.BodyWidth)
	}
	return strings.TrimSpace(out), nil
}

// wrap folds plain paragraph lines at width. Headings, lists, quotes,
// tables and fenced code are left alone.
func wrap(text string, width int) string {
	lines := strings.Split(text, "\n")
	var out []string
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence || len(line) <= width || !isParagraphLine(line) {
			out = append(out, line)
			continue
		}

		var cur strings.Builder
		for _, word := range strings.Fields(line) {
			if cur.Len() > 0 && cur.Len()+1+len(word) > width {
				out = append(out, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(word)
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
	}
	return strings.Join(out, "\n")
}

func isParagraphLine(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	switch line[0] {
	case '#', '|', '>', '-', '*', '+':
		return false
	}
	if i := strings.IndexByte(line, '.'); i > 0 && i < 4 {
		if _, err := strconv.Atoi(line[:i]); err == nil {
			return false
		}
	}
	return true
}
