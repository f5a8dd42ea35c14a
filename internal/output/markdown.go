package output

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// MarkdownSink writes one markdown file per successful page. A page with
// filtered content gets only its filtered markdown; otherwise its raw
// markdown is written.
type MarkdownSink struct {
	dir   string
	names map[string]int
	files []string
}

// NewMarkdownSink creates dir if needed.
func NewMarkdownSink(dir string) (*MarkdownSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &MarkdownSink{dir: dir, names: make(map[string]int)}, nil
}

// Write saves o when it succeeded and produced markdown.
func (s *MarkdownSink) Write(_ context.Context, o *models.CrawlOutcome) error {
	if !o.Succeeded() {
		return nil
	}
	body := o.RawMarkdown
	if o.Filtered != nil {
		body = o.Filtered.FitMarkdown
		if body == "" {
			body = o.Filtered.FilteredText
		}
	} else if body == "" {
		return nil
	}

	pageURL := o.Candidate.URL
	if o.Result != nil && o.Result.URL != "" {
		pageURL = o.Result.URL
	}
	name := s.uniqueName(FilenameFromURL(pageURL))
	path := filepath.Join(s.dir, name+".md")

	content := fmt.Sprintf("# %s\n\n%s", pageURL, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write markdown for %s: %w", pageURL, err)
	}
	s.files = append(s.files, path)
	log.Debug().Str("url", pageURL).Str("file", path).Bool("filtered", o.Filtered != nil).Msg("Saved markdown")
	return nil
}

// Files returns the paths written so far.
func (s *MarkdownSink) Files() []string {
	return append([]string(nil), s.files...)
}

// Dir returns the output directory.
func (s *MarkdownSink) Dir() string { return s.dir }

func (s *MarkdownSink) Close() error { return nil }

func (s *MarkdownSink) uniqueName(base string) string {
	n := s.names[base]
	s.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n+1)
}

var unsafeFilename = regexp.MustCompile(`[^\w\-.]`)

// FilenameFromURL derives a readable file stem from a URL: the last two path
// segments joined with "_" (https://example.com/docs/libraries becomes
// docs_libraries), the last segment alone for one-segment paths, and the
// second-level domain label for the site root.
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "index"
	}
	var name string
	path := strings.TrimRight(u.Path, "/")
	if path != "" {
		parts := strings.Split(path, "/")
		last := parts[len(parts)-1]
		name = last
		if len(parts) >= 2 && parts[len(parts)-2] != "" {
			name = parts[len(parts)-2] + "_" + last
		}
	} else if host := u.Hostname(); net.ParseIP(host) != nil {
		name = host
	} else {
		labels := strings.Split(host, ".")
		if len(labels) >= 2 {
			name = labels[len(labels)-2]
		} else {
			name = labels[0]
		}
	}
	if name == "" {
		return "index"
	}
	return unsafeFilename.ReplaceAllString(name, "_")
}
