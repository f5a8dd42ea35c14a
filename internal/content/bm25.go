package content

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/kljensen/snowball/english"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// Okapi BM25 defaults.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// BM25 scores a fixed corpus of tokenized documents.
type BM25 struct {
	k1, b  float64
	docs   [][]string
	tf     []map[string]int
	df     map[string]int
	avgLen float64
}

// NewBM25 indexes corpus. Zero k1 or b select the defaults.
func NewBM25(corpus [][]string, k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 || b > 1 {
		b = DefaultB
	}
	idx := &BM25{k1: k1, b: b, docs: corpus, df: make(map[string]int)}
	total := 0
	for _, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, t := range doc {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.tf = append(idx.tf, tf)
		total += len(doc)
	}
	if len(corpus) > 0 {
		idx.avgLen = float64(total) / float64(len(corpus))
	}
	return idx
}

// IDF is the smoothed inverse document frequency, always positive.
func (idx *BM25) IDF(term string) float64 {
	n := float64(len(idx.docs))
	df := float64(idx.df[term])
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// Score returns the BM25 score of document i for query.
func (idx *BM25) Score(query []string, i int) float64 {
	if i < 0 || i >= len(idx.docs) || idx.avgLen == 0 {
		return 0
	}
	tf := idx.tf[i]
	dl := float64(len(idx.docs[i]))
	score := 0.0
	for _, q := range query {
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		norm := f + idx.k1*(1-idx.b+idx.b*dl/idx.avgLen)
		score += idx.IDF(q) * f * (idx.k1 + 1) / norm
	}
	return score
}

// Tokenize lower-cases text and splits it into word tokens, optionally
// reducing each to its English stem.
func Tokenize(text string, stem bool) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if !stem {
		return words
	}
	out := words[:0]
	for _, w := range words {
		if s := english.Stem(w, false); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BM25Config parameterizes the BM25 filter.
type BM25Config struct {
	Query       string
	Threshold   float64
	UseStemming bool
	K1          float64
	B           float64
}

// priorityTags boost chunks whose block tag signals importance.
var priorityTags = map[string]float64{
	"h1": 5.0, "h2": 4.0, "h3": 3.0, "title": 4.0,
	"strong": 2.0, "b": 1.5, "em": 1.5, "blockquote": 2.0,
	"code": 2.0, "pre": 1.5, "th": 1.5,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "td": true, "th": true, "blockquote": true, "pre": true,
	"dd": true, "dt": true, "figcaption": true, "summary": true,
}

// BM25Filter keeps the blocks that rank against a query.
type BM25Filter struct {
	cfg BM25Config
}

// NewBM25Filter creates a BM25 filter.
func NewBM25Filter(cfg BM25Config) *BM25Filter {
	return &BM25Filter{cfg: cfg}
}

func (f *BM25Filter) Strategy() Strategy { return StrategyBM25 }

type chunk struct {
	index int
	tag   string
	text  string
	html  string
}

// Filter ranks leaf blocks with BM25 and keeps those at or above the
// threshold, in document order. With no configured query one is derived from
// the page title, description and first heading.
func (f *BM25Filter) Filter(ctx context.Context, doc *Document) (*models.FilteredContent, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(f.cfg.Query)
	derived := false
	if query == "" {
		query = pageQuery(gq, doc)
		derived = true
	}

	cleanSelection(gq.Selection)
	chunks := extractChunks(gq)

	fc := &models.FilteredContent{
		Strategy: string(StrategyBM25),
		Metrics:  map[string]float64{"chunks": float64(len(chunks))},
	}
	qTokens := Tokenize(query, f.cfg.UseStemming)
	if len(chunks) == 0 || len(qTokens) == 0 {
		log.Debug().Str("url", doc.URL).Msg("BM25 filter found nothing to rank")
		return fc, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	corpus := make([][]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = Tokenize(c.text, f.cfg.UseStemming)
	}
	idx := NewBM25(corpus, f.cfg.K1, f.cfg.B)

	var kept []chunk
	seen := make(map[string]bool)
	for i, c := range chunks {
		score := idx.Score(qTokens, i)
		if w, ok := priorityTags[c.tag]; ok {
			score *= w
		}
		if score < f.cfg.Threshold || seen[c.text] {
			continue
		}
		seen[c.text] = true
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].index < kept[j].index })

	parts := make([]string, len(kept))
	for i, c := range kept {
		parts[i] = c.html
	}
	fc.FilteredText = strings.Join(parts, "\n")
	fc.Metrics["kept"] = float64(len(kept))
	if derived {
		fc.Metrics["derived_query"] = 1
	}

	log.Debug().
		Str("url", doc.URL).
		Str("query", query).
		Int("chunks", len(chunks)).
		Int("kept", len(kept)).
		Msg("BM25 filter applied")
	return fc, nil
}

// pageQuery builds a query from the page's own description of itself.
func pageQuery(gq *goquery.Document, doc *Document) string {
	var parts []string
	title := doc.Title
	if title == "" {
		title = strings.TrimSpace(gq.Find("title").First().Text())
	}
	parts = append(parts, title)

	desc := doc.Metadata["description"]
	if desc == "" {
		desc, _ = gq.Find(`meta[name="description"]`).First().Attr("content")
	}
	parts = append(parts, desc)

	if kw, ok := gq.Find(`meta[name="keywords"]`).First().Attr("content"); ok {
		parts = append(parts, kw)
	}
	parts = append(parts, gq.Find("h1").First().Text())
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// extractChunks returns the innermost block elements with text, so nested
// containers do not duplicate their children.
func extractChunks(gq *goquery.Document) []chunk {
	var chunks []chunk
	root := gq.Find("body").First()
	if root.Length() == 0 {
		root = gq.Selection
	}
	root.Find("*").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		if !blockTags[tag] || hasBlockChild(s.Get(0)) {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		h, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		if strong := s.Find("strong, b, em, code").First(); strong.Length() > 0 && len(strong.Text()) == len(s.Text()) {
			tag = goquery.NodeName(strong)
		}
		chunks = append(chunks, chunk{index: len(chunks), tag: tag, text: text, html: h})
	})
	return chunks
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (blockTags[c.Data] || hasBlockChild(c)) {
			return true
		}
	}
	return false
}
