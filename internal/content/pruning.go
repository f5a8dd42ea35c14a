package content

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// ThresholdType selects how pruning compares node scores.
type ThresholdType string

const (
	// ThresholdFixed compares the raw composite score.
	ThresholdFixed ThresholdType = "fixed"
	// ThresholdDynamic scales the score by tag importance and adjusts the
	// threshold for text-heavy and link-heavy nodes.
	ThresholdDynamic ThresholdType = "dynamic"
)

// PruningConfig parameterizes the pruning filter.
type PruningConfig struct {
	Threshold        float64
	ThresholdType    ThresholdType
	MinWordThreshold int
	// Weights overrides DefaultPruningWeights when non-zero.
	Weights PruningWeights
}

// PruningWeights are the coefficients of the composite node score.
type PruningWeights struct {
	TextDensity float64
	LinkDensity float64
	TagWeight   float64
	ClassID     float64
	TextLength  float64
}

func (w PruningWeights) total() float64 {
	return w.TextDensity + w.LinkDensity + w.TagWeight + w.ClassID + w.TextLength
}

// DefaultPruningWeights favour text density.
var DefaultPruningWeights = PruningWeights{
	TextDensity: 0.4,
	LinkDensity: 0.2,
	TagWeight:   0.2,
	ClassID:     0.1,
	TextLength:  0.1,
}

var tagWeights = map[string]float64{
	"article": 1.5, "main": 1.4, "section": 1.0, "p": 1.0,
	"h1": 1.2, "h2": 1.1, "h3": 1.0, "h4": 0.9, "h5": 0.8, "h6": 0.7,
	"pre": 1.0, "code": 0.9, "blockquote": 0.9, "table": 0.8,
	"div": 0.5, "li": 0.5, "ul": 0.5, "ol": 0.5, "span": 0.3,
	"nav": 0.2, "footer": 0.2, "aside": 0.2, "header": 0.3,
}

// tagMultipliers apply only in dynamic mode.
var tagMultipliers = map[string]float64{
	"article": 1.5, "main": 1.4, "section": 1.3, "p": 1.2,
	"h1": 1.4, "h2": 1.3, "h3": 1.2, "pre": 1.2,
	"div": 0.7, "span": 0.6,
	"nav": 0.4, "footer": 0.4, "aside": 0.5, "header": 0.6,
}

// textLengthSaturation is the text length (in bytes) at which the length
// component reaches 1.
const textLengthSaturation = 1000

var negativeClassID = regexp.MustCompile(`(?i)nav|footer|header|sidebar|ads|comment|promo|advert|social|share|cookie|banner|menu`)

// Pruning drops low-value DOM subtrees by a composite density score.
type Pruning struct {
	cfg PruningConfig
}

// NewPruning creates a pruning filter.
func NewPruning(cfg PruningConfig) *Pruning {
	if cfg.ThresholdType == "" {
		cfg.ThresholdType = ThresholdDynamic
	}
	if cfg.Weights.total() == 0 {
		cfg.Weights = DefaultPruningWeights
	}
	return &Pruning{cfg: cfg}
}

func (p *Pruning) Strategy() Strategy { return StrategyPruning }

type pruneStats struct {
	scored  int
	removed int
}

// Filter walks the body top-down; a removed node takes its subtree with it,
// a kept node has its children judged in turn.
func (p *Pruning) Filter(ctx context.Context, doc *Document) (*models.FilteredContent, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return nil, err
	}
	cleanSelection(gq.Selection)

	body := gq.Find("body").First()
	if body.Length() == 0 {
		body = gq.Selection
	}

	var st pruneStats
	for _, child := range body.Children().Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.prune(goquery.NewDocumentFromNode(child).Selection, &st)
	}

	var blocks []string
	body.Children().Each(func(_ int, s *goquery.Selection) {
		h, err := goquery.OuterHtml(s)
		if err == nil && strings.TrimSpace(s.Text()) != "" {
			blocks = append(blocks, h)
		}
	})

	log.Debug().
		Str("url", doc.URL).
		Int("scored", st.scored).
		Int("removed", st.removed).
		Int("blocks", len(blocks)).
		Msg("Pruning filter applied")

	return &models.FilteredContent{
		Strategy:     string(StrategyPruning),
		FilteredText: strings.Join(blocks, "\n"),
		Metrics: map[string]float64{
			"nodes_scored":  float64(st.scored),
			"nodes_removed": float64(st.removed),
			"blocks_kept":   float64(len(blocks)),
		},
	}, nil
}

func (p *Pruning) prune(s *goquery.Selection, st *pruneStats) {
	node := s.Get(0)
	m := measure(s)
	st.scored++

	score := p.score(s, m)
	if score < 0 {
		s.Remove()
		st.removed++
		return
	}

	threshold := p.cfg.Threshold
	if p.cfg.ThresholdType == ThresholdDynamic {
		if mult, ok := tagMultipliers[node.Data]; ok {
			score *= mult
		}
		if m.textRatio() > 0.4 {
			threshold *= 0.9
		}
		if m.linkRatio() > 0.6 {
			threshold *= 1.2
		}
	}

	children := s.Children().Nodes
	if score < threshold {
		// A weak container may still wrap good blocks; only link farms and
		// boilerplate-classed containers go wholesale.
		if len(children) == 0 || m.linkRatio() > 0.5 || classIDWeight(s) < 0 {
			s.Remove()
			st.removed++
			return
		}
		for _, child := range children {
			p.prune(goquery.NewDocumentFromNode(child).Selection, st)
		}
		if strings.TrimSpace(s.Text()) == "" {
			s.Remove()
			st.removed++
		}
		return
	}
	for _, child := range children {
		p.prune(goquery.NewDocumentFromNode(child).Selection, st)
	}
}

type nodeMetrics struct {
	text        string
	textLen     int
	tagLen      int
	linkTextLen int
}

func measure(s *goquery.Selection) nodeMetrics {
	text := strings.Join(strings.Fields(s.Text()), " ")
	inner, _ := s.Html()
	links := 0
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		links += len(strings.Join(strings.Fields(a.Text()), " "))
	})
	return nodeMetrics{text: text, textLen: len(text), tagLen: len(inner), linkTextLen: links}
}

func (m nodeMetrics) textRatio() float64 {
	if m.tagLen == 0 {
		return 0
	}
	return float64(m.textLen) / float64(m.tagLen)
}

func (m nodeMetrics) linkRatio() float64 {
	if m.textLen == 0 {
		return 1
	}
	return float64(m.linkTextLen) / float64(m.textLen)
}

// score is the weighted composite, normalized by the weight total; -1 marks
// nodes below the word threshold.
func (p *Pruning) score(s *goquery.Selection, m nodeMetrics) float64 {
	if p.cfg.MinWordThreshold > 0 && len(strings.Fields(m.text)) < p.cfg.MinWordThreshold {
		return -1
	}
	w := p.cfg.Weights

	tag, ok := tagWeights[s.Get(0).Data]
	if !ok {
		tag = 0.5
	}
	length := math.Min(1, math.Log(float64(m.textLen)+1)/math.Log(textLengthSaturation))

	score := w.TextDensity*m.textRatio() +
		w.LinkDensity*(1-math.Min(1, m.linkRatio())) +
		w.TagWeight*tag +
		w.ClassID*classIDWeight(s) +
		w.TextLength*length
	return score / w.total()
}

func classIDWeight(s *goquery.Selection) float64 {
	weight := 0.0
	if class, ok := s.Attr("class"); ok {
		if negativeClassID.MatchString(class) {
			weight -= 0.5
		} else {
			weight += 0.5
		}
	}
	if id, ok := s.Attr("id"); ok {
		if negativeClassID.MatchString(id) {
			weight -= 0.5
		} else {
			weight += 0.5
		}
	}
	return weight
}
