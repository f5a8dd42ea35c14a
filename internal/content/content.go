// Package content reduces a fetched page to the parts worth keeping.
//
// One Filter strategy is active per crawl: density pruning, BM25 ranking
// against a query, or LLM extraction over token-bounded chunks. The Pipeline
// runs the filter and renders both the raw and the filtered markdown.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/law-makers/deepcrawl/internal/llm"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Strategy selects a filter implementation.
type Strategy string

const (
	StrategyNone    Strategy = "none"
	StrategyPruning Strategy = "pruning"
	StrategyBM25    Strategy = "bm25"
	StrategyLLM     Strategy = "llm"
)

// ErrStrategyFailed marks a filter that produced no usable output.
var ErrStrategyFailed = errors.New("content filter failed")

// ParseStrategy maps a config value to a Strategy. Empty means none.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StrategyNone:
		return StrategyNone, nil
	case StrategyPruning, StrategyBM25, StrategyLLM:
		return st, nil
	default:
		return "", fmt.Errorf("unknown content filter %q", s)
	}
}

// Document is a fetched HTML page.
type Document struct {
	URL      string
	HTML     string
	Title    string
	Metadata map[string]string
}

// Filter reduces a document. FilteredText is HTML for the DOM strategies and
// markdown for the LLM strategy, which also sets FitMarkdown.
type Filter interface {
	Filter(ctx context.Context, doc *Document) (*models.FilteredContent, error)
	Strategy() Strategy
}

// Config carries the parameters of every strategy; only the selected
// strategy's fields are read.
type Config struct {
	Strategy Strategy

	Pruning PruningConfig
	BM25    BM25Config
	LLM     LLMConfig
}

// NewFilter builds the configured filter. backend is required for the LLM
// strategy only.
func NewFilter(cfg Config, backend llm.Backend, md *Markdown) (Filter, error) {
	switch cfg.Strategy {
	case "", StrategyNone:
		return Passthrough{}, nil
	case StrategyPruning:
		return NewPruning(cfg.Pruning), nil
	case StrategyBM25:
		return NewBM25Filter(cfg.BM25), nil
	case StrategyLLM:
		if backend == nil {
			return nil, errors.New("llm content filter requires a backend")
		}
		return NewLLMFilter(cfg.LLM, backend, md), nil
	default:
		return nil, fmt.Errorf("unknown content filter %q", cfg.Strategy)
	}
}

// Passthrough keeps the page as is.
type Passthrough struct{}

func (Passthrough) Strategy() Strategy { return StrategyNone }

func (Passthrough) Filter(_ context.Context, doc *Document) (*models.FilteredContent, error) {
	return &models.FilteredContent{Strategy: string(StrategyNone), FilteredText: doc.HTML}, nil
}

// Pipeline renders raw markdown for every page and filtered markdown when a
// strategy other than none is active.
type Pipeline struct {
	filter       Filter
	md           *Markdown
	stripCookies bool
}

// NewPipeline creates a pipeline. filter may be nil.
func NewPipeline(filter Filter, md *Markdown, stripCookies bool) *Pipeline {
	if md == nil {
		md = NewMarkdown(MarkdownOptions{})
	}
	return &Pipeline{filter: filter, md: md, stripCookies: stripCookies}
}

// Strategy reports the active strategy.
func (p *Pipeline) Strategy() Strategy {
	if p.filter == nil {
		return StrategyNone
	}
	return p.filter.Strategy()
}

// Process returns the raw markdown and, for an active strategy, the filtered
// content. A filter error leaves the raw markdown usable.
func (p *Pipeline) Process(ctx context.Context, doc *Document) (string, *models.FilteredContent, error) {
	raw, err := p.md.Convert(doc.URL, doc.HTML)
	if err != nil {
		return "", nil, fmt.Errorf("render markdown: %w", err)
	}
	if p.stripCookies {
		raw, _ = StripCookieConsent(raw)
	}

	if p.Strategy() == StrategyNone {
		return raw, nil, nil
	}

	fc, err := p.filter.Filter(ctx, doc)
	if err != nil {
		return raw, fc, err
	}
	if fc.FitMarkdown == "" && fc.FilteredText != "" {
		fit, err := p.md.Convert(doc.URL, fc.FilteredText)
		if err != nil {
			return raw, fc, fmt.Errorf("%w: render filtered markdown: %v", ErrStrategyFailed, err)
		}
		fc.FitMarkdown = fit
	}
	if p.stripCookies {
		fc.FitMarkdown, _ = StripCookieConsent(fc.FitMarkdown)
	}
	return raw, fc, nil
}
