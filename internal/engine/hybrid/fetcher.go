// Package hybrid implements the auto renderer: a static fetch that is
// upgraded to inline-script evaluation or a full browser render when the
// page needs it.
package hybrid

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Fetcher chooses per page between the static and browser fetchers.
type Fetcher struct {
	static  engine.Fetcher
	browser engine.Fetcher
}

// New creates an auto fetcher. browser may be nil, in which case pages that
// need a browser keep their static result.
func New(static, browser engine.Fetcher) *Fetcher {
	return &Fetcher{static: static, browser: browser}
}

func (f *Fetcher) Name() string { return "auto" }

// Fetch implements engine.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	if req.Scroll != nil && f.browser != nil {
		return f.browser.Fetch(ctx, req)
	}

	res, err := f.static.Fetch(ctx, req)
	if err != nil || !res.Success || !res.IsHTML() {
		return res, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.RawContent))
	if err != nil {
		return res, nil
	}

	strategy := DetermineStrategy(doc, res.RawContent)
	log.Debug().
		Str("url", req.URL).
		Str("strategy", strategy.String()).
		Msg("Auto renderer decision")

	switch strategy {
	case StrategyDynamic:
		if f.browser != nil {
			rendered, berr := f.browser.Fetch(ctx, req)
			if berr == nil && rendered.Success {
				return rendered, nil
			}
			log.Warn().Err(berr).Str("url", req.URL).Msg("Browser render failed, keeping static result")
		}
		f.addScriptData(doc, res)
	case StrategyHybrid:
		f.addScriptData(doc, res)
	}
	return res, nil
}

func (f *Fetcher) addScriptData(doc *goquery.Document, res *models.FetchResult) {
	data := ExtractScriptData(doc, res.URL)
	if len(data) == 0 {
		return
	}
	if res.Metadata == nil {
		res.Metadata = make(map[string]string, len(data))
	}
	for k, v := range data {
		res.Metadata[k] = v
	}
}
