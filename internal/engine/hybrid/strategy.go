package hybrid

import "github.com/PuerkitoBio/goquery"

// Strategy represents how a fetched page should be completed
type Strategy int

const (
	// StrategyStatic keeps the static response as is
	StrategyStatic Strategy = iota

	// StrategyHybrid keeps the static response and evaluates inline scripts
	StrategyHybrid

	// StrategyDynamic re-renders the page in a browser
	StrategyDynamic
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyStatic:
		return "static"
	case StrategyHybrid:
		return "hybrid"
	case StrategyDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// DetermineStrategy decides which strategy to use based on page characteristics
func DetermineStrategy(doc *goquery.Document, html string) Strategy {
	scriptCount := doc.Find("script").Length()
	if scriptCount == 0 {
		return StrategyStatic
	}
	if NeedsJavaScript(doc, html, scriptCount) {
		return StrategyDynamic
	}
	if doc.Find("script:not([src])").Length() > 0 {
		return StrategyHybrid
	}
	return StrategyStatic
}
