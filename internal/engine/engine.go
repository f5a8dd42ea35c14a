// Package engine defines the page fetcher contract and the fetchers that
// decorate other fetchers. Concrete fetchers live in the static and dynamic
// subpackages.
package engine

import (
	"context"

	"github.com/law-makers/deepcrawl/pkg/models"
)

// Fetcher retrieves one URL.
//
// Implementations return a result with a non-zero StatusCode for every HTTP
// response, successful or not, and a nil result with an error only when no
// response arrived. Fetchers must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error)

	// Name returns the name of the fetcher implementation
	Name() string
}

// Renderer selects the fetcher used for a crawl.
type Renderer string

const (
	RendererStatic  Renderer = "static"
	RendererBrowser Renderer = "browser"
	RendererAuto    Renderer = "auto"
)
