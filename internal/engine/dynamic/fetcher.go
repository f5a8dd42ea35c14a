package dynamic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/internal/engine/metadata"
	"github.com/law-makers/deepcrawl/internal/scroll"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// PoolFunc returns the browser pool, creating it on first use.
type PoolFunc func(ctx context.Context) (*BrowserPool, error)

// Options configures a Fetcher.
type Options struct {
	Timeout time.Duration
	// JSWait is how long to let scripts run after navigation.
	JSWait time.Duration
}

// Fetcher implements engine.Fetcher with headless Chrome.
type Fetcher struct {
	pool    PoolFunc
	timeout time.Duration
	jsWait  time.Duration
}

// New creates a browser fetcher.
func New(pool PoolFunc, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Fetcher{pool: pool, timeout: opts.Timeout, jsWait: opts.JSWait}
}

// Name returns the name of this fetcher
func (d *Fetcher) Name() string {
	return "browser"
}

// Fetch renders a page in a pooled tab. With req.Scroll set, the scroll
// container's children are replaced by everything the reconciler collected.
func (d *Fetcher) Fetch(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error) {
	start := time.Now()

	log.Debug().
		Str("url", req.URL).
		Str("fetcher", d.Name()).
		Msg("Starting fetch")

	pool, err := d.pool(ctx)
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeBrowser, req.URL, "browser unavailable", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	bc, err := pool.Acquire(ctx)
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeBrowser, req.URL, "failed to acquire browser from pool", err)
	}
	defer pool.Release(bc)

	tabCtx, cancel := context.WithTimeout(bc.Ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	result := &models.FetchResult{
		URL:       req.URL,
		FetchedAt: time.Now(),
		Headers:   make(map[string]string),
		Metadata:  make(map[string]string),
	}

	var (
		mu         sync.Mutex
		statusCode int64
		mimeType   string
		captured   bool
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		// Redirect hops arrive first; keep the last document response.
		captured = true
		statusCode = resp.Response.Status
		mimeType = resp.Response.MimeType
		for key, value := range resp.Response.Headers {
			if s, ok := value.(string); ok {
				result.Headers[key] = s
			}
		}
	})

	var (
		htmlContent string
		finalURL    string
		scrolled    *scroll.Result
	)
	tasks := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(req.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return sleep(ctx, d.jsWait)
		}),
	}
	if req.Scroll != nil {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			driver := NewScrollDriver(req.Scroll.ContainerSelector, req.Scroll.ItemSelector)
			res, err := scroll.Run(ctx, driver, scroll.Options{
				MaxScrolls:      req.Scroll.MaxScrolls,
				WaitAfterScroll: req.Scroll.WaitAfterScroll,
			})
			if err != nil {
				return fmt.Errorf("virtual scroll: %w", err)
			}
			scrolled = res
			return nil
		}))
	}
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, tasks...); err != nil {
		return nil, engine.Classify(req.URL, err)
	}

	mu.Lock()
	if captured {
		result.StatusCode = int(statusCode)
		result.ContentType = mimeType
	} else {
		result.StatusCode = 200
		result.ContentType = "text/html"
	}
	mu.Unlock()

	result.ResponseTime = time.Since(start).Milliseconds()

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		result.ErrorKind = models.ErrKindFetchFailed
		result.Error = fmt.Sprintf("HTTP %d", result.StatusCode)
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeParseError, req.URL, "failed to parse rendered HTML", err)
	}

	if scrolled != nil {
		container := doc.Find(req.Scroll.ContainerSelector).First()
		if container.Length() == 0 {
			container = doc.Find("body").First()
		}
		container.SetHtml(strings.Join(scrolled.Items, "\n"))
		result.Metadata["scroll_count"] = fmt.Sprint(scrolled.State.ScrollCount)
		result.Metadata["scroll_items"] = fmt.Sprint(len(scrolled.Items))
		if htmlContent, err = goquery.OuterHtml(doc.Selection); err != nil {
			return nil, engine.NewEngineError(engine.ErrCodeParseError, req.URL, "failed to serialize merged HTML", err)
		}
	}

	if finalURL == "" {
		finalURL = req.URL
	}
	result.RawContent = htmlContent
	result.Success = true
	metadata.Extract(doc, finalURL, result)

	log.Debug().
		Str("url", req.URL).
		Int("status", result.StatusCode).
		Int64("response_time_ms", result.ResponseTime).
		Int("links", len(result.Links)).
		Msg("Fetch completed")

	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
