// Package app wires configuration into the crawl components and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/deepcrawl/internal/cache"
	"github.com/law-makers/deepcrawl/internal/config"
	"github.com/law-makers/deepcrawl/internal/content"
	"github.com/law-makers/deepcrawl/internal/crawl"
	"github.com/law-makers/deepcrawl/internal/dispatcher"
	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/internal/engine/dynamic"
	"github.com/law-makers/deepcrawl/internal/engine/hybrid"
	"github.com/law-makers/deepcrawl/internal/engine/static"
	"github.com/law-makers/deepcrawl/internal/filter"
	"github.com/law-makers/deepcrawl/internal/llm"
	"github.com/law-makers/deepcrawl/internal/proxy"
	"github.com/law-makers/deepcrawl/internal/ratelimit"
	"github.com/law-makers/deepcrawl/internal/utils/headers"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Application holds every long-lived dependency of a crawl.
//
// It is created once per command invocation. Use Close() to release the
// browser pool, the cache and the dispatcher's sampler.
type Application struct {
	Config     *config.Config
	Logger     *zerolog.Logger
	Cache      *cache.MemoryCache
	HTTPClient *http.Client
	Proxies    *proxy.Pool
	Fetcher    engine.Fetcher
	Limiter    *ratelimit.Limiter
	Dispatcher *dispatcher.Dispatcher
	Pipeline   *content.Pipeline

	browserPool *dynamic.BrowserPool
	poolMu      sync.Mutex
	startTime   time.Time
}

// SetupLogger configures the global zerolog logger from cfg.
func SetupLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "error":
		level = zerolog.ErrorLevel
	// "info" stays quiet unless -v is used; the summary is the normal output.
	default:
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if w == nil {
		w = os.Stderr
	}
	if !cfg.JSONLog {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}

// New creates the application. Nothing that needs a browser is started here;
// the browser pool is created on the first browser fetch.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := log.Logger
	c := cfg.Crawl

	proxies, err := proxy.NewPool(cfg.Proxies, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	extraHeaders, err := headers.Parse(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	transport := static.NewTransport()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport}

	a := &Application{
		Config:     cfg,
		Logger:     &logger,
		HTTPClient: httpClient,
		Proxies:    proxies,
		startTime:  time.Now(),
	}

	staticFetcher := static.New(static.Options{
		Client:    httpClient,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
		Headers:   extraHeaders,
		Proxies:   proxies,
	})
	browserFetcher := dynamic.New(a.EnsureBrowserPool, dynamic.Options{
		Timeout: cfg.HTTPTimeout,
		JSWait:  config.DefaultJSWaitTime,
	})

	var fetcher engine.Fetcher
	switch c.Renderer {
	case "browser":
		fetcher = browserFetcher
	case "auto":
		fetcher = hybrid.New(staticFetcher, browserFetcher)
	default:
		fetcher = staticFetcher
	}

	mode := cache.Mode(cfg.Cache.Mode)
	if mode != cache.ModeBypass {
		a.Cache = cache.NewMemoryCache(cfg.Cache.MaxSizeBytes)
		fetcher = engine.NewCachingFetcher(fetcher, a.Cache, mode, cfg.Cache.TTL)
		logger.Debug().
			Str("mode", cfg.Cache.Mode).
			Int64("max_size_bytes", cfg.Cache.MaxSizeBytes).
			Msg("Fetch cache initialized")
	}
	a.Fetcher = fetcher

	r := c.RateLimit
	a.Limiter = ratelimit.New(ratelimit.Config{
		Enabled:           r.Enabled,
		BaseDelayMin:      r.BaseDelayMin,
		BaseDelayMax:      r.BaseDelayMax,
		MaxDelay:          r.MaxDelay,
		BackoffBase:       r.BackoffBase,
		MaxRetries:        r.MaxRetries,
		RateLimitCodes:    r.RateLimitCodes,
		RequestsPerSecond: r.RequestsPerSecond,
		Burst:             r.Burst,
	})

	policy, err := dispatcher.NewPolicy(dispatcher.Config{
		Kind:            dispatcher.Kind(c.Dispatcher.Policy),
		MaxConcurrent:   c.Dispatcher.MaxConcurrent,
		MemoryThreshold: c.Dispatcher.MemoryThreshold,
		CheckInterval:   c.Dispatcher.CheckInterval,
	}, nil)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = dispatcher.New(policy, a.Limiter)

	a.Pipeline, err = newPipeline(cfg)
	if err != nil {
		_ = a.Dispatcher.Close()
		return nil, err
	}

	logger.Debug().
		Str("renderer", fetcher.Name()).
		Str("dispatcher", policy.Name()).
		Str("content_filter", string(a.Pipeline.Strategy())).
		Bool("rate_limiter", r.Enabled).
		Int("proxies", proxies.Len()).
		Msg("Application initialized")
	return a, nil
}

func newPipeline(cfg *config.Config) (*content.Pipeline, error) {
	f := cfg.Crawl.Filter
	strategy, err := content.ParseStrategy(f.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	m := cfg.Crawl.Markdown
	md := content.NewMarkdown(content.MarkdownOptions{
		IgnoreLinks:       m.IgnoreLinks,
		IgnoreImages:      m.IgnoreImages,
		EscapeHTML:        m.EscapeHTML,
		BodyWidth:         m.BodyWidth,
		SkipInternalLinks: m.SkipInternalLinks,
	})

	var backend llm.Backend
	if strategy == content.StrategyLLM {
		backend, err = newLLMClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	filterImpl, err := content.NewFilter(content.Config{
		Strategy: strategy,
		Pruning: content.PruningConfig{
			Threshold:        f.PruningThreshold,
			ThresholdType:    content.ThresholdType(f.ThresholdType),
			MinWordThreshold: f.MinWordThreshold,
		},
		BM25: content.BM25Config{
			Query:       f.Query,
			Threshold:   f.BM25Threshold,
			UseStemming: f.UseStemming,
			K1:          f.BM25K1,
			B:           f.BM25B,
		},
		LLM: content.LLMConfig{
			Instruction:         f.LLMInstruction,
			ChunkTokenThreshold: f.ChunkTokenThreshold,
			Concurrency:         f.LLMConcurrency,
		},
	}, backend, md)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	return content.NewPipeline(filterImpl, md, f.StripCookieConsent), nil
}

func newLLMClient(cfg *config.Config) (*llm.Client, error) {
	f := cfg.Crawl.Filter
	provider, err := llm.ParseProvider(f.LLMProvider, f.LLMBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	store, err := llm.NewKeyStore()
	if err != nil {
		log.Debug().Err(err).Msg("Credential store unavailable, using environment only")
		store = nil
	}
	key, err := llm.ResolveAPIKey(provider, f.LLMAPIToken, store)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	log.Debug().
		Str("provider", provider.Name).
		Str("model", provider.Model).
		Bool("has_key", key != "").
		Msg("LLM client initialized")
	return llm.NewClient(llm.Options{
		Provider: provider,
		APIKey:   key,
		Timeout:  4 * cfg.HTTPTimeout,
	}), nil
}

// EnsureBrowserPool returns the browser pool, creating it on first use.
// Callers should provide a context with an appropriate timeout.
func (a *Application) EnsureBrowserPool(ctx context.Context) (*dynamic.BrowserPool, error) {
	if a == nil {
		return nil, fmt.Errorf("application is nil")
	}

	a.poolMu.Lock()
	defer a.poolMu.Unlock()

	if a.browserPool != nil {
		return a.browserPool, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var viaProxy string
	if p := a.Proxies.Next(); p != nil {
		viaProxy = p.String()
	}

	a.Logger.Debug().Msg("Initializing browser pool on demand")
	pool, err := dynamic.NewBrowserPool(dynamic.BrowserPoolOptions{
		Size:       a.Config.Browser.PoolSize,
		MaxSize:    config.DefaultMaxBrowserPoolSize,
		Headless:   a.Config.Browser.Headless,
		UserAgent:  a.Config.UserAgent,
		Proxy:      viaProxy,
		ChromePath: a.Config.Browser.ChromePath,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to create browser pool on demand")
		return nil, err
	}

	a.browserPool = pool
	a.Logger.Info().Int("pool_size", pool.Size()).Msg("Browser pool initialized on demand")
	return pool, nil
}

// NewCrawler builds a single-use crawler for seeds. The filter chain is scoped
// to the seeds' hosts.
func (a *Application) NewCrawler(seeds []string) (*crawl.Crawler, error) {
	c := a.Config.Crawl

	var extra []filter.PreFilter
	if c.RespectRobots {
		extra = append(extra, filter.NewRobots(a.HTTPClient, a.Config.UserAgent, 0))
	}
	chain, err := filter.NewChain(filter.Config{
		SeedURLs:            seeds,
		MaxDepth:            c.MaxDepth,
		IncludeExternal:     c.IncludeExternal,
		IncludeSubdomains:   c.IncludeSubdomains,
		URLPatterns:         c.URLPatterns,
		AllowedDomains:      c.AllowedDomains,
		BlockedDomains:      c.BlockedDomains,
		AllowedContentTypes: c.AllowedContentTypes,
	}, extra...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	req := models.FetchRequest{Timeout: a.Config.HTTPTimeout, PDF: c.PDF}
	if c.Scroll.Enabled {
		req.Scroll = &models.ScrollOptions{
			ContainerSelector: c.Scroll.ContainerSelector,
			ItemSelector:      c.Scroll.ItemSelector,
			MaxScrolls:        c.Scroll.MaxScrolls,
			WaitAfterScroll:   c.Scroll.WaitAfterScroll,
		}
	}

	opts := crawl.Options{
		MaxDepth:     c.MaxDepth,
		MaxPages:     c.MaxPages,
		Request:      req,
		MinSeedScore: c.MinSeedScore,
	}
	if len(c.Seeds) > 0 {
		opts.Seeder = crawl.ListSeeder{URLs: c.Seeds, Query: c.Filter.Query, UseStemming: c.Filter.UseStemming}
	}

	a.Logger.Debug().Strs("filters", chain.Filters()).Msg("Filter chain ready")
	return crawl.New(a.Fetcher, chain, a.Dispatcher, a.Pipeline, opts), nil
}

// Close shuts down the application's resources. Errors are logged and joined;
// every step runs regardless.
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	a.poolMu.Lock()
	if a.browserPool != nil {
		if err := a.browserPool.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing browser pool")
			errs = append(errs, err)
		}
		a.browserPool = nil
	}
	a.poolMu.Unlock()

	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Cache != nil {
		st := a.Cache.Stats()
		a.Logger.Debug().
			Uint64("hits", st.Hits).
			Uint64("misses", st.Misses).
			Float64("hit_rate", st.HitRate()).
			Msg("Cache stats")
		a.Cache.Close()
	}
	if a.HTTPClient != nil {
		a.HTTPClient.CloseIdleConnections()
	}

	a.Logger.Debug().Dur("uptime", time.Since(a.startTime)).Msg("Application shutdown complete")
	return errors.Join(errs...)
}
