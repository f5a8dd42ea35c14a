package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	d := Default()
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Output logs and summary in JSON format")
	cmd.PersistentFlags().StringSlice("proxy", nil, "HTTP/SOCKS5 proxy; repeat or comma-separate to rotate (e.g., http://localhost:8080)")
	cmd.PersistentFlags().Duration("timeout", d.HTTPTimeout, "Hard timeout for each request")
	cmd.PersistentFlags().String("user-agent", d.UserAgent, "Custom user agent string")
	cmd.PersistentFlags().StringArrayP("header", "H", nil, "Custom headers (e.g., -H \"Authorization: Bearer x\")")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (optional, YAML)")
}

// RegisterCrawlFlags registers the crawl command's flags.
func RegisterCrawlFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	d := Default().Crawl
	fs := cmd.Flags()

	// Traversal and filters
	fs.Int("max-depth", d.MaxDepth, "Maximum link depth from the seed")
	fs.Int("max-pages", d.MaxPages, "Maximum number of pages to fetch (0 = unlimited)")
	fs.Bool("include-external", d.IncludeExternal, "Follow links to external domains")
	fs.Bool("include-subdomains", d.IncludeSubdomains, "Treat subdomains of allowed domains and the seed host as internal")
	fs.StringSlice("url-patterns", nil, "URL glob patterns to include (e.g., \"*/docs/*\")")
	fs.StringSlice("allowed-domains", nil, "Domains to allow")
	fs.StringSlice("blocked-domains", nil, "Domains to block")
	fs.StringSlice("allowed-content-types", nil, "Content types to allow (e.g., text/html)")
	fs.Bool("respect-robots", d.RespectRobots, "Skip URLs disallowed by robots.txt")
	fs.Bool("stream", d.Stream, "Process results as soon as each page resolves")
	fs.String("renderer", d.Renderer, "Page renderer: static, browser, or auto (static with browser fallback)")
	fs.Bool("pdf", d.PDF, "Accept PDF responses as documents")
	fs.StringSlice("seeds", nil, "Additional seed URLs scored against --user-query")
	fs.Float64("min-seed-score", d.MinSeedScore, "Minimum BM25 score for additional seeds")

	// Virtual scroll
	fs.Bool("virtual-scroll", d.Scroll.Enabled, "Reconcile virtual/infinite scroll content (browser renderer)")
	fs.String("scroll-container", d.Scroll.ContainerSelector, "CSS selector of the scrolling container")
	fs.String("scroll-item", d.Scroll.ItemSelector, "CSS selector of list items inside the container")
	fs.Int("max-scrolls", d.Scroll.MaxScrolls, "Maximum number of scroll actions per page")
	fs.Duration("scroll-wait", d.Scroll.WaitAfterScroll, "Wait after each scroll action")

	// Content filter
	fs.String("content-filter", d.Filter.Strategy, "Content filter: pruning, bm25, or llm (optional)")
	fs.Float64("pruning-threshold", d.Filter.PruningThreshold, "Threshold for content pruning")
	fs.String("threshold-type", d.Filter.ThresholdType, "Threshold type for content pruning: fixed or dynamic")
	fs.Int("min-word-threshold", d.Filter.MinWordThreshold, "Minimum words per block for content pruning")
	fs.String("user-query", d.Filter.Query, "Search query for BM25 content filtering and seed scoring")
	fs.Float64("bm25-threshold", d.Filter.BM25Threshold, "BM25 score threshold")
	fs.Bool("use-stemming", d.Filter.UseStemming, "Enable word stemming for BM25 filtering")
	fs.String("llm-provider", d.Filter.LLMProvider, "LLM provider/model for content filtering")
	fs.String("llm-api-token", "", "API token for the LLM provider (falls back to keyring, then <PROVIDER>_API_KEY)")
	fs.String("llm-base-url", d.Filter.LLMBaseURL, "Override the LLM provider's API base URL")
	fs.String("llm-instruction", d.Filter.LLMInstruction, "Instruction sent with every chunk")
	fs.Int("chunk-token-threshold", d.Filter.ChunkTokenThreshold, "Token budget per LLM chunk")
	fs.Int("llm-concurrency", d.Filter.LLMConcurrency, "Parallel LLM chunk calls per page")
	fs.Bool("strip-cookie-consent", d.Filter.StripCookieConsent, "Remove cookie consent boilerplate from markdown")

	// Markdown
	fs.Bool("ignore-links", d.Markdown.IgnoreLinks, "Remove all hyperlinks in the markdown output")
	fs.Bool("ignore-images", d.Markdown.IgnoreImages, "Remove all image references in the markdown output")
	fs.Bool("escape-html", d.Markdown.EscapeHTML, "Turn HTML entities into text")
	fs.Int("body-width", d.Markdown.BodyWidth, "Wrap text at N characters (0 means no wrapping)")
	fs.Bool("skip-internal-links", d.Markdown.SkipInternalLinks, "Omit anchors referencing the same page")

	// Output
	fs.Bool("save-markdown", d.Output.SaveMarkdown, "Save markdown content for each URL")
	fs.String("output-dir", d.Output.OutputDir, "Directory to save markdown files")
	fs.String("sqlite", d.Output.SQLitePath, "Also record results in this SQLite database")
	fs.String("jsonl", d.Output.JSONLPath, "Write one JSON outcome per line to this file (- for stdout)")
	fs.String("csv", d.Output.CSVPath, "Write a CSV index of crawled URLs to this file")
	fs.Bool("enable-monitor", d.Output.EnableMonitor, "Show live crawl progress")

	// Rate limiter
	fs.Bool("enable-rate-limiter", d.RateLimit.Enabled, "Enable per-domain delays between requests")
	fs.Duration("base-delay-min", d.RateLimit.BaseDelayMin, "Lower bound of the per-domain base delay")
	fs.Duration("base-delay-max", d.RateLimit.BaseDelayMax, "Upper bound of the per-domain base delay")
	fs.Duration("max-delay", d.RateLimit.MaxDelay, "Maximum backoff delay")
	fs.Duration("backoff-base", d.RateLimit.BackoffBase, "Base of the exponential backoff")
	fs.Int("max-retries", d.RateLimit.MaxRetries, "Maximum retries for rate-limited requests")
	fs.IntSlice("rate-limit-codes", d.RateLimit.RateLimitCodes, "HTTP statuses treated as rate limiting")
	fs.Float64("rps", d.RateLimit.RequestsPerSecond, "Steady per-host request rate (0 = off)")

	// Dispatcher
	fs.String("dispatcher", d.Dispatcher.Policy, "Dispatcher policy: memory or semaphore")
	fs.Float64("memory-threshold", d.Dispatcher.MemoryThreshold, "Memory utilization percentage that pauses admissions")
	fs.Duration("check-interval", d.Dispatcher.CheckInterval, "Memory sampling interval")
	fs.Int("max-concurrent", d.Dispatcher.MaxConcurrent, "Maximum concurrent fetches (0 sizes from CPU and memory)")

	// Cache and browser
	fs.String("cache-mode", Default().Cache.Mode, "Cache mode: enabled, bypass, or refresh")
	fs.Int("browser-pool", Default().Browser.PoolSize, "Number of pooled browser contexts")

	fs.Bool("show-config", false, "Print the effective configuration and exit")
}

// flagBindings maps config keys to flag names.
var flagBindings = []struct {
	key  string
	flag string
}{
	{"json", "json"},
	{"timeout", "timeout"},
	{"user_agent", "user-agent"},
	{"proxies", "proxy"},
	{"headers", "header"},

	{"browser.pool_size", "browser-pool"},
	{"cache.mode", "cache-mode"},

	{"crawl.max_depth", "max-depth"},
	{"crawl.max_pages", "max-pages"},
	{"crawl.include_external", "include-external"},
	{"crawl.include_subdomains", "include-subdomains"},
	{"crawl.url_patterns", "url-patterns"},
	{"crawl.allowed_domains", "allowed-domains"},
	{"crawl.blocked_domains", "blocked-domains"},
	{"crawl.allowed_content_types", "allowed-content-types"},
	{"crawl.respect_robots", "respect-robots"},
	{"crawl.stream", "stream"},
	{"crawl.renderer", "renderer"},
	{"crawl.pdf", "pdf"},
	{"crawl.seeds", "seeds"},
	{"crawl.min_seed_score", "min-seed-score"},

	{"crawl.scroll.enabled", "virtual-scroll"},
	{"crawl.scroll.container_selector", "scroll-container"},
	{"crawl.scroll.item_selector", "scroll-item"},
	{"crawl.scroll.max_scrolls", "max-scrolls"},
	{"crawl.scroll.wait_after_scroll", "scroll-wait"},

	{"crawl.filter.strategy", "content-filter"},
	{"crawl.filter.pruning_threshold", "pruning-threshold"},
	{"crawl.filter.threshold_type", "threshold-type"},
	{"crawl.filter.min_word_threshold", "min-word-threshold"},
	{"crawl.filter.query", "user-query"},
	{"crawl.filter.bm25_threshold", "bm25-threshold"},
	{"crawl.filter.use_stemming", "use-stemming"},
	{"crawl.filter.llm_provider", "llm-provider"},
	{"crawl.filter.llm_api_token", "llm-api-token"},
	{"crawl.filter.llm_base_url", "llm-base-url"},
	{"crawl.filter.llm_instruction", "llm-instruction"},
	{"crawl.filter.chunk_token_threshold", "chunk-token-threshold"},
	{"crawl.filter.llm_concurrency", "llm-concurrency"},
	{"crawl.filter.strip_cookie_consent", "strip-cookie-consent"},

	{"crawl.markdown.ignore_links", "ignore-links"},
	{"crawl.markdown.ignore_images", "ignore-images"},
	{"crawl.markdown.escape_html", "escape-html"},
	{"crawl.markdown.body_width", "body-width"},
	{"crawl.markdown.skip_internal_links", "skip-internal-links"},

	{"crawl.output.save_markdown", "save-markdown"},
	{"crawl.output.output_dir", "output-dir"},
	{"crawl.output.sqlite_path", "sqlite"},
	{"crawl.output.jsonl_path", "jsonl"},
	{"crawl.output.csv_path", "csv"},
	{"crawl.output.enable_monitor", "enable-monitor"},

	{"crawl.rate_limit.enabled", "enable-rate-limiter"},
	{"crawl.rate_limit.base_delay_min", "base-delay-min"},
	{"crawl.rate_limit.base_delay_max", "base-delay-max"},
	{"crawl.rate_limit.max_delay", "max-delay"},
	{"crawl.rate_limit.backoff_base", "backoff-base"},
	{"crawl.rate_limit.max_retries", "max-retries"},
	{"crawl.rate_limit.rate_limit_codes", "rate-limit-codes"},
	{"crawl.rate_limit.requests_per_second", "rps"},

	{"crawl.dispatcher.policy", "dispatcher"},
	{"crawl.dispatcher.memory_threshold", "memory-threshold"},
	{"crawl.dispatcher.check_interval", "check-interval"},
	{"crawl.dispatcher.max_concurrent", "max-concurrent"},
}

// bindFlags binds every flag the command knows about; missing flags are skipped.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, b := range flagBindings {
		f := lookupFlag(cmd, b.flag)
		if f == nil {
			continue
		}
		_ = v.BindPFlag(b.key, f)
	}
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil {
		return f
	}
	return cmd.Root().PersistentFlags().Lookup(name)
}
