package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	JSONLog  bool   `mapstructure:"json" yaml:"json"`

	// HTTP
	HTTPTimeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
	Proxies     []string      `mapstructure:"proxies" yaml:"proxies,omitempty"`
	Headers     []string      `mapstructure:"headers" yaml:"headers,omitempty"`

	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Crawl   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
}

// BrowserConfig configures the headless browser pool.
type BrowserConfig struct {
	PoolSize   int    `mapstructure:"pool_size" yaml:"pool_size"`
	Headless   bool   `mapstructure:"headless" yaml:"headless"`
	ChromePath string `mapstructure:"chrome_path" yaml:"chrome_path,omitempty"`
}

// CacheConfig configures the in-memory fetch cache.
type CacheConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
}

// CrawlConfig is the immutable per-run crawl snapshot.
type CrawlConfig struct {
	MaxDepth            int      `mapstructure:"max_depth" yaml:"max_depth"`
	MaxPages            int      `mapstructure:"max_pages" yaml:"max_pages"`
	IncludeExternal     bool     `mapstructure:"include_external" yaml:"include_external"`
	IncludeSubdomains   bool     `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	URLPatterns         []string `mapstructure:"url_patterns" yaml:"url_patterns,omitempty"`
	AllowedDomains      []string `mapstructure:"allowed_domains" yaml:"allowed_domains,omitempty"`
	BlockedDomains      []string `mapstructure:"blocked_domains" yaml:"blocked_domains,omitempty"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types" yaml:"allowed_content_types,omitempty"`
	RespectRobots       bool     `mapstructure:"respect_robots" yaml:"respect_robots"`
	Stream              bool     `mapstructure:"stream" yaml:"stream"`
	Renderer            string   `mapstructure:"renderer" yaml:"renderer"`
	PDF                 bool     `mapstructure:"pdf" yaml:"pdf"`
	Seeds               []string `mapstructure:"seeds" yaml:"seeds,omitempty"`
	MinSeedScore        float64  `mapstructure:"min_seed_score" yaml:"min_seed_score"`

	Scroll     ScrollConfig     `mapstructure:"scroll" yaml:"scroll"`
	Filter     FilterConfig     `mapstructure:"filter" yaml:"filter"`
	Markdown   MarkdownConfig   `mapstructure:"markdown" yaml:"markdown"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
}

// ScrollConfig configures virtual scroll reconciliation on the browser renderer.
type ScrollConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	ContainerSelector string        `mapstructure:"container_selector" yaml:"container_selector"`
	ItemSelector      string        `mapstructure:"item_selector" yaml:"item_selector,omitempty"`
	MaxScrolls        int           `mapstructure:"max_scrolls" yaml:"max_scrolls"`
	WaitAfterScroll   time.Duration `mapstructure:"wait_after_scroll" yaml:"wait_after_scroll"`
}

// FilterConfig selects and parameterizes the content filter strategy.
type FilterConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	PruningThreshold float64 `mapstructure:"pruning_threshold" yaml:"pruning_threshold"`
	ThresholdType    string  `mapstructure:"threshold_type" yaml:"threshold_type"`
	MinWordThreshold int     `mapstructure:"min_word_threshold" yaml:"min_word_threshold"`

	Query         string  `mapstructure:"query" yaml:"query,omitempty"`
	BM25Threshold float64 `mapstructure:"bm25_threshold" yaml:"bm25_threshold"`
	UseStemming   bool    `mapstructure:"use_stemming" yaml:"use_stemming"`
	BM25K1        float64 `mapstructure:"bm25_k1" yaml:"bm25_k1"`
	BM25B         float64 `mapstructure:"bm25_b" yaml:"bm25_b"`

	LLMProvider         string `mapstructure:"llm_provider" yaml:"llm_provider"`
	LLMAPIToken         string `mapstructure:"llm_api_token" yaml:"-"`
	LLMBaseURL          string `mapstructure:"llm_base_url" yaml:"llm_base_url,omitempty"`
	LLMInstruction      string `mapstructure:"llm_instruction" yaml:"llm_instruction"`
	ChunkTokenThreshold int    `mapstructure:"chunk_token_threshold" yaml:"chunk_token_threshold"`
	LLMConcurrency      int    `mapstructure:"llm_concurrency" yaml:"llm_concurrency"`

	StripCookieConsent bool `mapstructure:"strip_cookie_consent" yaml:"strip_cookie_consent"`
}

// MarkdownConfig controls HTML to markdown rendering.
type MarkdownConfig struct {
	IgnoreLinks       bool `mapstructure:"ignore_links" yaml:"ignore_links"`
	IgnoreImages      bool `mapstructure:"ignore_images" yaml:"ignore_images"`
	EscapeHTML        bool `mapstructure:"escape_html" yaml:"escape_html"`
	BodyWidth         int  `mapstructure:"body_width" yaml:"body_width"`
	SkipInternalLinks bool `mapstructure:"skip_internal_links" yaml:"skip_internal_links"`
}

// RateLimitConfig parameterizes the per-domain rate limiter.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseDelayMin      time.Duration `mapstructure:"base_delay_min" yaml:"base_delay_min"`
	BaseDelayMax      time.Duration `mapstructure:"base_delay_max" yaml:"base_delay_max"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RateLimitCodes    []int         `mapstructure:"rate_limit_codes" yaml:"rate_limit_codes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// DispatcherConfig selects the admission policy.
type DispatcherConfig struct {
	Policy          string        `mapstructure:"policy" yaml:"policy"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MemoryThreshold float64       `mapstructure:"memory_threshold" yaml:"memory_threshold"`
	CheckInterval   time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
}

// OutputConfig controls persistence and live reporting.
type OutputConfig struct {
	SaveMarkdown  bool   `mapstructure:"save_markdown" yaml:"save_markdown"`
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`
	JSONLPath     string `mapstructure:"jsonl_path" yaml:"jsonl_path,omitempty"`
	CSVPath       string `mapstructure:"csv_path" yaml:"csv_path,omitempty"`
	EnableMonitor bool   `mapstructure:"enable_monitor" yaml:"enable_monitor"`
}

// ErrInvalid marks malformed configuration. It is fatal: a crawl never starts with it.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment overrides, e.g. DEEPCRAWL_CRAWL_MAX_DEPTH.
const EnvPrefix = "DEEPCRAWL"

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		JSONLog:     DefaultJSONLog,
		HTTPTimeout: DefaultHTTPTimeout,
		UserAgent:   DefaultUserAgent,
		Browser: BrowserConfig{
			PoolSize: DefaultBrowserPoolSize,
			Headless: DefaultBrowserHeadless,
		},
		Cache: CacheConfig{
			Mode:         DefaultCacheMode,
			TTL:          DefaultCacheTTL,
			MaxSizeBytes: DefaultCacheMaxSizeBytes,
		},
		Crawl: CrawlConfig{
			MaxDepth: DefaultMaxDepth,
			MaxPages: DefaultMaxPages,
			Renderer: DefaultRenderer,
			Scroll: ScrollConfig{
				ContainerSelector: DefaultScrollContainer,
				MaxScrolls:        DefaultMaxScrolls,
				WaitAfterScroll:   DefaultWaitAfterScroll,
			},
			Filter: FilterConfig{
				PruningThreshold:    DefaultPruningThreshold,
				ThresholdType:       DefaultThresholdType,
				MinWordThreshold:    DefaultMinWordThreshold,
				BM25Threshold:       DefaultBM25Threshold,
				BM25K1:              DefaultBM25K1,
				BM25B:               DefaultBM25B,
				LLMProvider:         DefaultLLMProvider,
				LLMInstruction:      DefaultLLMInstruction,
				ChunkTokenThreshold: DefaultChunkTokenThreshold,
				LLMConcurrency:      DefaultLLMConcurrency,
			},
			RateLimit: RateLimitConfig{
				BaseDelayMin:      DefaultBaseDelayMin,
				BaseDelayMax:      DefaultBaseDelayMax,
				MaxDelay:          DefaultMaxDelay,
				BackoffBase:       DefaultBackoffBase,
				MaxRetries:        DefaultMaxRetries,
				RateLimitCodes:    append([]int(nil), DefaultRateLimitCodes...),
				RequestsPerSecond: DefaultRequestsPerSecond,
				Burst:             DefaultBurst,
			},
			Dispatcher: DispatcherConfig{
				Policy:          DefaultDispatcher,
				MaxConcurrent:   DefaultMaxConcurrent,
				MemoryThreshold: DefaultMemoryThreshold,
				CheckInterval:   DefaultCheckInterval,
			},
			Output: OutputConfig{
				OutputDir: DefaultOutputDir,
			},
		},
	}
}

// Load builds a Config by combining defaults, an optional config file, environment variables, and CLI flags.
// Pass the command being executed so both its local and inherited flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	cfgFile := ""
	if cmd != nil {
		bindFlags(v, cmd)
		if f := lookupFlag(cmd, "config"); f != nil {
			cfgFile = f.Value.String()
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config file %s: %v", ErrInvalid, cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("deepcrawl")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: read config file: %v", ErrInvalid, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if cmd != nil {
		if f := lookupFlag(cmd, "verbose"); f != nil && f.Value.String() == "true" {
			cfg.LogLevel = "debug"
		}
		if f := lookupFlag(cmd, "quiet"); f != nil && f.Value.String() == "true" {
			cfg.LogLevel = "error"
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv and Unmarshal see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("json", d.JSONLog)
	v.SetDefault("timeout", d.HTTPTimeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("proxies", d.Proxies)
	v.SetDefault("headers", d.Headers)

	v.SetDefault("browser.pool_size", d.Browser.PoolSize)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.chrome_path", d.Browser.ChromePath)

	v.SetDefault("cache.mode", d.Cache.Mode)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_size_bytes", d.Cache.MaxSizeBytes)

	c := d.Crawl
	v.SetDefault("crawl.max_depth", c.MaxDepth)
	v.SetDefault("crawl.max_pages", c.MaxPages)
	v.SetDefault("crawl.include_external", c.IncludeExternal)
	v.SetDefault("crawl.include_subdomains", c.IncludeSubdomains)
	v.SetDefault("crawl.url_patterns", c.URLPatterns)
	v.SetDefault("crawl.allowed_domains", c.AllowedDomains)
	v.SetDefault("crawl.blocked_domains", c.BlockedDomains)
	v.SetDefault("crawl.allowed_content_types", c.AllowedContentTypes)
	v.SetDefault("crawl.respect_robots", c.RespectRobots)
	v.SetDefault("crawl.stream", c.Stream)
	v.SetDefault("crawl.renderer", c.Renderer)
	v.SetDefault("crawl.pdf", c.PDF)
	v.SetDefault("crawl.seeds", c.Seeds)
	v.SetDefault("crawl.min_seed_score", c.MinSeedScore)

	v.SetDefault("crawl.scroll.enabled", c.Scroll.Enabled)
	v.SetDefault("crawl.scroll.container_selector", c.Scroll.ContainerSelector)
	v.SetDefault("crawl.scroll.item_selector", c.Scroll.ItemSelector)
	v.SetDefault("crawl.scroll.max_scrolls", c.Scroll.MaxScrolls)
	v.SetDefault("crawl.scroll.wait_after_scroll", c.Scroll.WaitAfterScroll)

	f := c.Filter
	v.SetDefault("crawl.filter.strategy", f.Strategy)
	v.SetDefault("crawl.filter.pruning_threshold", f.PruningThreshold)
	v.SetDefault("crawl.filter.threshold_type", f.ThresholdType)
	v.SetDefault("crawl.filter.min_word_threshold", f.MinWordThreshold)
	v.SetDefault("crawl.filter.query", f.Query)
	v.SetDefault("crawl.filter.bm25_threshold", f.BM25Threshold)
	v.SetDefault("crawl.filter.use_stemming", f.UseStemming)
	v.SetDefault("crawl.filter.bm25_k1", f.BM25K1)
	v.SetDefault("crawl.filter.bm25_b", f.BM25B)
	v.SetDefault("crawl.filter.llm_provider", f.LLMProvider)
	v.SetDefault("crawl.filter.llm_api_token", f.LLMAPIToken)
	v.SetDefault("crawl.filter.llm_base_url", f.LLMBaseURL)
	v.SetDefault("crawl.filter.llm_instruction", f.LLMInstruction)
	v.SetDefault("crawl.filter.chunk_token_threshold", f.ChunkTokenThreshold)
	v.SetDefault("crawl.filter.llm_concurrency", f.LLMConcurrency)
	v.SetDefault("crawl.filter.strip_cookie_consent", f.StripCookieConsent)

	m := c.Markdown
	v.SetDefault("crawl.markdown.ignore_links", m.IgnoreLinks)
	v.SetDefault("crawl.markdown.ignore_images", m.IgnoreImages)
	v.SetDefault("crawl.markdown.escape_html", m.EscapeHTML)
	v.SetDefault("crawl.markdown.body_width", m.BodyWidth)
	v.SetDefault("crawl.markdown.skip_internal_links", m.SkipInternalLinks)

	r := c.RateLimit
	v.SetDefault("crawl.rate_limit.enabled", r.Enabled)
	v.SetDefault("crawl.rate_limit.base_delay_min", r.BaseDelayMin)
	v.SetDefault("crawl.rate_limit.base_delay_max", r.BaseDelayMax)
	v.SetDefault("crawl.rate_limit.max_delay", r.MaxDelay)
	v.SetDefault("crawl.rate_limit.backoff_base", r.BackoffBase)
	v.SetDefault("crawl.rate_limit.max_retries", r.MaxRetries)
	v.SetDefault("crawl.rate_limit.rate_limit_codes", r.RateLimitCodes)
	v.SetDefault("crawl.rate_limit.requests_per_second", r.RequestsPerSecond)
	v.SetDefault("crawl.rate_limit.burst", r.Burst)

	p := c.Dispatcher
	v.SetDefault("crawl.dispatcher.policy", p.Policy)
	v.SetDefault("crawl.dispatcher.max_concurrent", p.MaxConcurrent)
	v.SetDefault("crawl.dispatcher.memory_threshold", p.MemoryThreshold)
	v.SetDefault("crawl.dispatcher.check_interval", p.CheckInterval)

	o := c.Output
	v.SetDefault("crawl.output.save_markdown", o.SaveMarkdown)
	v.SetDefault("crawl.output.output_dir", o.OutputDir)
	v.SetDefault("crawl.output.sqlite_path", o.SQLitePath)
	v.SetDefault("crawl.output.jsonl_path", o.JSONLPath)
	v.SetDefault("crawl.output.csv_path", o.CSVPath)
	v.SetDefault("crawl.output.enable_monitor", o.EnableMonitor)
}
