package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel           = "info"
	DefaultJSONLog            = false
	DefaultUserAgent          = "deepcrawl/1.0 (+https://github.com/law-makers/deepcrawl)"
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultBrowserPoolSize    = 3
	DefaultMaxBrowserPoolSize = 10
	DefaultBrowserHeadless    = true
	DefaultJSWaitTime         = 500 * time.Millisecond
	DefaultPoolAcquireTTL     = 10 * time.Second

	DefaultCacheMode         = "bypass"
	DefaultCacheTTL          = 5 * time.Minute
	DefaultCacheMaxSizeBytes = 100 * 1024 * 1024 // 100MB

	DefaultMaxDepth = 2
	DefaultMaxPages = 0
	DefaultRenderer = "static"

	DefaultPruningThreshold    = 0.45
	DefaultThresholdType       = "dynamic"
	DefaultMinWordThreshold    = 5
	DefaultBM25Threshold       = 1.2
	DefaultBM25K1              = 1.2
	DefaultBM25B               = 0.75
	DefaultLLMProvider         = "openai/gpt-4o"
	DefaultChunkTokenThreshold = 4096
	DefaultLLMConcurrency      = 4
	DefaultLLMInstruction      = "Extract the main content while preserving its original wording and substance. " +
		"Remove navigation elements, sidebars, footers, and ads. " +
		"Format the output as clean markdown with proper code blocks and headers."

	DefaultBaseDelayMin      = 1 * time.Second
	DefaultBaseDelayMax      = 3 * time.Second
	DefaultMaxDelay          = 60 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultMaxRetries        = 3
	DefaultRequestsPerSecond = 0.0
	DefaultBurst             = 1

	DefaultDispatcher      = "memory"
	DefaultMaxConcurrent   = 10
	DefaultMemoryThreshold = 90.0
	DefaultCheckInterval   = 1 * time.Second

	DefaultOutputDir = "./output"

	DefaultMaxScrolls      = 10
	DefaultWaitAfterScroll = 1 * time.Second
	DefaultScrollContainer = "body"
)

// DefaultRateLimitCodes are the statuses treated as "slow down" signals.
var DefaultRateLimitCodes = []int{429, 503}
