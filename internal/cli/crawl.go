package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/law-makers/deepcrawl/internal/app"
	"github.com/law-makers/deepcrawl/internal/config"
	"github.com/law-makers/deepcrawl/internal/output"
	"github.com/law-makers/deepcrawl/internal/reqctx"
	"github.com/law-makers/deepcrawl/internal/ui"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// shutdownTimeout bounds cleanup after the crawl, including after an interrupt.
const shutdownTimeout = 10 * time.Second

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Deep-crawl a site and extract its content as markdown",
	Long: `Crawls breadth-first from <url>: every page at depth N is resolved before any
page at depth N+1 is fetched. Links are followed up to --max-depth, optionally
capped by --max-pages, and filtered by domain, URL pattern and content type.

Each page is converted to markdown. With --content-filter the markdown is
narrowed to the main content (pruning), to blocks matching a query (bm25), or
rewritten by a language model (llm).`,
	Example: `  # Crawl two levels deep and save markdown per page
  deepcrawl crawl https://docs.example.com --max-depth 2 --save-markdown

  # Keep only blocks relevant to a query
  deepcrawl crawl https://docs.example.com --content-filter bm25 --user-query "getting started"

  # Be polite: per-domain delays, retries on 429/503, at most 50 pages
  deepcrawl crawl https://example.com --enable-rate-limiter --max-pages 50

  # Stream results into SQLite while showing progress
  deepcrawl crawl https://example.com --stream --sqlite crawl.db --enable-monitor

  # Print the effective configuration
  deepcrawl crawl https://example.com --show-config`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	config.RegisterCrawlFlags(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	seed := args[0]

	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return printConfig(cmd.OutOrStdout(), cfg)
	}

	ctx := reqctx.WithRun(cmd.Context())
	run := reqctx.FromContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	crawler, err := a.NewCrawler([]string{seed})
	if err != nil {
		return err
	}

	sinks, md, err := openSinks(cfg, run.ID, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// JSONL on stdout owns the stream; keep human output off it.
	human := interactive(cfg)
	if human {
		printPlan(cmd.OutOrStdout(), cfg, seed, a.Fetcher.Name())
	}

	if cfg.Crawl.Stream {
		stream, err := crawler.Stream(ctx, seed)
		if err != nil {
			sinks.Close()
			return err
		}
		if err := output.Drain(ctx, stream, sinks); err != nil {
			log.Warn().Err(err).Msg("Some results could not be written")
		}
	} else {
		outcomes, _, err := crawler.Run(ctx, seed)
		if outcomes == nil && err != nil {
			sinks.Close()
			return err
		}
		for _, o := range outcomes {
			if err := sinks.Write(ctx, o); err != nil {
				log.Warn().Err(err).Str("url", o.Candidate.URL).Msg("Result could not be written")
			}
		}
	}
	if err := sinks.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing outputs failed")
	}

	summary := crawler.Summary()
	if cfg.JSONLog {
		if err := output.WriteSummaryJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else if human {
		opts := output.SummaryOptions{SaveMarkdown: cfg.Crawl.Output.SaveMarkdown}
		if md != nil {
			opts.MarkdownFiles = len(md.Files())
			opts.MarkdownDir, _ = filepath.Abs(md.Dir())
		}
		output.WriteSummary(cmd.OutOrStdout(), summary, opts)
	}
	return crawler.Err()
}

// openSinks builds the configured outputs. The markdown sink is returned
// separately for the summary.
func openSinks(cfg *config.Config, runID string, stdout, stderr io.Writer) (output.MultiSink, *output.MarkdownSink, error) {
	o := cfg.Crawl.Output
	var (
		sinks output.MultiSink
		md    *output.MarkdownSink
	)
	fail := func(err error) (output.MultiSink, *output.MarkdownSink, error) {
		sinks.Close()
		return nil, nil, err
	}

	if o.SaveMarkdown {
		s, err := output.NewMarkdownSink(o.OutputDir)
		if err != nil {
			return fail(err)
		}
		md = s
		sinks = append(sinks, s)
	}
	if o.SQLitePath != "" {
		s, err := output.NewSQLiteSink(o.SQLitePath, runID)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if o.JSONLPath != "" {
		s, err := output.OpenJSONL(o.JSONLPath)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if o.CSVPath != "" {
		s, err := output.OpenCSV(o.CSVPath)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	switch {
	case o.EnableMonitor:
		sinks = append(sinks, output.NewProgressSink(stderr, cfg.Crawl.MaxPages))
	case cfg.Crawl.Stream && interactive(cfg):
		sinks = append(sinks, &streamPrinter{w: stdout})
	}
	return sinks, md, nil
}

// streamPrinter reports each page as it resolves.
type streamPrinter struct {
	w io.Writer
	n int
}

func (p *streamPrinter) Write(_ context.Context, o *models.CrawlOutcome) error {
	p.n++
	mark := ui.Success("✓")
	switch {
	case o.Skipped():
		mark = ui.Info("-")
	case !o.Succeeded():
		mark = ui.Error("✗")
	}
	fmt.Fprintf(p.w, "%s Processed page %d: %s %s\n", mark, p.n,
		ui.ColorWhite+o.Candidate.URL+ui.ColorReset,
		ui.ColorDim+fmt.Sprintf("(depth %d)", o.Candidate.Depth)+ui.ColorReset)
	if o.Error != "" {
		fmt.Fprintf(p.w, "  %s %s\n", ui.ColorDim+"Error:"+ui.ColorReset, ui.Error(o.Error))
	}
	return nil
}

func (p *streamPrinter) Close() error { return nil }

func printPlan(w io.Writer, cfg *config.Config, seed, renderer string) {
	c := cfg.Crawl
	fmt.Fprintf(w, "\n%s %s\n", ui.Bold("Deep crawl of"), ui.ColorWhite+seed+ui.ColorReset)

	field := func(name, value string) {
		fmt.Fprintf(w, "  %s\n", ui.Field(name, value))
	}
	pages := "unlimited"
	if c.MaxPages > 0 {
		pages = fmt.Sprint(c.MaxPages)
	}
	field("Max depth:", fmt.Sprint(c.MaxDepth))
	field("Max pages:", pages)
	field("Renderer:", renderer)

	switch c.Filter.Strategy {
	case "pruning":
		field("Content filter:", fmt.Sprintf("pruning (threshold=%g, %s, min words=%d)",
			c.Filter.PruningThreshold, c.Filter.ThresholdType, c.Filter.MinWordThreshold))
	case "bm25":
		q := c.Filter.Query
		if q == "" {
			q = "derived from each page"
		}
		field("Content filter:", fmt.Sprintf("bm25 (query=%q, threshold=%g)", q, c.Filter.BM25Threshold))
	case "llm":
		field("Content filter:", fmt.Sprintf("llm (%s, chunk=%d tokens)", c.Filter.LLMProvider, c.Filter.ChunkTokenThreshold))
	default:
		field("Content filter:", "none (raw markdown)")
	}

	if c.RateLimit.Enabled {
		field("Rate limiter:", fmt.Sprintf("base delay %s-%s, max delay %s, %d retries on %v",
			c.RateLimit.BaseDelayMin, c.RateLimit.BaseDelayMax, c.RateLimit.MaxDelay,
			c.RateLimit.MaxRetries, c.RateLimit.RateLimitCodes))
	}
	switch c.Dispatcher.Policy {
	case "semaphore":
		field("Dispatcher:", fmt.Sprintf("semaphore (max concurrent=%d)", c.Dispatcher.MaxConcurrent))
	default:
		field("Dispatcher:", fmt.Sprintf("memory adaptive (threshold=%g%%, max concurrent=%d)",
			c.Dispatcher.MemoryThreshold, c.Dispatcher.MaxConcurrent))
	}
	if c.Stream {
		fmt.Fprintf(w, "\n%s\n", ui.Info("Streaming results as they become available..."))
	}
	fmt.Fprintln(w)
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// ExitCode maps an error to the process exit status: 2 for invalid
// configuration, 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalid):
		return 2
	default:
		return 1
	}
}

// ReportError prints err to stderr in the CLI's style.
func ReportError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.Error("Error:"), err)
}

// interactive reports whether human-readable output goes to stdout.
func interactive(cfg *config.Config) bool {
	return !cfg.JSONLog && cfg.LogLevel != "error" && cfg.Crawl.Output.JSONLPath != "-"
}
