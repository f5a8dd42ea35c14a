package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/law-makers/deepcrawl/internal/app"
	"github.com/law-makers/deepcrawl/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deepcrawl",
	Short: "Breadth-first deep crawler that turns websites into clean markdown",
	Long: `Deepcrawl follows links from a seed URL level by level, fetching pages with a
plain HTTP client or a headless browser, and converts them to markdown.

Content can be narrowed with a pruning, BM25 or LLM filter. Crawls are paced per
domain, back off on rate-limit responses, and pause admissions under memory
pressure.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Configuration is loaded once per invocation, after flags are parsed.
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}
		app.SetupLogger(cfg, os.Stderr)
		setConfig(cmd, cfg)
		return nil
	},
}

// Execute runs the root command. ctx is canceled on interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	config.RegisterFlags(rootCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().BoolP("help", "h", false, "Help for deepcrawl")
	rootCmd.Flags().Bool("version", false, "Version for deepcrawl")

	rootCmd.SetHelpFunc(helpFunc)
	rootCmd.SetUsageFunc(usageFunc)
}
