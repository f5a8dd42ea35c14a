// Package cli provides the command-line interface for deepcrawl.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/law-makers/deepcrawl/internal/config"
)

type ctxKey struct{}

// setConfig stores the loaded configuration on the command's context.
func setConfig(cmd *cobra.Command, cfg *config.Config) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, ctxKey{}, cfg))
}

// configFrom returns the configuration loaded for cmd, or the defaults when
// the command ran without the root's pre-run hook.
func configFrom(cmd *cobra.Command) *config.Config {
	if cmd.Context() != nil {
		if cfg, ok := cmd.Context().Value(ctxKey{}).(*config.Config); ok {
			return cfg
		}
	}
	return config.Default()
}
