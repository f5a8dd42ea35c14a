package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/law-makers/deepcrawl/internal/cli"
)

func main() {
	// The crawl drains in-flight pages and reports a partial summary on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		cli.ReportError(err)
		os.Exit(cli.ExitCode(err))
	}
}
