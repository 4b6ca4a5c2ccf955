// Package main implements the fw_cfg platform table loader
package main

import (
	"context"
	"errors"
	"os"

	"github.com/fwtables/tableloader/internal/cli"
	"github.com/fwtables/tableloader/internal/config"
	"github.com/fwtables/tableloader/internal/pipeline"
	"github.com/retroenv/retrogolib/app"
	"github.com/retroenv/retrogolib/buildinfo"
	"github.com/retroenv/retrogolib/log"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx := app.Context()

	opts, err := cli.ParseFlags()
	logger := config.CreateLogger(opts.Debug, opts.Quiet)
	if err != nil {
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			printBanner(logger, opts.Quiet)
			usageErr.ShowUsage()
		} else {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}

	printBanner(logger, opts.Quiet)

	summary, err := pipeline.New(logger).Execute(ctx, opts)
	if err != nil {
		// Handle context cancellation (Ctrl+C) gracefully
		if errors.Is(err, context.Canceled) {
			logger.Info("Operation cancelled")
			return
		}
		logger.Error("Table loading failed", log.Err(err))
		os.Exit(1)
	}

	logger.Info("Table loading successful",
		log.Int("blobs", summary.Blobs),
		log.Int("records", summary.Records),
		log.String("output", opts.Output))
}

func printBanner(logger *log.Logger, quiet bool) {
	if quiet {
		return
	}
	logger.Info("tableloader - fw_cfg platform table loader",
		log.String("version", buildinfo.Version(version, commit, date)))
}
