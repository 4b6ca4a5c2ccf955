// Package pipeline orchestrates the table loading workflow stages.
package pipeline

import (
	"context"
	"fmt"

	"github.com/fwtables/tableloader/internal/cli"
	"github.com/fwtables/tableloader/internal/fwcfg"
	"github.com/fwtables/tableloader/internal/loader"
	"github.com/fwtables/tableloader/internal/mem"
	"github.com/fwtables/tableloader/internal/options"
	"github.com/fwtables/tableloader/internal/tables"
	"github.com/retroenv/retrogolib/log"
)

// Summary reports what a completed pass produced.
type Summary struct {
	Blobs   int // blobs materialized in the directory
	Records int // table records installed
}

// Pipeline runs the complete table loading workflow: read the loader
// script, interpret it, install the finished table records.
type Pipeline struct {
	logger *log.Logger
}

// New creates a new table loading pipeline.
func New(logger *log.Logger) *Pipeline {
	return &Pipeline{
		logger: logger,
	}
}

// Execute runs the workflow against a fw_cfg directory tree, writing the
// installed records below the output directory.
func (p *Pipeline) Execute(ctx context.Context, opts options.Program) (Summary, error) {
	source := fwcfg.NewDirSource(opts.Input, cli.WritableItems(opts)...)

	service, err := tables.NewDirInstaller(opts.Output)
	if err != nil {
		return Summary{}, fmt.Errorf("creating table installer: %w", err)
	}

	config := tables.DefaultConfig()
	config.SynthesizeDefaults = !opts.NoDefaults

	return p.ExecuteWithSource(ctx, source, service, config)
}

// ExecuteWithSource runs the workflow against a pre-built configuration
// source and installation service. This is useful for testing and
// programmatic usage where the fw_cfg content is already in memory.
func (p *Pipeline) ExecuteWithSource(ctx context.Context, source fwcfg.Source,
	service tables.Service, config tables.Config) (Summary, error) {

	commands, err := loader.ReadScript(source)
	if err != nil {
		return Summary{}, fmt.Errorf("reading loader script: %w", err)
	}
	p.logger.Info("Loaded linker/loader script",
		log.Int("commands", len(commands)))

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	arena := mem.NewArena(mem.DefaultArenaConfig())
	directory, err := loader.New(p.logger, source, arena).Run(commands)
	if err != nil {
		return Summary{}, fmt.Errorf("interpreting loader script: %w", err)
	}
	p.logger.Info("Materialized blobs",
		log.Int("blobs", directory.Len()),
		log.Int("reserved_pages", arena.ReservedPages()))

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	installed, err := tables.New(p.logger, service, config).InstallAll(directory)
	if err != nil {
		return Summary{}, fmt.Errorf("installing tables: %w", err)
	}
	p.logger.Info("Installed table records", log.Int("records", installed))

	return Summary{
		Blobs:   directory.Len(),
		Records: installed,
	}, nil
}
