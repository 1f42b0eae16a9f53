package multinode

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-multinode/flags"
	"github.com/ethereum-optimism/infra/op-multinode/sinks"
)

// Config holds the application configuration
type Config struct {
	TestAssembly  string       // Path to the assembly under test
	SpecManifest  string       // Path to the YAML spec manifest
	Sinks         []sinks.Kind // Result sinks, resolved at configuration time
	ListenAddress string       // Log aggregation server bind address
	ListenPort    int          // Log aggregation server port (0 = OS assigned)
	NodeHost      string       // Host name handed to node processes
	RunnerBinary  string       // Node-runner binary override
	Platform      string       // Platform tag for log entries and filenames
	OutputDir     string       // Directory for run artifacts
	Filter        []string     // Case-insensitive substring filter terms
	Log           log.Logger
}

// NewConfig creates a new Config from cli context. An unrecognized sink
// selector is rejected here, before any spec runs.
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	assembly := ctx.String(flags.TestAssembly.Name)
	if assembly == "" {
		return nil, errors.New("test assembly is required")
	}
	manifest := ctx.String(flags.SpecManifest.Name)
	if manifest == "" {
		return nil, errors.New("spec manifest is required")
	}

	kinds, err := sinks.ParseKinds(ctx.StringSlice(flags.Sinks.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid sink selection: %w", err)
	}

	absAssembly, err := filepath.Abs(assembly)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test assembly '%s': %w", assembly, err)
	}
	absManifest, err := filepath.Abs(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for spec manifest '%s': %w", manifest, err)
	}

	outputDir := ctx.String(flags.OutputDir.Name)
	if outputDir == "" {
		outputDir = "logs"
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for output directory '%s': %w", outputDir, err)
	}

	return &Config{
		TestAssembly:  absAssembly,
		SpecManifest:  absManifest,
		Sinks:         kinds,
		ListenAddress: ctx.String(flags.ListenAddress.Name),
		ListenPort:    ctx.Int(flags.ListenPort.Name),
		NodeHost:      ctx.String(flags.NodeHost.Name),
		RunnerBinary:  ctx.String(flags.RunnerBinary.Name),
		Platform:      ctx.String(flags.Platform.Name),
		OutputDir:     outputDir,
		Filter:        ctx.StringSlice(flags.Filter.Name),
		Log:           logger,
	}, nil
}
