package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	multinode "github.com/ethereum-optimism/infra/op-multinode"
	"github.com/ethereum-optimism/infra/op-multinode/exitcodes"
	"github.com/ethereum-optimism/infra/op-multinode/flags"
	"github.com/ethereum-optimism/infra/op-multinode/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-multinode"
	app.Usage = "Multi-Node Test Orchestration Engine"
	app.Description = "op-multinode decomposes distributed test specs into per-node processes, aggregates their logs and reports results"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if multinode.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if multinode.IsSpecFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.SpecFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.SpecFailure))
			}
		}
	}

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context) error {
	logger := log.NewLogger(log.NewTerminalHandler(os.Stderr, true))
	log.SetDefault(logger)

	cfg, err := multinode.NewConfig(ctx, logger)
	if err != nil {
		return multinode.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	orchestrator, err := multinode.New(cfg, Version)
	if err != nil {
		return multinode.NewRuntimeError(fmt.Errorf("failed to create orchestrator: %w", err))
	}

	result, err := orchestrator.Run(ctx.Context)
	if result != nil {
		result.PrintTable()
	}
	if err != nil {
		return err
	}
	if result.Failed() {
		return multinode.NewSpecFailureError(result.String())
	}

	logger.Info("Run completed", "result", result.String())
	return nil
}
