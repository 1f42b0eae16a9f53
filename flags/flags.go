package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "OP_MULTINODE"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	TestAssembly = &cli.StringFlag{
		Name:     "test-assembly",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("TEST_ASSEMBLY"),
		Usage:    "Path to the test assembly under test",
	}
	SpecManifest = &cli.StringFlag{
		Name:     "specs",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("SPECS"),
		Usage:    "Path to the spec manifest file (eg. 'specs.yaml')",
	}
	Sinks = &cli.StringSliceFlag{
		Name:    "sink",
		Value:   cli.NewStringSlice("console"),
		EnvVars: prefixEnvVars("SINKS"),
		Usage:   "Result sinks to enable (console, teamcity, trx, json, html); repeatable",
	}
	ListenAddress = &cli.StringFlag{
		Name:    "listen-address",
		Value:   "127.0.0.1",
		EnvVars: prefixEnvVars("LISTEN_ADDRESS"),
		Usage:   "Address the log aggregation server binds to",
	}
	ListenPort = &cli.IntFlag{
		Name:    "listen-port",
		Value:   0,
		EnvVars: prefixEnvVars("LISTEN_PORT"),
		Usage:   "Port for the log aggregation server (0 = OS assigned)",
	}
	NodeHost = &cli.StringFlag{
		Name:    "node-host",
		Value:   "localhost",
		EnvVars: prefixEnvVars("NODE_HOST"),
		Usage:   "Host name handed to node processes for their own endpoint",
	}
	RunnerBinary = &cli.StringFlag{
		Name:    "runner-binary",
		Value:   "",
		EnvVars: prefixEnvVars("RUNNER_BINARY"),
		Usage:   "Path to the node-runner binary; resolved from known directories when omitted",
	}
	Platform = &cli.StringFlag{
		Name:    "platform",
		Value:   "net",
		EnvVars: prefixEnvVars("PLATFORM"),
		Usage:   "Platform tag applied to log entries and per-node log filenames",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "logs",
		EnvVars: prefixEnvVars("OUTPUT_DIR"),
		Usage:   "Directory to store run artifacts",
	}
	Filter = &cli.StringSliceFlag{
		Name:    "filter",
		EnvVars: prefixEnvVars("FILTER"),
		Usage:   "Only run specs whose node test names contain one of these terms (case-insensitive); repeatable",
	}
)

var requiredFlags = []cli.Flag{
	TestAssembly,
	SpecManifest,
}

var optionalFlags = []cli.Flag{
	Sinks,
	ListenAddress,
	ListenPort,
	NodeHost,
	RunnerBinary,
	Platform,
	OutputDir,
	Filter,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
