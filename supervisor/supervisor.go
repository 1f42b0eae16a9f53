// Package supervisor translates node tests into running OS processes and
// streams their output into the run artifacts and the active timeline.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multinode/timeline"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnNodeCompleted is called once per node after its exit code has been
	// captured and its output fully drained.
	OnNodeCompleted func(result types.NodeResult, message string)
}

// Supervisor launches one process per node test and drains its output.
type Supervisor struct {
	log        log.Logger
	runnerBin  string
	platform   string
	nodeHost   string
	serverHost string
	listenAddr string
	listenPort int
	logDir     string
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Log log.Logger

	// RunnerBinary overrides node-runner resolution; when empty the
	// executable is resolved against the known search directories.
	RunnerBinary string

	// Platform tags every log entry and per-node log filename.
	Platform string

	// NodeHost is the host name handed to each node for its own endpoint.
	NodeHost string

	// ServerHost, ListenAddr and ListenPort describe the log aggregation
	// endpoint passed to node processes as launch arguments.
	ServerHost string
	ListenAddr string
	ListenPort int

	// LogDir receives the per-node raw log files.
	LogDir string
}

// New creates a supervisor, resolving the node-runner binary up front so a
// missing runner aborts the run before any spec starts.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if cfg.Platform == "" {
		cfg.Platform = "net"
	}
	if cfg.NodeHost == "" {
		cfg.NodeHost = "localhost"
	}

	runnerBin := cfg.RunnerBinary
	if runnerBin == "" {
		resolved, err := ResolveRunnerBinary(DefaultRunnerName)
		if err != nil {
			return nil, err
		}
		runnerBin = resolved
	}

	cfg.Log.Debug("supervisor.New()", "runner", runnerBin, "platform", cfg.Platform,
		"serverHost", cfg.ServerHost, "listenPort", cfg.ListenPort, "logDir", cfg.LogDir)

	return &Supervisor{
		log:        cfg.Log,
		runnerBin:  runnerBin,
		platform:   cfg.Platform,
		nodeHost:   cfg.NodeHost,
		serverHost: cfg.ServerHost,
		listenAddr: cfg.ListenAddr,
		listenPort: cfg.ListenPort,
		logDir:     cfg.LogDir,
	}, nil
}

// Platform returns the platform tag applied to log entries.
func (s *Supervisor) Platform() string {
	return s.platform
}

// LaunchNode starts one node process and blocks until it exits. Each stdout
// line is appended to the per-node raw log file and forwarded to the spec's
// timeline collector. The drain goroutine is joined before the exit code is
// interpreted, so every line the process wrote is recorded by the time the
// node result is reported.
//
// A raw-log flush failure is returned as a non-nil error next to the fully
// populated result: the node's verdict stands, but the lost artifact makes
// the run fail.
//
// There is deliberately no supervisory timeout: a hung node process hangs
// the run.
func (s *Supervisor) LaunchNode(ctx context.Context, spec types.Spec, node types.NodeTest, collector *timeline.Collector, callbacks Callbacks) (types.NodeResult, error) {
	result := types.NodeResult{
		Index:    node.Index,
		Role:     node.Role,
		TestName: node.Name(),
	}

	rawLog, err := NewAsyncFile(filepath.Join(s.logDir, NodeLogFilename(node, s.platform)))
	if err != nil {
		return result, fmt.Errorf("creating raw log for node %d (%s): %w", node.Index, node.Role, err)
	}
	// Safety net for early returns; Close is idempotent and the flush outcome
	// is checked explicitly on the normal path below.
	defer func() { _ = rawLog.Close() }()

	args := BuildNodeArgs(spec, node, s.nodeHost, s.serverHost, s.listenAddr, s.listenPort)
	cmd := exec.CommandContext(ctx, s.runnerBin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("piping stdout for node %d (%s): %w", node.Index, node.Role, err)
	}

	s.log.Info("Launching node process", "spec", spec.TestName, "node", node.Index, "role", node.Role)
	s.log.Debug("Node command", "command", cmd.String())

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("starting node %d (%s): %w", node.Index, node.Role, err)
	}

	// Drain stdout on its own goroutine. Joined before Wait so no line is
	// lost between process exit and result reporting.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if err := rawLog.Write([]byte(line + "\n")); err != nil {
				s.log.Error("Failed to append node raw log", "node", node.Index, "err", err)
			}
			collector.Record(types.LogEntry{
				NodeIndex: node.Index,
				Role:      node.Role,
				Platform:  s.platform,
				SpecName:  spec.TestName,
				Time:      time.Now(),
				Text:      line,
			})
		}
	}()
	<-drained

	waitErr := cmd.Wait()
	result.Duration = time.Since(start)
	result.ExitCode = exitCode(waitErr)

	if result.ExitCode == 0 {
		result.Verdict = types.VerdictPass
	} else {
		result.Verdict = types.VerdictFail
	}

	// The raw log is a run artifact; a lost write surfaces here instead of
	// shipping a silently truncated file.
	flushErr := rawLog.Close()

	s.log.Info("Node process exited",
		"spec", spec.TestName,
		"node", node.Index,
		"role", node.Role,
		"exitCode", result.ExitCode,
		"verdict", result.Verdict,
		"duration", result.Duration)

	if callbacks.OnNodeCompleted != nil {
		callbacks.OnNodeCompleted(result, nodeCompletionMessage(result))
	}

	if flushErr != nil {
		return result, fmt.Errorf("flushing raw log for node %d (%s): %w", node.Index, node.Role, flushErr)
	}
	return result, nil
}

// exitCode interprets the error from Wait. Exit code 0 is the sole signal of
// node-level success; any non-zero code is a node failure with no retry.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	// Wait failed without an exit status (e.g. I/O error); treat as failed.
	return -1
}

func nodeCompletionMessage(result types.NodeResult) string {
	if result.Failed() {
		return fmt.Sprintf("Node %d (%s) failed with exit code %d", result.Index, result.Role, result.ExitCode)
	}
	return fmt.Sprintf("Node %d (%s) passed", result.Index, result.Role)
}
