// Package multinode drives distributed integration test runs: it maps specs
// to node processes, supervises them, aggregates their logs into per-spec
// timelines and fans results out to the configured sinks.
package multinode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-multinode/discovery"
	"github.com/ethereum-optimism/infra/op-multinode/logserver"
	"github.com/ethereum-optimism/infra/op-multinode/metrics"
	"github.com/ethereum-optimism/infra/op-multinode/sinks"
	"github.com/ethereum-optimism/infra/op-multinode/supervisor"
	"github.com/ethereum-optimism/infra/op-multinode/timeline"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// State names the orchestrator's position in its per-run state machine.
type State string

const (
	StateIdle           State = "idle"
	StateServerStarting State = "server-starting"
	StateDiscovering    State = "discovering"
	StateRunningSpec    State = "running-spec"
	StateDraining       State = "draining"
	StateTerminated     State = "terminated"
)

// shutdownTimeout bounds the final wait for worker goroutines.
const shutdownTimeout = time.Minute

// Orchestrator runs every discovered spec to completion, strictly
// sequentially, and owns graceful shutdown ordering: stop the log server,
// close all sinks, join workers, then return the full result list.
type Orchestrator struct {
	config     *Config
	version    string
	discoverer discovery.Discoverer
	tracer     trace.Tracer

	state State
	runID string
	wg    sync.WaitGroup
}

// New creates an orchestrator. The sink selection in cfg has already been
// resolved to the closed Kind set; discovery is injected so tests can
// substitute their own Discoverer.
func New(cfg *Config, version string) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	disc, err := discovery.NewManifestDiscoverer(discovery.Config{
		Log:          cfg.Log,
		ManifestFile: cfg.SpecManifest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create discoverer: %w", err)
	}

	return newWithDiscoverer(cfg, version, disc)
}

// NewWithDiscoverer creates an orchestrator with an explicit discovery
// collaborator.
func NewWithDiscoverer(cfg *Config, version string, disc discovery.Discoverer) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return newWithDiscoverer(cfg, version, disc)
}

func newWithDiscoverer(cfg *Config, version string, disc discovery.Discoverer) (*Orchestrator, error) {
	if disc == nil {
		return nil, errors.New("discoverer is required")
	}

	cfg.Log.Debug("Creating orchestrator",
		"testAssembly", cfg.TestAssembly,
		"specManifest", cfg.SpecManifest,
		"sinks", cfg.Sinks,
		"outputDir", cfg.OutputDir)

	return &Orchestrator{
		config:     cfg,
		version:    version,
		discoverer: disc,
		tracer:     otel.Tracer("multinode orchestrator"),
		state:      StateIdle,
	}, nil
}

func (o *Orchestrator) setState(s State) {
	o.config.Log.Debug("Orchestrator state transition", "from", o.state, "to", s)
	o.state = s
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return o.state
}

// RunID returns the identifier of the current (or last) run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run executes the whole suite once and returns the full result list. Specs
// never overlap, so the single active timeline collector invariant holds for
// the duration of the run. Already-collected results are returned even when
// shutdown reports an error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	o.runID = uuid.New().String()
	cfg := o.config

	runDir := filepath.Join(cfg.OutputDir, "testrun-"+o.runID)
	failedDir := filepath.Join(runDir, "failed")
	for _, dir := range []string{runDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create run directory %s: %w", dir, err))
		}
	}

	result := &RunResult{RunID: o.runID}

	o.setState(StateServerStarting)
	registry := timeline.NewRegistry()
	server, err := logserver.NewServer(logserver.Config{
		Address:  net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.ListenPort)),
		Registry: registry,
		Log:      cfg.Log,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	coordinator := sinks.NewCoordinator(cfg.Log)
	for _, kind := range cfg.Sinks {
		sink, err := sinks.NewSink(kind, sinks.SinkConfig{
			BaseDir: runDir,
			RunID:   o.runID,
			Log:     cfg.Log,
		})
		if err != nil {
			return result, o.abort(ctx, server, coordinator, fmt.Errorf("failed to create %s sink: %w", kind, err))
		}
		coordinator.EnableSink(sink)
	}

	sup, err := supervisor.New(supervisor.Config{
		Log:          cfg.Log,
		RunnerBinary: cfg.RunnerBinary,
		Platform:     cfg.Platform,
		NodeHost:     cfg.NodeHost,
		ServerHost:   cfg.ListenAddress,
		ListenAddr:   cfg.ListenAddress,
		ListenPort:   server.Addr().Port,
		LogDir:       runDir,
	})
	if err != nil {
		coordinator.RunnerMessage(err.Error())
		return result, o.abort(ctx, server, coordinator, err)
	}

	coordinator.RunnerMessage(fmt.Sprintf("op-multinode %s starting run %s (log server %s)",
		o.version, o.runID, server.Addr()))

	o.setState(StateDiscovering)
	specs, discoveryErrs := o.discoverer.Discover(cfg.TestAssembly)
	if len(discoveryErrs) > 0 {
		for _, derr := range discoveryErrs {
			cfg.Log.Error("Discovery error", "err", derr)
			coordinator.RunnerMessage(fmt.Sprintf("discovery error: %v", derr))
		}
		return result, o.abort(ctx, server, coordinator, fmt.Errorf("discovery failed: %w", errors.Join(discoveryErrs...)))
	}
	coordinator.RunnerMessage(fmt.Sprintf("Discovered %d specs", len(specs)))

	var specErr error
	for _, spec := range specs {
		o.setState(StateRunningSpec)
		specResult, err := o.runSpec(ctx, spec, sup, registry, coordinator, runDir, failedDir)
		result.Specs = append(result.Specs, specResult)
		if err != nil {
			// Artifact writes are the product of the run; their failure is
			// a run-level failure, not something to suppress.
			specErr = err
			break
		}
	}

	o.setState(StateDraining)
	shutdownErr := o.drain(ctx, server, coordinator)
	o.setState(StateTerminated)

	result.Duration = time.Since(start)
	result.finalize()
	metrics.RecordRun(o.runID, string(result.Status), result.Stats.Specs, result.Stats.Failed, result.Duration)

	summaryErr := result.WriteSummaryFile(filepath.Join(runDir, "summary.log"))

	if specErr != nil {
		return result, NewRuntimeError(specErr)
	}
	if err := errors.Join(shutdownErr, summaryErr); err != nil {
		// Shutdown timeouts and artifact write failures are fatal but do not
		// retroactively invalidate the collected results.
		return result, NewRuntimeError(err)
	}
	return result, nil
}

// abort drains on an early-exit path and wraps the cause as a runtime error.
func (o *Orchestrator) abort(ctx context.Context, server *logserver.Server, coordinator *sinks.Coordinator, cause error) error {
	o.setState(StateDraining)
	if err := o.drain(ctx, server, coordinator); err != nil {
		o.config.Log.Error("Shutdown error while aborting run", "err", err)
	}
	o.setState(StateTerminated)
	return NewRuntimeError(cause)
}

// drain performs the shutdown ordering: stop the log aggregation server
// (bounded), close all sinks (waits for their flushes), join workers
// (bounded).
func (o *Orchestrator) drain(ctx context.Context, server *logserver.Server, coordinator *sinks.Coordinator) error {
	var errs []error

	if err := server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := coordinator.CloseAll(); err != nil {
		errs = append(errs, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := o.waitForWorkers(waitCtx); err != nil {
		errs = append(errs, fmt.Errorf("workers did not terminate within %s: %w", shutdownTimeout, err))
	}

	return errors.Join(errs...)
}

// waitForWorkers blocks until all node-launch goroutines have terminated.
func (o *Orchestrator) waitForWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSpec executes one spec: fresh collector, one process per node test,
// blocking wait for every exit, verdict aggregation, artifact flush, spec-end
// event. The returned error is reserved for artifact I/O failures; node
// failures are expressed through the verdict.
func (o *Orchestrator) runSpec(ctx context.Context, spec types.Spec, sup *supervisor.Supervisor, registry *timeline.Registry, coordinator *sinks.Coordinator, runDir, failedDir string) (types.SpecResult, error) {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("spec %s", spec.TestName))
	defer span.End()

	start := time.Now()
	coordinator.SpecStarted(spec)

	if reason, skip := o.shouldSkip(spec); skip {
		return o.skipSpec(spec, reason, coordinator, start), nil
	}

	collector := timeline.NewCollector(spec.TestName, spec.MethodName)
	registry.Activate(collector)
	defer registry.Deactivate()

	nodeResults := make([]types.NodeResult, len(spec.Nodes))
	artifactErrs := make([]error, len(spec.Nodes))
	var wg sync.WaitGroup
	for i, node := range spec.Nodes {
		wg.Add(1)
		o.wg.Add(1)
		go func(i int, node types.NodeTest) {
			defer wg.Done()
			defer o.wg.Done()

			res, err := sup.LaunchNode(ctx, spec, node, collector, supervisor.Callbacks{
				OnNodeCompleted: coordinator.NodeCompleted,
			})
			if err != nil {
				if res.Verdict == "" {
					// The process never produced a result; count it as a
					// failed node.
					o.config.Log.Error("Failed to launch node process",
						"spec", spec.TestName, "node", node.Index, "role", node.Role, "err", err)
					res.Verdict = types.VerdictFail
					coordinator.NodeCompleted(res, fmt.Sprintf("Node %d (%s) failed to launch: %v", node.Index, node.Role, err))
				} else {
					// The node completed but its raw log artifact is lost;
					// the verdict stands and the error fails the run.
					o.config.Log.Error("Node artifact write failed",
						"spec", spec.TestName, "node", node.Index, "role", node.Role, "err", err)
					artifactErrs[i] = err
				}
			}
			nodeResults[i] = res
			metrics.RecordNodeResult(o.runID, spec.TestName, node.Role, res.Verdict)
		}(i, node)
	}
	// A hung node process hangs the run here; no supervisory timeout exists.
	wg.Wait()

	verdict := types.AggregateVerdict(nodeResults)
	specResult := types.SpecResult{
		Spec:     spec,
		Verdict:  verdict,
		Nodes:    nodeResults,
		Duration: time.Since(start),
	}
	if err := errors.Join(artifactErrs...); err != nil {
		return specResult, err
	}

	timelinePath := filepath.Join(runDir, specLogFilename(spec))
	if err := collector.DumpToFile(timelinePath); err != nil {
		return specResult, err
	}
	if verdict == types.VerdictFail {
		if err := collector.DumpToFile(filepath.Join(failedDir, specLogFilename(spec))); err != nil {
			return specResult, err
		}
	}

	coordinator.SpecEnded(collector.SpecLog(), verdict)
	o.config.Log.Info("Spec completed",
		"spec", spec.TestName,
		"verdict", verdict,
		"nodes", len(spec.Nodes),
		"logLines", collector.Len(),
		"duration", specResult.Duration)
	return specResult, nil
}

// skipSpec short-circuits a spec without launching processes, still emitting
// start/finish events so result counts stay consistent.
func (o *Orchestrator) skipSpec(spec types.Spec, reason string, coordinator *sinks.Coordinator, start time.Time) types.SpecResult {
	nodeResults := make([]types.NodeResult, len(spec.Nodes))
	for i, node := range spec.Nodes {
		nodeResults[i] = types.NodeResult{
			Index:    node.Index,
			Role:     node.Role,
			TestName: node.Name(),
			Verdict:  types.VerdictSkip,
		}
		coordinator.NodeCompleted(nodeResults[i],
			fmt.Sprintf("Node %d (%s) skipped: %s", node.Index, node.Role, reason))
		metrics.RecordNodeResult(o.runID, spec.TestName, node.Role, types.VerdictSkip)
	}

	coordinator.SpecEnded(types.SpecLog{TestName: spec.TestName, MethodName: spec.MethodName}, types.VerdictSkip)
	o.config.Log.Info("Spec skipped", "spec", spec.TestName, "reason", reason)
	return types.SpecResult{
		Spec:     spec,
		Verdict:  types.VerdictSkip,
		Nodes:    nodeResults,
		Duration: time.Since(start),
	}
}

func (o *Orchestrator) shouldSkip(spec types.Spec) (string, bool) {
	if spec.SkipReason != "" {
		return spec.SkipReason, true
	}
	if !MatchesFilter(spec, o.config.Filter) {
		return "excluded by name filter", true
	}
	return "", false
}

// MatchesFilter reports whether a spec passes the name filter: true when the
// filter is empty, otherwise when any node test name contains any filter term
// (case-insensitive substring match).
func MatchesFilter(spec types.Spec, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, node := range spec.Nodes {
		name := strings.ToLower(node.Name())
		for _, term := range terms {
			if strings.Contains(name, strings.ToLower(term)) {
				return true
			}
		}
	}
	return false
}

// specLogFilename derives the aggregated timeline filename for a spec.
func specLogFilename(spec types.Spec) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(spec.TestName) + ".log"
}
