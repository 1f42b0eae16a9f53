package multinode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-multinode/sinks"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// stub runner: reports its role and fails when the role is "failer".
const stubRunner = `#!/bin/sh
role=""
for a in "$@"; do
  case "$a" in
    --role=*) role="${a#--role=}" ;;
  esac
done
echo "node $role up"
case "$role" in
  failer) echo "node $role going down"; exit 1 ;;
esac
exit 0
`

type testEnv struct {
	cfg      *Config
	manifest string
	assembly string
}

func newTestEnv(t *testing.T, manifest string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	runner := filepath.Join(dir, "runner.sh")
	require.NoError(t, os.WriteFile(runner, []byte(stubRunner), 0755))

	manifestPath := filepath.Join(dir, "specs.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0644))

	assemblyPath := filepath.Join(dir, "cluster.dll")
	require.NoError(t, os.WriteFile(assemblyPath, []byte("binary"), 0644))

	return &testEnv{
		cfg: &Config{
			TestAssembly:  assemblyPath,
			SpecManifest:  manifestPath,
			Sinks:         []sinks.Kind{sinks.KindJSON},
			ListenAddress: "127.0.0.1",
			ListenPort:    0,
			NodeHost:      "localhost",
			RunnerBinary:  runner,
			Platform:      "net",
			OutputDir:     filepath.Join(dir, "logs"),
			Log:           log.NewLogger(log.DiscardHandler()),
		},
		manifest: manifestPath,
		assembly: assemblyPath,
	}
}

func (e *testEnv) runDir(runID string) string {
	return filepath.Join(e.cfg.OutputDir, "testrun-"+runID)
}

func (e *testEnv) readRunJSON(t *testing.T, runID string) jsonRunDoc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.runDir(runID), sinks.JSONFilename))
	require.NoError(t, err)
	var doc jsonRunDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

// jsonRunDoc mirrors the shape of the JSON sink output for assertions.
type jsonRunDoc struct {
	RunID    string   `json:"run_id"`
	Messages []string `json:"messages"`
	Specs    []struct {
		TestName string `json:"test_name"`
		Verdict  string `json:"verdict"`
		Nodes    []struct {
			Index   int    `json:"index"`
			Role    string `json:"role"`
			Verdict string `json:"verdict"`
		} `json:"nodes"`
		Timeline []types.LogEntry `json:"timeline"`
	} `json:"specs"`
}

func TestRunPassingAndFailingSpecs(t *testing.T) {
	env := newTestEnv(t, `
specs:
  - test_class: ConvergenceSpec
    test_method: MustConverge
    nodes:
      - role: seed
      - role: member
  - test_class: CrashSpec
    test_method: MustSurviveCrash
    nodes:
      - role: seed
      - role: failer
`)

	o, err := New(env.cfg, "test")
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, StateTerminated, o.State())
	assert.True(t, result.Failed())
	assert.Equal(t, types.VerdictFail, result.Status)
	require.Len(t, result.Specs, 2)
	assert.Equal(t, types.VerdictPass, result.Specs[0].Verdict)
	assert.Equal(t, types.VerdictFail, result.Specs[1].Verdict)
	assert.Equal(t, Stats{Specs: 2, Nodes: 4, Passed: 1, Failed: 1}, result.Stats)

	runDir := env.runDir(result.RunID)

	// Per-spec timelines are written for both specs; only the failed spec is
	// copied under failed/.
	assert.FileExists(t, filepath.Join(runDir, "ConvergenceSpec.log"))
	assert.FileExists(t, filepath.Join(runDir, "CrashSpec.log"))
	assert.FileExists(t, filepath.Join(runDir, "failed", "CrashSpec.log"))
	assert.NoFileExists(t, filepath.Join(runDir, "failed", "ConvergenceSpec.log"))

	// Per-node raw logs.
	assert.FileExists(t, filepath.Join(runDir, "node1-seed-net.log"))
	assert.FileExists(t, filepath.Join(runDir, "node2-failer-net.log"))

	summary, err := os.ReadFile(filepath.Join(runDir, "summary.log"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Status: fail")
	assert.Contains(t, string(summary), "CrashSpec: fail")

	timeline, err := os.ReadFile(filepath.Join(runDir, "CrashSpec.log"))
	require.NoError(t, err)
	assert.Contains(t, string(timeline), "[failer-2-net] node failer going down")

	// No cross-spec leakage between the two sequential timelines.
	first, err := os.ReadFile(filepath.Join(runDir, "ConvergenceSpec.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(first), "failer")
	assert.NotContains(t, string(timeline), "node member up")

	doc := env.readRunJSON(t, result.RunID)
	assert.Equal(t, result.RunID, doc.RunID)
	require.Len(t, doc.Specs, 2)
	assert.Equal(t, "pass", doc.Specs[0].Verdict)
	assert.Equal(t, "fail", doc.Specs[1].Verdict)
	require.Len(t, doc.Specs[1].Nodes, 2)
	assert.Equal(t, "fail", doc.Specs[1].Nodes[1].Verdict)
}

func TestRunDiscoveryErrorAbortsBeforeLaunching(t *testing.T) {
	env := newTestEnv(t, `
specs:
  - test_class: ConvergenceSpec
    test_method: MustConverge
    nodes:
      - role: seed
`)
	require.NoError(t, os.Remove(env.assembly))

	o, err := New(env.cfg, "test")
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "discovery failed")

	require.NotNil(t, result)
	assert.Empty(t, result.Specs)
	assert.Equal(t, StateTerminated, o.State())

	// No node process was ever started.
	assert.NoFileExists(t, filepath.Join(env.runDir(o.RunID()), "node1-seed-net.log"))

	// The discovery error is reported verbatim through the runner messages.
	doc := env.readRunJSON(t, o.RunID())
	require.NotEmpty(t, doc.Messages)
	found := false
	for _, m := range doc.Messages {
		if strings.Contains(m, "discovery error") {
			found = true
		}
	}
	assert.True(t, found, "expected a discovery error runner message, got %v", doc.Messages)
	assert.Empty(t, doc.Specs)
}

func TestRunSkipsMarkedSpecs(t *testing.T) {
	env := newTestEnv(t, `
specs:
  - test_class: FlakySpec
    test_method: SometimesWorks
    skip: "flaky on CI"
    nodes:
      - role: seed
      - role: member
`)

	o, err := New(env.cfg, "test")
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Specs, 1)
	spec := result.Specs[0]
	assert.Equal(t, types.VerdictSkip, spec.Verdict)
	require.Len(t, spec.Nodes, 2)
	for _, node := range spec.Nodes {
		assert.Equal(t, types.VerdictSkip, node.Verdict)
	}
	assert.Equal(t, types.VerdictSkip, result.Status)

	// No processes were launched, so no raw node logs exist.
	assert.NoFileExists(t, filepath.Join(env.runDir(result.RunID), "node1-seed-net.log"))

	doc := env.readRunJSON(t, result.RunID)
	require.Len(t, doc.Specs, 1)
	assert.Equal(t, "skip", doc.Specs[0].Verdict)
}

func TestRunAppliesNameFilter(t *testing.T) {
	env := newTestEnv(t, `
specs:
  - test_class: ConvergenceSpec
    test_method: MustConverge
    nodes:
      - role: seed
  - test_class: HandoffSpec
    test_method: MustHandOff
    nodes:
      - role: seed
`)
	env.cfg.Filter = []string{"handoff"}

	o, err := New(env.cfg, "test")
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Specs, 2)
	assert.Equal(t, types.VerdictSkip, result.Specs[0].Verdict)
	assert.Equal(t, types.VerdictPass, result.Specs[1].Verdict)
	assert.Equal(t, types.VerdictPass, result.Status)
}

func TestRunMissingRunnerBinaryAborts(t *testing.T) {
	env := newTestEnv(t, `
specs:
  - test_class: ConvergenceSpec
    test_method: MustConverge
    nodes:
      - role: seed
`)
	env.cfg.RunnerBinary = ""

	o, err := New(env.cfg, "test")
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Empty(t, result.Specs)
	assert.Equal(t, StateTerminated, o.State())
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, "test")
	require.Error(t, err)
}

func TestNewWithDiscovererRequiresDiscoverer(t *testing.T) {
	env := newTestEnv(t, "specs: []")
	_, err := NewWithDiscoverer(env.cfg, "test", nil)
	require.Error(t, err)
}

func TestMatchesFilter(t *testing.T) {
	spec := types.Spec{
		TestName: "ClusterSpec",
		Nodes: []types.NodeTest{
			{Index: 1, Role: "seed", TestClass: "ClusterSpec", TestMethod: "MustConverge"},
			{Index: 2, Role: "member", TestClass: "ClusterSpec", TestMethod: "MustConverge"},
		},
	}

	tests := []struct {
		name  string
		terms []string
		want  bool
	}{
		{name: "empty filter includes all", terms: nil, want: true},
		{name: "class name match", terms: []string{"ClusterSpec"}, want: true},
		{name: "case-insensitive", terms: []string{"clusterspec"}, want: true},
		{name: "method substring", terms: []string{"converge"}, want: true},
		{name: "any term may match", terms: []string{"nomatch", "Converge"}, want: true},
		{name: "no match", terms: []string{"FailoverSpec"}, want: false},
		{name: "role is not matched", terms: []string{"seed"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesFilter(spec, tt.terms))
		})
	}
}

func TestSpecLogFilename(t *testing.T) {
	assert.Equal(t, "ClusterSpec.log", specLogFilename(types.Spec{TestName: "ClusterSpec"}))
	assert.Equal(t, "Nested_Spec_Name.log", specLogFilename(types.Spec{TestName: "Nested/Spec Name"}))
}
