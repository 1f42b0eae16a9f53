package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-multinode/timeline"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

func twoNodeSpec() types.Spec {
	return types.Spec{
		TestName:   "ClusterSpec",
		MethodName: "MustConverge",
		Nodes: []types.NodeTest{
			{Index: 1, Role: "seed", TestClass: "ClusterSpec", TestMethod: "MustConverge", AssemblyPath: "/tmp/cluster.dll"},
			{Index: 2, Role: "member", TestClass: "ClusterSpec", TestMethod: "MustConverge", AssemblyPath: "/tmp/cluster.dll"},
		},
	}
}

// writeScript writes an executable shell script to stand in for the
// node-runner binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newTestSupervisor(t *testing.T, script string) *Supervisor {
	t.Helper()
	s, err := New(Config{
		RunnerBinary: script,
		Platform:     "net",
		NodeHost:     "localhost",
		ServerHost:   "127.0.0.1",
		ListenAddr:   "127.0.0.1",
		ListenPort:   4710,
		LogDir:       t.TempDir(),
	})
	require.NoError(t, err)
	return s
}

func TestBuildNodeArgs(t *testing.T) {
	spec := twoNodeSpec()
	args := BuildNodeArgs(spec, spec.Nodes[1], "localhost", "127.0.0.1", "0.0.0.0", 4710)

	assert.Equal(t, []string{
		"--test-class=ClusterSpec",
		"--test-method=MustConverge",
		"--max-nodes=2",
		"--server-host=127.0.0.1",
		"--host=localhost",
		"--index=1", // 0-based on the wire, node.Index is 2
		"--role=member",
		"--listen-address=0.0.0.0",
		"--listen-port=4710",
		"--test-assembly=/tmp/cluster.dll",
	}, args)
}

func TestNodeLogFilename(t *testing.T) {
	tests := []struct {
		name     string
		node     types.NodeTest
		platform string
		want     string
	}{
		{
			name:     "plain",
			node:     types.NodeTest{Index: 1, Role: "seed"},
			platform: "net",
			want:     "node1-seed-net.log",
		},
		{
			name:     "role with separators",
			node:     types.NodeTest{Index: 3, Role: "back end/worker"},
			platform: "net",
			want:     "node3-back_end_worker-net.log",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NodeLogFilename(tt.node, tt.platform))
		})
	}
}

func TestResolveRunnerBinaryNotFound(t *testing.T) {
	_, err := ResolveRunnerBinary("definitely-not-a-real-runner")
	require.Error(t, err)

	var notFound *RunnerNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "definitely-not-a-real-runner", notFound.Name)
	assert.NotEmpty(t, notFound.Searched)
	for _, candidate := range notFound.Searched {
		assert.Contains(t, err.Error(), candidate)
	}
}

func TestNewRequiresLogDir(t *testing.T) {
	_, err := New(Config{RunnerBinary: "/bin/true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log directory")
}

func TestNewFailsOnMissingRunner(t *testing.T) {
	_, err := New(Config{LogDir: t.TempDir()})
	require.Error(t, err)

	var notFound *RunnerNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLaunchNodePass(t *testing.T) {
	script := writeScript(t, "echo first line\necho second line\nexit 0\n")
	s := newTestSupervisor(t, script)

	spec := twoNodeSpec()
	collector := timeline.NewCollector(spec.TestName, spec.MethodName)

	var cbResult types.NodeResult
	var cbMessage string
	result, err := s.LaunchNode(context.Background(), spec, spec.Nodes[0], collector, Callbacks{
		OnNodeCompleted: func(r types.NodeResult, m string) {
			cbResult = r
			cbMessage = m
		},
	})
	require.NoError(t, err)

	assert.Equal(t, types.VerdictPass, result.Verdict)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 1, result.Index)
	assert.Equal(t, "ClusterSpec.MustConverge", result.TestName)

	// Output fully drained before the result is reported.
	require.Equal(t, 2, collector.Len())
	specLog := collector.SpecLog()
	assert.Equal(t, "first line", specLog.Entries[0].Text)
	assert.Equal(t, "second line", specLog.Entries[1].Text)
	assert.Equal(t, "seed", specLog.Entries[0].Role)
	assert.Equal(t, "ClusterSpec", specLog.Entries[0].SpecName)

	assert.Equal(t, result, cbResult)
	assert.Equal(t, "Node 1 (seed) passed", cbMessage)
}

func TestLaunchNodeFail(t *testing.T) {
	script := writeScript(t, "echo going down\nexit 3\n")
	s := newTestSupervisor(t, script)

	spec := twoNodeSpec()
	collector := timeline.NewCollector(spec.TestName, spec.MethodName)

	var cbMessage string
	result, err := s.LaunchNode(context.Background(), spec, spec.Nodes[1], collector, Callbacks{
		OnNodeCompleted: func(_ types.NodeResult, m string) { cbMessage = m },
	})
	require.NoError(t, err)

	assert.Equal(t, types.VerdictFail, result.Verdict)
	assert.Equal(t, 3, result.ExitCode)
	assert.True(t, result.Failed())
	assert.Equal(t, "Node 2 (member) failed with exit code 3", cbMessage)
	assert.Equal(t, 1, collector.Len())
}

func TestLaunchNodeWritesRawLog(t *testing.T) {
	script := writeScript(t, "echo raw output line\n")
	logDir := t.TempDir()
	s, err := New(Config{
		RunnerBinary: script,
		Platform:     "net",
		LogDir:       logDir,
	})
	require.NoError(t, err)

	spec := twoNodeSpec()
	collector := timeline.NewCollector(spec.TestName, spec.MethodName)
	_, err = s.LaunchNode(context.Background(), spec, spec.Nodes[0], collector, Callbacks{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(logDir, "node1-seed-net.log"))
	require.NoError(t, err)
	assert.Equal(t, "raw output line\n", string(data))
}

func TestLaunchNodeReceivesContractArgs(t *testing.T) {
	// The stub echoes its own argv so the launch contract is observable from
	// the recorded timeline.
	script := writeScript(t, "for a in \"$@\"; do echo \"$a\"; done\n")
	s := newTestSupervisor(t, script)

	spec := twoNodeSpec()
	collector := timeline.NewCollector(spec.TestName, spec.MethodName)
	_, err := s.LaunchNode(context.Background(), spec, spec.Nodes[0], collector, Callbacks{})
	require.NoError(t, err)

	var lines []string
	for _, e := range collector.SpecLog().Entries {
		lines = append(lines, e.Text)
	}
	assert.Contains(t, lines, "--test-class=ClusterSpec")
	assert.Contains(t, lines, "--index=0")
	assert.Contains(t, lines, "--max-nodes=2")
	assert.Contains(t, lines, "--listen-port=4710")
}

func TestLaunchNodeStartError(t *testing.T) {
	s, err := New(Config{
		RunnerBinary: filepath.Join(t.TempDir(), "missing-binary"),
		LogDir:       t.TempDir(),
	})
	require.NoError(t, err)

	spec := twoNodeSpec()
	collector := timeline.NewCollector(spec.TestName, spec.MethodName)
	_, err = s.LaunchNode(context.Background(), spec, spec.Nodes[0], collector, Callbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting node 1")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, -1, exitCode(assert.AnError))
}
