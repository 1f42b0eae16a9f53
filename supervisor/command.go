package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Node bootstrap contract. These are the literal argument keys parsed by the
// node-side runner; renaming any of them breaks every deployed node runner.
const (
	ArgTestClass     = "test-class"
	ArgTestMethod    = "test-method"
	ArgMaxNodes      = "max-nodes"
	ArgServerHost    = "server-host"
	ArgHost          = "host"
	ArgIndex         = "index" // 0-based on the wire
	ArgRole          = "role"
	ArgListenAddress = "listen-address"
	ArgListenPort    = "listen-port"
	ArgTestAssembly  = "test-assembly"
)

// DefaultRunnerName is the node-runner executable resolved from the search
// directories when no explicit binary is configured.
const DefaultRunnerName = "multinode-node-runner"

// RunnerNotFoundError is returned when the node-runner executable cannot be
// located. It enumerates every searched path so the operator can see exactly
// where resolution looked.
type RunnerNotFoundError struct {
	Name     string
	Searched []string
}

func (e *RunnerNotFoundError) Error() string {
	return fmt.Sprintf("node runner %q not found; searched: %s",
		e.Name, strings.Join(e.Searched, ", "))
}

// ResolveRunnerBinary locates the node-runner executable relative to the
// current process's own directory and the working directory.
func ResolveRunnerBinary(name string) (string, error) {
	var searchDirs []string

	if exe, err := os.Executable(); err == nil {
		searchDirs = append(searchDirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		searchDirs = append(searchDirs, wd)
	}

	var searched []string
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, name)
		searched = append(searched, candidate)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", &RunnerNotFoundError{Name: name, Searched: searched}
}

// BuildNodeArgs encodes one node test into the bootstrap command line. The
// key set and literal forms are the contract consumed by node-side code.
func BuildNodeArgs(spec types.Spec, node types.NodeTest, nodeHost, serverHost, listenAddr string, listenPort int) []string {
	return []string{
		fmt.Sprintf("--%s=%s", ArgTestClass, node.TestClass),
		fmt.Sprintf("--%s=%s", ArgTestMethod, node.TestMethod),
		fmt.Sprintf("--%s=%d", ArgMaxNodes, len(spec.Nodes)),
		fmt.Sprintf("--%s=%s", ArgServerHost, serverHost),
		fmt.Sprintf("--%s=%s", ArgHost, nodeHost),
		fmt.Sprintf("--%s=%d", ArgIndex, node.Index-1),
		fmt.Sprintf("--%s=%s", ArgRole, node.Role),
		fmt.Sprintf("--%s=%s", ArgListenAddress, listenAddr),
		fmt.Sprintf("--%s=%d", ArgListenPort, listenPort),
		fmt.Sprintf("--%s=%s", ArgTestAssembly, node.AssemblyPath),
	}
}

// NodeLogFilename derives the deterministic per-node raw log file name.
func NodeLogFilename(node types.NodeTest, platform string) string {
	return fmt.Sprintf("node%d-%s-%s.log", node.Index, safeFilename(node.Role), safeFilename(platform))
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(s)
}
