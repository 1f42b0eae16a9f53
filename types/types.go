// Package types contains shared types used across the multi-node test runner.
package types

import (
	"fmt"
	"time"
)

// Verdict represents the possible outcomes of a spec or node test execution
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictSkip Verdict = "skip"
)

// String implements the Stringer interface for Verdict
func (v Verdict) String() string {
	return string(v)
}

// NodeTest describes one process to launch as part of a spec. Created at
// discovery time and immutable afterwards; consumed once by the supervisor.
type NodeTest struct {
	// Index is 1-based and unique within a spec. The 0-based form is only
	// used on the node bootstrap command line.
	Index        int
	Role         string
	TestClass    string
	TestMethod   string
	AssemblyPath string
}

// Name returns the identifier reported for this node test.
func (n NodeTest) Name() string {
	return fmt.Sprintf("%s.%s", n.TestClass, n.TestMethod)
}

// Spec is one logical distributed test, realized as multiple node processes.
type Spec struct {
	TestName   string // stable identifier, e.g. the test class name
	MethodName string
	SkipReason string // non-empty means the spec is skipped without launching nodes
	Nodes      []NodeTest
}

// Name returns the spec's test identifier.
func (s Spec) Name() string {
	return s.TestName
}

// LogEntry is one line of output attributed to a node. Exclusively owned by
// the timeline collector that received it; never mutated after creation.
type LogEntry struct {
	NodeIndex int       `json:"index"`
	Role      string    `json:"role"`
	Platform  string    `json:"platform"`
	SpecName  string    `json:"spec"`
	Time      time.Time `json:"time"`
	Text      string    `json:"text"`
}

// String formats the entry the way timeline dumps and console output show it.
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s-%d-%s] %s", e.Role, e.NodeIndex, e.Platform, e.Text)
}

// SpecLog is the ordered sequence of log entries for one spec. Produced once
// by a timeline collector and immutable thereafter.
type SpecLog struct {
	TestName   string
	MethodName string
	Entries    []LogEntry
}

// NodeResult captures the outcome of a single node process.
type NodeResult struct {
	Index    int
	Role     string
	TestName string
	Verdict  Verdict
	ExitCode int
	Duration time.Duration
}

// Failed reports whether the node process exited non-zero.
func (r NodeResult) Failed() bool {
	return r.Verdict == VerdictFail
}

// SpecResult aggregates the node results for one spec.
type SpecResult struct {
	Spec     Spec
	Verdict  Verdict
	Nodes    []NodeResult
	Duration time.Duration
}

// AggregateVerdict computes a spec verdict from node results: failed if any
// node failed, skipped if all nodes were skipped, passed otherwise.
func AggregateVerdict(nodes []NodeResult) Verdict {
	if len(nodes) == 0 {
		return VerdictSkip
	}
	allSkipped := true
	anyFailed := false
	for _, n := range nodes {
		if n.Verdict != VerdictSkip {
			allSkipped = false
		}
		if n.Verdict == VerdictFail {
			anyFailed = true
		}
	}
	if allSkipped {
		return VerdictSkip
	}
	if anyFailed {
		return VerdictFail
	}
	return VerdictPass
}

// Validate checks the spec invariants established at discovery time.
func (s Spec) Validate() error {
	if s.TestName == "" {
		return fmt.Errorf("spec has no test name")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("spec %s has no node tests", s.TestName)
	}
	seen := make(map[int]string, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Index < 1 || n.Index > len(s.Nodes) {
			return fmt.Errorf("spec %s: node index %d out of range 1..%d", s.TestName, n.Index, len(s.Nodes))
		}
		if role, dup := seen[n.Index]; dup {
			return fmt.Errorf("spec %s: duplicate node index %d (roles %s, %s)", s.TestName, n.Index, role, n.Role)
		}
		seen[n.Index] = n.Role
	}
	return nil
}
