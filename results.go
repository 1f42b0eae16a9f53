package multinode

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Stats aggregates counts over a finished run.
type Stats struct {
	Specs   int
	Nodes   int
	Passed  int
	Failed  int
	Skipped int
}

// RunResult is the product of one Orchestrator.Run invocation.
type RunResult struct {
	RunID    string
	Specs    []types.SpecResult
	Duration time.Duration
	Status   types.Verdict
	Stats    Stats
}

// finalize computes the run status and stats from the collected spec results.
func (r *RunResult) finalize() {
	r.Stats = Stats{Specs: len(r.Specs)}
	for _, spec := range r.Specs {
		r.Stats.Nodes += len(spec.Nodes)
		switch spec.Verdict {
		case types.VerdictPass:
			r.Stats.Passed++
		case types.VerdictFail:
			r.Stats.Failed++
		case types.VerdictSkip:
			r.Stats.Skipped++
		}
	}

	switch {
	case r.Stats.Failed > 0:
		r.Status = types.VerdictFail
	case r.Stats.Passed > 0:
		r.Status = types.VerdictPass
	default:
		r.Status = types.VerdictSkip
	}
}

// Failed reports whether any spec in the run failed.
func (r *RunResult) Failed() bool {
	return r.Status == types.VerdictFail
}

// String returns a one-line summary of the run.
func (r *RunResult) String() string {
	return fmt.Sprintf("RunID: %s, Status: %s, Specs: %d (passed: %d, failed: %d, skipped: %d), Duration: %s",
		r.RunID, r.Status, r.Stats.Specs, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped, r.Duration)
}

// PrintTable renders the per-spec results table to stdout.
func (r *RunResult) PrintTable() {
	r.WriteTable(os.Stdout)
}

// WriteTable renders the per-spec results table to the given writer.
func (r *RunResult) WriteTable(out io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("Multi-Node Test Run: %s", r.RunID))
	t.AppendHeader(table.Row{"Spec", "Verdict", "Nodes", "Failed Nodes", "Duration"})

	for _, spec := range r.Specs {
		failedNodes := ""
		for _, node := range spec.Nodes {
			if node.Failed() {
				if failedNodes != "" {
					failedNodes += ", "
				}
				failedNodes += fmt.Sprintf("%d (%s)", node.Index, node.Role)
			}
		}
		t.AppendRow(table.Row{
			spec.Spec.TestName,
			coloredVerdict(spec.Verdict),
			len(spec.Nodes),
			failedNodes,
			spec.Duration.Round(time.Millisecond),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d specs, %d nodes", r.Stats.Specs, r.Stats.Nodes),
		coloredVerdict(r.Status),
		"",
		fmt.Sprintf("%d failed", r.Stats.Failed),
		r.Duration.Round(time.Millisecond),
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// WriteSummaryFile persists a plain-text run summary into the run directory.
func (r *RunResult) WriteSummaryFile(path string) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\n", r.String())
	for _, spec := range r.Specs {
		fmt.Fprintf(&b, "%s: %s (%d nodes, %s)\n",
			spec.Spec.TestName, spec.Verdict, len(spec.Nodes), spec.Duration.Round(time.Millisecond))
		for _, node := range spec.Nodes {
			fmt.Fprintf(&b, "  node %d (%s): %s exit=%d\n", node.Index, node.Role, node.Verdict, node.ExitCode)
		}
	}
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing run summary %s: %w", path, err)
	}
	return nil
}

func coloredVerdict(v types.Verdict) string {
	switch v {
	case types.VerdictPass:
		return text.FgGreen.Sprint("PASS")
	case types.VerdictFail:
		return text.FgRed.Sprint("FAIL")
	case types.VerdictSkip:
		return text.FgYellow.Sprint("SKIP")
	default:
		return string(v)
	}
}
