package multinode

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

func specResult(name string, verdict types.Verdict, nodes ...types.NodeResult) types.SpecResult {
	return types.SpecResult{
		Spec:     types.Spec{TestName: name},
		Verdict:  verdict,
		Nodes:    nodes,
		Duration: time.Second,
	}
}

func TestRunResultFinalize(t *testing.T) {
	tests := []struct {
		name       string
		specs      []types.SpecResult
		wantStatus types.Verdict
		wantStats  Stats
	}{
		{
			name:       "empty run is skipped",
			specs:      nil,
			wantStatus: types.VerdictSkip,
			wantStats:  Stats{},
		},
		{
			name: "all passed",
			specs: []types.SpecResult{
				specResult("A", types.VerdictPass, types.NodeResult{Index: 1, Verdict: types.VerdictPass}),
				specResult("B", types.VerdictPass, types.NodeResult{Index: 1, Verdict: types.VerdictPass}),
			},
			wantStatus: types.VerdictPass,
			wantStats:  Stats{Specs: 2, Nodes: 2, Passed: 2},
		},
		{
			name: "one failure fails the run",
			specs: []types.SpecResult{
				specResult("A", types.VerdictPass, types.NodeResult{Index: 1, Verdict: types.VerdictPass}),
				specResult("B", types.VerdictFail,
					types.NodeResult{Index: 1, Verdict: types.VerdictPass},
					types.NodeResult{Index: 2, Verdict: types.VerdictFail}),
			},
			wantStatus: types.VerdictFail,
			wantStats:  Stats{Specs: 2, Nodes: 3, Passed: 1, Failed: 1},
		},
		{
			name: "skips only",
			specs: []types.SpecResult{
				specResult("A", types.VerdictSkip, types.NodeResult{Index: 1, Verdict: types.VerdictSkip}),
			},
			wantStatus: types.VerdictSkip,
			wantStats:  Stats{Specs: 1, Nodes: 1, Skipped: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RunResult{RunID: "run-1", Specs: tt.specs}
			r.finalize()
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantStats, r.Stats)
			assert.Equal(t, tt.wantStatus == types.VerdictFail, r.Failed())
		})
	}
}

func TestRunResultString(t *testing.T) {
	r := &RunResult{
		RunID: "run-1",
		Specs: []types.SpecResult{
			specResult("A", types.VerdictPass, types.NodeResult{Index: 1, Verdict: types.VerdictPass}),
			specResult("B", types.VerdictFail, types.NodeResult{Index: 1, Verdict: types.VerdictFail}),
		},
		Duration: 5 * time.Second,
	}
	r.finalize()

	s := r.String()
	assert.Contains(t, s, "run-1")
	assert.Contains(t, s, "Status: fail")
	assert.Contains(t, s, "passed: 1")
	assert.Contains(t, s, "failed: 1")
}

func TestRunResultWriteTable(t *testing.T) {
	r := &RunResult{
		RunID: "run-1",
		Specs: []types.SpecResult{
			specResult("ConvergenceSpec", types.VerdictPass,
				types.NodeResult{Index: 1, Role: "seed", Verdict: types.VerdictPass},
				types.NodeResult{Index: 2, Role: "member", Verdict: types.VerdictPass}),
			specResult("CrashSpec", types.VerdictFail,
				types.NodeResult{Index: 1, Role: "seed", Verdict: types.VerdictPass},
				types.NodeResult{Index: 2, Role: "failer", Verdict: types.VerdictFail}),
		},
		Duration: 5 * time.Second,
	}
	r.finalize()

	var buf bytes.Buffer
	r.WriteTable(&buf)

	out := buf.String()
	assert.Contains(t, out, "ConvergenceSpec")
	assert.Contains(t, out, "CrashSpec")
	assert.Contains(t, out, "2 (failer)")
	assert.Contains(t, out, "2 specs, 4 nodes")
	assert.Contains(t, out, "1 failed")
}
