package sinks

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// TRXFilename is the structured report written into the run directory.
const TRXFilename = "results.trx"

// TRXSink accumulates node results per spec and writes a TRX-style XML
// report when the run completes.
type TRXSink struct {
	baseDir string
	runID   string
	started time.Time

	currentSpec *types.Spec
	currentRows []trxResult
	specs       []trxSpec
}

type trxSpec struct {
	name    string
	verdict types.Verdict
	rows    []trxResult
}

type trxResult struct {
	node    types.NodeResult
	message string
}

var _ Sink = &TRXSink{}

// NewTRXSink creates a TRX sink rooted at the run directory.
func NewTRXSink(cfg SinkConfig) (*TRXSink, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("trx sink requires a base directory")
	}
	return &TRXSink{
		baseDir: cfg.BaseDir,
		runID:   cfg.RunID,
		started: time.Now(),
	}, nil
}

func (s *TRXSink) HandleRunnerMessage(message string) error {
	return nil
}

func (s *TRXSink) HandleSpecStarted(spec types.Spec) error {
	specCopy := spec
	s.currentSpec = &specCopy
	s.currentRows = nil
	return nil
}

func (s *TRXSink) HandleNodeCompleted(result types.NodeResult, message string) error {
	s.currentRows = append(s.currentRows, trxResult{node: result, message: message})
	return nil
}

func (s *TRXSink) HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error {
	s.specs = append(s.specs, trxSpec{
		name:    specLog.TestName,
		verdict: verdict,
		rows:    s.currentRows,
	})
	s.currentSpec = nil
	s.currentRows = nil
	return nil
}

// TRX document model. A subset of the VSTest schema: one UnitTestResult per
// node process, grouped under the run.
type trxTestRun struct {
	XMLName xml.Name        `xml:"TestRun"`
	ID      string          `xml:"id,attr"`
	Name    string          `xml:"name,attr"`
	Times   trxTimes        `xml:"Times"`
	Results []trxUnitResult `xml:"Results>UnitTestResult"`
	Summary trxSummary      `xml:"ResultSummary"`
}

type trxTimes struct {
	Start  string `xml:"start,attr"`
	Finish string `xml:"finish,attr"`
}

type trxUnitResult struct {
	ExecutionID string `xml:"executionId,attr"`
	TestName    string `xml:"testName,attr"`
	Outcome     string `xml:"outcome,attr"`
	Duration    string `xml:"duration,attr"`
	Message     string `xml:"Output>StdOut,omitempty"`
}

type trxSummary struct {
	Outcome  string      `xml:"outcome,attr"`
	Counters trxCounters `xml:"Counters"`
}

type trxCounters struct {
	Total    int `xml:"total,attr"`
	Passed   int `xml:"passed,attr"`
	Failed   int `xml:"failed,attr"`
	NotRun   int `xml:"notExecuted,attr"`
	Executed int `xml:"executed,attr"`
}

// Close writes the accumulated report. Buffered state is flushed here; the
// coordinator guarantees no event follows.
func (s *TRXSink) Close() error {
	doc := trxTestRun{
		ID:   s.runID,
		Name: "multinode-" + s.runID,
		Times: trxTimes{
			Start:  s.started.Format(time.RFC3339),
			Finish: time.Now().Format(time.RFC3339),
		},
	}

	outcome := "Completed"
	for _, spec := range s.specs {
		if spec.verdict == types.VerdictFail {
			outcome = "Failed"
		}
		for _, row := range spec.rows {
			doc.Summary.Counters.Total++
			switch row.node.Verdict {
			case types.VerdictPass:
				doc.Summary.Counters.Passed++
				doc.Summary.Counters.Executed++
			case types.VerdictFail:
				doc.Summary.Counters.Failed++
				doc.Summary.Counters.Executed++
			case types.VerdictSkip:
				doc.Summary.Counters.NotRun++
			}
			doc.Results = append(doc.Results, trxUnitResult{
				ExecutionID: uuid.New().String(),
				TestName:    fmt.Sprintf("%s (node %d, %s)", row.node.TestName, row.node.Index, row.node.Role),
				Outcome:     trxOutcome(row.node.Verdict),
				Duration:    row.node.Duration.String(),
				Message:     row.message,
			})
		}
	}
	doc.Summary.Outcome = outcome

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling TRX report: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	path := filepath.Join(s.baseDir, TRXFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing TRX report %s: %w", path, err)
	}
	return nil
}

func trxOutcome(verdict types.Verdict) string {
	switch verdict {
	case types.VerdictPass:
		return "Passed"
	case types.VerdictSkip:
		return "NotExecuted"
	default:
		return "Failed"
	}
}
