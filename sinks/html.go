package sinks

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

//go:embed templates/report.tmpl.html
var templateFS embed.FS

// HTMLFilename is the visual report written into the run directory.
const HTMLFilename = "results.html"

// HTMLSink renders a browsable report of the run: per-spec verdicts, node
// results and the merged timeline.
type HTMLSink struct {
	baseDir string
	runID   string
	started time.Time
	tmpl    *template.Template

	specs   []htmlSpec
	current *htmlSpec
}

type htmlSpec struct {
	TestName string
	Verdict  types.Verdict
	Nodes    []htmlNode
	Timeline []types.LogEntry
}

type htmlNode struct {
	Index    int
	Role     string
	Verdict  types.Verdict
	ExitCode int
	Duration time.Duration
}

type htmlReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Passed   int
	Failed   int
	Skipped  int
	Specs    []htmlSpec
}

var _ Sink = &HTMLSink{}

// NewHTMLSink creates an HTML report sink rooted at the run directory.
func NewHTMLSink(cfg SinkConfig) (*HTMLSink, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("html sink requires a base directory")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/report.tmpl.html")
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &HTMLSink{
		baseDir: cfg.BaseDir,
		runID:   cfg.RunID,
		started: time.Now(),
		tmpl:    tmpl,
	}, nil
}

func (s *HTMLSink) HandleRunnerMessage(message string) error {
	return nil
}

func (s *HTMLSink) HandleSpecStarted(spec types.Spec) error {
	s.current = &htmlSpec{TestName: spec.TestName}
	return nil
}

func (s *HTMLSink) HandleNodeCompleted(result types.NodeResult, message string) error {
	if s.current == nil {
		return fmt.Errorf("node completion for %s arrived outside a spec", result.TestName)
	}
	s.current.Nodes = append(s.current.Nodes, htmlNode{
		Index:    result.Index,
		Role:     result.Role,
		Verdict:  result.Verdict,
		ExitCode: result.ExitCode,
		Duration: result.Duration,
	})
	return nil
}

func (s *HTMLSink) HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error {
	if s.current == nil {
		return fmt.Errorf("spec end for %s arrived outside a spec", specLog.TestName)
	}
	s.current.Verdict = verdict
	s.current.Timeline = specLog.Entries
	s.specs = append(s.specs, *s.current)
	s.current = nil
	return nil
}

func (s *HTMLSink) Close() error {
	report := htmlReport{
		RunID:    s.runID,
		Started:  s.started,
		Finished: time.Now(),
		Specs:    s.specs,
	}
	for _, spec := range s.specs {
		switch spec.Verdict {
		case types.VerdictPass:
			report.Passed++
		case types.VerdictFail:
			report.Failed++
		case types.VerdictSkip:
			report.Skipped++
		}
	}

	path := filepath.Join(s.baseDir, HTMLFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating HTML report %s: %w", path, err)
	}
	defer f.Close()

	if err := s.tmpl.Execute(f, report); err != nil {
		return fmt.Errorf("rendering HTML report: %w", err)
	}
	return nil
}
