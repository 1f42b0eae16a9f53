package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// JSONFilename is the persisted-run document written into the run directory.
const JSONFilename = "run.json"

// JSONSink persists the whole run, including per-spec timelines, as one JSON
// document on Close.
type JSONSink struct {
	baseDir string
	runID   string
	started time.Time

	messages []string
	specs    []jsonSpec
	current  *jsonSpec
}

type jsonSpec struct {
	TestName   string           `json:"test_name"`
	MethodName string           `json:"method_name"`
	Verdict    string           `json:"verdict"`
	Nodes      []jsonNode       `json:"nodes"`
	Timeline   []types.LogEntry `json:"timeline"`
}

type jsonNode struct {
	Index    int    `json:"index"`
	Role     string `json:"role"`
	TestName string `json:"test_name"`
	Verdict  string `json:"verdict"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
	Message  string `json:"message"`
}

type jsonRun struct {
	RunID    string     `json:"run_id"`
	Started  time.Time  `json:"started"`
	Finished time.Time  `json:"finished"`
	Messages []string   `json:"messages"`
	Specs    []jsonSpec `json:"specs"`
}

var _ Sink = &JSONSink{}

// NewJSONSink creates a persisted-run sink rooted at the run directory.
func NewJSONSink(cfg SinkConfig) (*JSONSink, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("json sink requires a base directory")
	}
	return &JSONSink{
		baseDir: cfg.BaseDir,
		runID:   cfg.RunID,
		started: time.Now(),
	}, nil
}

func (s *JSONSink) HandleRunnerMessage(message string) error {
	s.messages = append(s.messages, message)
	return nil
}

func (s *JSONSink) HandleSpecStarted(spec types.Spec) error {
	s.current = &jsonSpec{
		TestName:   spec.TestName,
		MethodName: spec.MethodName,
		Nodes:      make([]jsonNode, 0, len(spec.Nodes)),
	}
	return nil
}

func (s *JSONSink) HandleNodeCompleted(result types.NodeResult, message string) error {
	if s.current == nil {
		return fmt.Errorf("node completion for %s arrived outside a spec", result.TestName)
	}
	s.current.Nodes = append(s.current.Nodes, jsonNode{
		Index:    result.Index,
		Role:     result.Role,
		TestName: result.TestName,
		Verdict:  string(result.Verdict),
		ExitCode: result.ExitCode,
		Duration: result.Duration.String(),
		Message:  message,
	})
	return nil
}

func (s *JSONSink) HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error {
	if s.current == nil {
		return fmt.Errorf("spec end for %s arrived outside a spec", specLog.TestName)
	}
	s.current.Verdict = string(verdict)
	s.current.Timeline = specLog.Entries
	s.specs = append(s.specs, *s.current)
	s.current = nil
	return nil
}

func (s *JSONSink) Close() error {
	run := jsonRun{
		RunID:    s.runID,
		Started:  s.started,
		Finished: time.Now(),
		Messages: s.messages,
		Specs:    s.specs,
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run document: %w", err)
	}

	path := filepath.Join(s.baseDir, JSONFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing run document %s: %w", path, err)
	}
	return nil
}
