package sinks

import (
	"fmt"
	"io"
	"os"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// ConsoleSink prints run progress to standard output as events arrive.
type ConsoleSink struct {
	out io.Writer
}

var _ Sink = &ConsoleSink{}

// NewConsoleSink creates a console sink writing to cfg.Out (stdout default).
func NewConsoleSink(cfg SinkConfig) *ConsoleSink {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) HandleRunnerMessage(message string) error {
	_, err := fmt.Fprintf(s.out, "[RUNNER] %s\n", stripansi.Strip(message))
	return err
}

func (s *ConsoleSink) HandleSpecStarted(spec types.Spec) error {
	if _, err := fmt.Fprintf(s.out, "=== SPEC %s (%d nodes)\n", spec.TestName, len(spec.Nodes)); err != nil {
		return err
	}
	for _, node := range spec.Nodes {
		if _, err := fmt.Fprintf(s.out, "    node %d: %s\n", node.Index, node.Role); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsoleSink) HandleNodeCompleted(result types.NodeResult, message string) error {
	_, err := fmt.Fprintf(s.out, "    %s\n", stripansi.Strip(message))
	return err
}

func (s *ConsoleSink) HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error {
	_, err := fmt.Fprintf(s.out, "=== SPEC %s: %s (%d log lines)\n",
		specLog.TestName, verdictString(verdict), len(specLog.Entries))
	return err
}

func (s *ConsoleSink) Close() error {
	return nil
}

func verdictString(verdict types.Verdict) string {
	switch verdict {
	case types.VerdictPass:
		return "✓ pass"
	case types.VerdictSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}
