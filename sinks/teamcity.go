package sinks

import (
	"fmt"
	"io"
	"os"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// TeamCitySink emits TeamCity service messages so a CI server renders each
// spec as a test suite and each node as a test.
type TeamCitySink struct {
	out io.Writer

	// current spec context, set between SpecStarted and SpecEnded
	suiteName string
	failed    []types.NodeResult
}

var _ Sink = &TeamCitySink{}

// NewTeamCitySink creates a TeamCity sink writing to cfg.Out.
func NewTeamCitySink(cfg SinkConfig) *TeamCitySink {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &TeamCitySink{out: out}
}

func (s *TeamCitySink) HandleRunnerMessage(message string) error {
	_, err := fmt.Fprintf(s.out, "##teamcity[message text='%s']\n", tcEscape(stripansi.Strip(message)))
	return err
}

func (s *TeamCitySink) HandleSpecStarted(spec types.Spec) error {
	s.suiteName = spec.TestName
	s.failed = nil
	_, err := fmt.Fprintf(s.out, "##teamcity[testSuiteStarted name='%s']\n", tcEscape(spec.TestName))
	return err
}

func (s *TeamCitySink) HandleNodeCompleted(result types.NodeResult, message string) error {
	testName := fmt.Sprintf("%s.node%d-%s", result.TestName, result.Index, result.Role)
	if _, err := fmt.Fprintf(s.out, "##teamcity[testStarted name='%s']\n", tcEscape(testName)); err != nil {
		return err
	}
	switch result.Verdict {
	case types.VerdictFail:
		s.failed = append(s.failed, result)
		if _, err := fmt.Fprintf(s.out, "##teamcity[testFailed name='%s' message='%s']\n",
			tcEscape(testName), tcEscape(stripansi.Strip(message))); err != nil {
			return err
		}
	case types.VerdictSkip:
		if _, err := fmt.Fprintf(s.out, "##teamcity[testIgnored name='%s' message='%s']\n",
			tcEscape(testName), tcEscape(stripansi.Strip(message))); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(s.out, "##teamcity[testFinished name='%s' duration='%d']\n",
		tcEscape(testName), result.Duration.Milliseconds())
	return err
}

func (s *TeamCitySink) HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error {
	_, err := fmt.Fprintf(s.out, "##teamcity[testSuiteFinished name='%s']\n", tcEscape(specLog.TestName))
	s.suiteName = ""
	return err
}

func (s *TeamCitySink) Close() error {
	return nil
}

// tcEscape applies TeamCity service message escaping.
// https://www.jetbrains.com/help/teamcity/service-messages.html#Escaped+Values
func tcEscape(s string) string {
	var out []rune
	for _, r := range s {
		switch r {
		case '|':
			out = append(out, '|', '|')
		case '\'':
			out = append(out, '|', '\'')
		case '\n':
			out = append(out, '|', 'n')
		case '\r':
			out = append(out, '|', 'r')
		case '[':
			out = append(out, '|', '[')
		case ']':
			out = append(out, '|', ']')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
