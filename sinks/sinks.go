// Package sinks fans run and spec events out to the configured result sinks.
// All delivery goes through a single Coordinator so sinks never observe
// concurrent events.
package sinks

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Sink is a pluggable consumer of run/spec events producing one reporting
// artifact or console output. Implementations are only ever called from the
// coordinator's dispatch goroutine, in event order.
type Sink interface {
	// HandleRunnerMessage consumes a free-text runner message.
	HandleRunnerMessage(message string) error
	// HandleSpecStarted is delivered before any node completion for the spec.
	HandleSpecStarted(spec types.Spec) error
	// HandleNodeCompleted is delivered once per node, in arrival order.
	HandleNodeCompleted(result types.NodeResult, message string) error
	// HandleSpecEnded carries the complete spec log and verdict.
	HandleSpecEnded(specLog types.SpecLog, verdict types.Verdict) error
	// Close flushes any buffered output. No event follows Close.
	Close() error
}

// Kind identifies one of the supported sink implementations. The set is
// closed: selection is resolved at configuration time and an unrecognized
// selector is a fatal configuration error raised before any spec runs.
type Kind string

const (
	KindConsole  Kind = "console"
	KindTeamCity Kind = "teamcity"
	KindTRX      Kind = "trx"
	KindJSON     Kind = "json"
	KindHTML     Kind = "html"
)

// ParseKind validates a sink selector.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindConsole, KindTeamCity, KindTRX, KindJSON, KindHTML:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown sink %q (supported: %s, %s, %s, %s, %s)",
			s, KindConsole, KindTeamCity, KindTRX, KindJSON, KindHTML)
	}
}

// ParseKinds validates a list of selectors, preserving order and rejecting
// duplicates.
func ParseKinds(selectors []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(selectors))
	kinds := make([]Kind, 0, len(selectors))
	for _, s := range selectors {
		kind, err := ParseKind(s)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			return nil, fmt.Errorf("sink %q selected twice", s)
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// SinkConfig carries the construction-time inputs shared by all sinks.
type SinkConfig struct {
	// Out receives console-style output; defaults to os.Stdout.
	Out io.Writer
	// BaseDir is the run directory for file-producing sinks.
	BaseDir string
	RunID   string
	Log     log.Logger
}

// NewSink constructs a sink for the given kind. The switch is exhaustive
// over the closed Kind set.
func NewSink(kind Kind, cfg SinkConfig) (Sink, error) {
	switch kind {
	case KindConsole:
		return NewConsoleSink(cfg), nil
	case KindTeamCity:
		return NewTeamCitySink(cfg), nil
	case KindTRX:
		return NewTRXSink(cfg)
	case KindJSON:
		return NewJSONSink(cfg)
	case KindHTML:
		return NewHTMLSink(cfg)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}
