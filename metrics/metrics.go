package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

const (
	MetricsNamespace = "multinode"
)

var (
	Debug                bool = true
	validVerdicts             = []types.Verdict{types.VerdictPass, types.VerdictFail, types.VerdictSkip}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	nodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "nodes_total",
		Help:      "Count of node processes by verdict",
	}, []string{
		"run_id",
		"spec",
		"role",
		"verdict",
	})

	specResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "spec_results",
		Help:      "Result of multi-node specs",
	}, []string{
		"run_id",
		"result",
	})

	specTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "spec_total",
		Help:      "Total number of specs executed",
	}, []string{
		"run_id",
	})

	specFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "spec_failed",
		Help:      "Number of failed specs",
	}, []string{
		"run_id",
	})

	specDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "spec_duration",
		Help:      "Duration of the spec run",
	}, []string{
		"run_id",
	})

	logLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "log_lines_total",
		Help:      "Count of log lines accepted by the aggregation server",
	}, []string{
		"role",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordNodeResult counts one finished (or skipped) node process.
func RecordNodeResult(runID string, spec string, role string, verdict types.Verdict) {
	if !isValidVerdict(verdict) {
		log.Error("RecordNodeResult - invalid verdict", "verdict", verdict)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "nodes_total",
			"run_id", runID,
			"spec", spec,
			"role", role,
			"verdict", verdict)
	}
	nodesTotal.WithLabelValues(runID, spec, role, string(verdict)).Inc()
}

// RecordLogLine counts one accepted log submission.
func RecordLogLine(role string) {
	logLinesTotal.WithLabelValues(role).Inc()
}

func RecordRun(
	runID string,
	result string,
	total int,
	failed int,
	duration time.Duration,
) {
	specResults.WithLabelValues(runID, result).Set(1)
	specTotal.WithLabelValues(runID).Add(float64(total))
	specFailed.WithLabelValues(runID).Add(float64(failed))
	specDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidVerdict(verdict types.Verdict) bool {
	return slices.Contains(validVerdicts, verdict)
}
