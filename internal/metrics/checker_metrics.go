// =============================================================================
// CHECKER METRICS - CONSISTENCY CHECK AND REBUILD INSTRUMENTATION
// =============================================================================
//
// The checker runs as a one-shot command; nothing scrapes it. With
// --metrics-textfile it writes the registry in text exposition format for
// the node exporter's textfile collector when it finishes.
//
//   gdplogd_checker_runs_total{mode="check",outcome="INCONSISTENT"}
//   gdplogd_checker_inconsistencies_total{kind="ridx offset inconsistency"}
//
// =============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CheckerMetrics tracks consistency checks and index rebuilds.
type CheckerMetrics struct {
	// Runs counts checked logs.
	// Labels: mode (check, rebuild), outcome (OK, INCONSISTENT, ...)
	Runs *prometheus.CounterVec

	// Inconsistencies counts individual findings.
	// Labels: kind
	Inconsistencies *prometheus.CounterVec

	// RecordsScanned counts records read from segments.
	RecordsScanned prometheus.Counter

	// Duration measures the time to check or rebuild one log.
	// Labels: mode
	Duration *prometheus.HistogramVec

	registry *Registry
}

func newCheckerMetrics(r *Registry) *CheckerMetrics {
	m := &CheckerMetrics{registry: r}

	m.Runs = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "checker",
		Name:      "runs_total",
		Help:      "Logs checked or rebuilt, by outcome",
	}, []string{"mode", "outcome"})
	m.Inconsistencies = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "checker",
		Name:      "inconsistencies_total",
		Help:      "Inconsistencies found between segments and indices",
	}, []string{"kind"})
	m.RecordsScanned = r.newCounter(prometheus.CounterOpts{
		Subsystem: "checker",
		Name:      "records_scanned_total",
		Help:      "Records read from segments by the checker",
	})
	m.Duration = r.newHistogramVec(prometheus.HistogramOpts{
		Subsystem: "checker",
		Name:      "duration_seconds",
		Help:      "Time to check or rebuild one log",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"mode"})

	return m
}

// RecordRun records one finished log.
func (m *CheckerMetrics) RecordRun(mode, outcome string, seconds float64, records int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Runs.WithLabelValues(mode, outcome).Inc()
	m.Duration.WithLabelValues(mode).Observe(seconds)
	m.RecordsScanned.Add(float64(records))
}

// RecordInconsistency records one finding.
func (m *CheckerMetrics) RecordInconsistency(kind string) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Inconsistencies.WithLabelValues(kind).Inc()
}
