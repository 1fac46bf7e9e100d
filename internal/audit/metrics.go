package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEntriesTotal   = "audit_entries_total"
	MetricFlaggedTotal   = "audit_flagged_entries_total"
	MetricAppendFailures = "audit_append_failures_total"
	MetricArchiveRuns    = "audit_archive_runs_total"
)

// Metrics contains Prometheus metrics for the audit trail.
// All operations are thread-safe.
type Metrics struct {
	entriesTotal   *prometheus.CounterVec
	flaggedTotal   prometheus.Counter
	appendFailures prometheus.Counter
	archiveRuns    *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEntriesTotal,
			Help: "Total number of audit entries appended, by action",
		}, []string{"action"}),
		flaggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFlaggedTotal,
			Help: "Total number of abuse-flagged audit entries appended",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAppendFailures,
			Help: "Total number of failed audit appends",
		}),
		archiveRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricArchiveRuns,
			Help: "Total number of audit archive job runs, by outcome",
		}, []string{"outcome"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.entriesTotal,
		m.flaggedTotal,
		m.appendFailures,
		m.archiveRuns,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEntries increments the entries counter for an action.
func (m *Metrics) IncEntries(action ActionType) {
	m.entriesTotal.WithLabelValues(string(action)).Inc()
}

// IncFlagged increments the flagged entries counter.
func (m *Metrics) IncFlagged() {
	m.flaggedTotal.Inc()
}

// IncAppendFailures increments the append failure counter.
func (m *Metrics) IncAppendFailures() {
	m.appendFailures.Inc()
}

// IncArchiveRuns increments the archive run counter for an outcome.
func (m *Metrics) IncArchiveRuns(outcome string) {
	m.archiveRuns.WithLabelValues(outcome).Inc()
}
