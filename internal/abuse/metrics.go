package abuse

import "github.com/prometheus/client_golang/prometheus"

// Metric names exposed by this package.
const (
	MetricOverridesTracked = "abuse_overrides_tracked_total"
	MetricAlertsTotal      = "abuse_alerts_total"
)

// Metrics holds the Prometheus collectors for abuse detection.
type Metrics struct {
	overridesTracked prometheus.Counter
	alertsTotal      *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		overridesTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOverridesTracked,
			Help: "Override actions tracked for abuse detection.",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAlertsTotal,
			Help: "Abuse alerts raised, labeled by alert type.",
		}, []string{"alert_type"}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.overridesTracked, m.alertsTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncOverridesTracked counts one tracked override.
func (m *Metrics) IncOverridesTracked() {
	m.overridesTracked.Inc()
}

// IncAlerts counts one raised alert.
func (m *Metrics) IncAlerts(alertType string) {
	m.alertsTotal.WithLabelValues(alertType).Inc()
}
