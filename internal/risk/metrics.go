package risk

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ai4altruism/integritykit/internal/candidate"
)

// Metric names exposed by this package.
const (
	MetricClassificationsTotal = "risk_classifications_total"
	MetricOverridesTotal       = "risk_tier_overrides_total"
	MetricGateDecisionsTotal   = "publish_gate_decisions_total"
	MetricGateOverridesTotal   = "publish_gate_overrides_total"
)

// Metrics holds the Prometheus collectors for classification and gate
// activity.
type Metrics struct {
	classificationsTotal *prometheus.CounterVec
	overridesTotal       prometheus.Counter
	gateDecisionsTotal   *prometheus.CounterVec
	gateOverridesTotal   prometheus.Counter
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		classificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricClassificationsTotal,
			Help: "Risk classifications computed, labeled by final tier.",
		}, []string{"tier"}),
		overridesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOverridesTotal,
			Help: "Risk tier overrides recorded.",
		}),
		gateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGateDecisionsTotal,
			Help: "Publish gate decisions, labeled by outcome and deny code.",
		}, []string{"outcome", "code"}),
		gateOverridesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGateOverridesTotal,
			Help: "High-stakes publish gate overrides applied.",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.classificationsTotal,
		m.overridesTotal,
		m.gateDecisionsTotal,
		m.gateOverridesTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncClassifications counts one classification by final tier.
func (m *Metrics) IncClassifications(tier candidate.RiskTier) {
	m.classificationsTotal.WithLabelValues(string(tier)).Inc()
}

// IncOverrides counts one tier override.
func (m *Metrics) IncOverrides() {
	m.overridesTotal.Inc()
}

// IncGateDecisions counts one gate decision.
func (m *Metrics) IncGateDecisions(allowed bool, code DenyCode) {
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	m.gateDecisionsTotal.WithLabelValues(outcome, string(code)).Inc()
}

// IncGateOverrides counts one gate override.
func (m *Metrics) IncGateOverrides() {
	m.gateOverridesTotal.Inc()
}
