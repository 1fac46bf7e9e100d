package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus collectors for candidate transitions.
type Metrics struct {
	candidatesCreated   prometheus.Counter
	candidatesPublished *prometheus.CounterVec
	transitions         *prometheus.CounterVec
}

// NewMetrics creates the lifecycle collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		candidatesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candidates_created_total",
			Help: "Total number of candidates created.",
		}),
		candidatesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candidates_published_total",
			Help: "Total number of candidates published, by effective risk tier.",
		}, []string{"risk_tier"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candidate_transitions_total",
			Help: "Total number of candidate state transitions, by action.",
		}, []string{"action"}),
	}
}

// Register registers the collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.candidatesCreated,
		m.candidatesPublished,
		m.transitions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCreated increments the created counter.
func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.candidatesCreated.Inc()
}

// IncPublished increments the published counter for a tier.
func (m *Metrics) IncPublished(tier string) {
	if m == nil {
		return
	}
	m.candidatesPublished.WithLabelValues(tier).Inc()
}

// IncTransition increments the transition counter for an action.
func (m *Metrics) IncTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}
