package approval

import "github.com/prometheus/client_golang/prometheus"

// Metric names exposed by this package.
const (
	MetricRequestsTotal  = "approval_requests_total"
	MetricDecisionsTotal = "approval_decisions_total"
	MetricExpiredTotal   = "approval_expired_total"
	MetricConsumedTotal  = "approval_consumed_total"
)

// Metrics holds the Prometheus collectors for approval activity.
type Metrics struct {
	requestsTotal  prometheus.Counter
	decisionsTotal *prometheus.CounterVec
	expiredTotal   prometheus.Counter
	consumedTotal  prometheus.Counter
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Two-person approval requests opened.",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDecisionsTotal,
			Help: "Approval decisions, labeled by resulting status.",
		}, []string{"status"}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricExpiredTotal,
			Help: "Approvals expired before a decision.",
		}),
		consumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricConsumedTotal,
			Help: "Granted approvals consumed by a publish.",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.requestsTotal,
		m.decisionsTotal,
		m.expiredTotal,
		m.consumedTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRequests counts one opened request.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncDecisions counts one decision by resulting status.
func (m *Metrics) IncDecisions(status Status) {
	m.decisionsTotal.WithLabelValues(string(status)).Inc()
}

// IncExpired counts one expired approval.
func (m *Metrics) IncExpired() {
	m.expiredTotal.Inc()
}

// IncConsumed counts one consumed approval.
func (m *Metrics) IncConsumed() {
	m.consumedTotal.Inc()
}
