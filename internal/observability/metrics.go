package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every gauge/counter the engine exposes. Each instance
// owns a private prometheus.Registry rather than registering against the
// global default registerer, so tests can construct multiple isolated
// engines in one process without a duplicate-registration panic (per
// spec §9's "tests must be able to construct multiple isolated engines
// in one process").
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth         prometheus.Gauge
	AttemptsByStatus   *prometheus.GaugeVec
	AIAttemptsByStatus *prometheus.GaugeVec
	ErrorLedgerCount   *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector against a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messagepusher_http_requests_total",
			Help: "Total HTTP requests served by the ingress layer.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "messagepusher_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messagepusher_queue_depth",
			Help: "Number of tasks currently pending in the task queue.",
		}),
		AttemptsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "messagepusher_attempts_by_status",
			Help: "Current count of per-channel delivery attempts by status.",
		}, []string{"status"}),
		AIAttemptsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "messagepusher_ai_attempts_by_status",
			Help: "Current count of AI channel attempts by status.",
		}, []string{"status"}),
		ErrorLedgerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "messagepusher_error_ledger_count",
			Help: "Current error ledger per-severity counters.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration, m.QueueDepth,
		m.AttemptsByStatus, m.AIAttemptsByStatus, m.ErrorLedgerCount)
	return m
}
