package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the bridge's Prometheus collectors. Served by the debug
// HTTP listener under /metrics.
type Metrics struct {
	ScansTotal         *prometheus.CounterVec
	ScanErrorsTotal    *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	PublishesTotal     *prometheus.CounterVec
	PublishErrorsTotal prometheus.Counter
	LoginsTotal        prometheus.Counter
	LoginFailuresTotal prometheus.Counter
	CommandsTotal      *prometheus.CounterVec
}

// New registers all collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spc_scans_total",
			Help: "Panel scans performed, by loop.",
		}, []string{"loop"}),
		ScanErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spc_scan_errors_total",
			Help: "Panel scans skipped due to errors, by loop.",
		}, []string{"loop"}),
		ScanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spc_scan_duration_seconds",
			Help:    "Panel scan latency, by loop.",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		PublishesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spc_publishes_total",
			Help: "State topics published, by category.",
		}, []string{"category"}),
		PublishErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spc_publish_errors_total",
			Help: "MQTT publishes that failed.",
		}),
		LoginsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spc_logins_total",
			Help: "Successful panel logins.",
		}),
		LoginFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spc_login_failures_total",
			Help: "Failed panel login attempts.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spc_commands_total",
			Help: "MQTT commands handled, by category and result.",
		}, []string{"category", "result"}),
	}
}

// LoginAttempt implements the session manager's observer hook.
func (m *Metrics) LoginAttempt(ok bool) {
	if ok {
		m.LoginsTotal.Inc()
		return
	}
	m.LoginFailuresTotal.Inc()
}
