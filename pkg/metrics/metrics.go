package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	AgentsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outpost_agents_connected",
			Help: "Number of agents by connection status",
		},
		[]string{"status"},
	)

	AgentsEnrolledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outpost_agents_enrolled_total",
			Help: "Total number of agent enrollments",
		},
	)

	// Dispatch metrics
	ProbeDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_probe_dispatches_total",
			Help: "Total number of probe dispatches by status",
		},
		[]string{"status"},
	)

	ProbeDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_probe_dispatch_duration_seconds",
			Help:    "Probe dispatch round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"probe"},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_pending_requests",
			Help: "Number of in-flight probe requests awaiting a response",
		},
	)

	// Authorization metrics
	PolicyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_policy_denials_total",
			Help: "Total number of authorization denials by layer",
		},
		[]string{"layer"},
	)

	// Audit metrics
	AuditEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outpost_audit_entries_total",
			Help: "Total number of audit entries appended",
		},
	)

	AuditChainValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_audit_chain_valid",
			Help: "Whether the last audit chain verification passed (1 = valid)",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AgentsConnected)
	prometheus.MustRegister(AgentsEnrolledTotal)
	prometheus.MustRegister(ProbeDispatchesTotal)
	prometheus.MustRegister(ProbeDispatchDuration)
	prometheus.MustRegister(PendingRequests)
	prometheus.MustRegister(PolicyDenialsTotal)
	prometheus.MustRegister(AuditEntriesTotal)
	prometheus.MustRegister(AuditChainValid)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
