package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	syncRuns      *prometheus.CounterVec // total reconciliation runs
	syncDuration  prometheus.Histogram   // time to reconcile
	fixesApplied  *prometheus.CounterVec // store-side corrective writes
	agentRequests *prometheus.CounterVec // vps agent requests
	storeRequests *prometheus.CounterVec // desired-state store requests
	healthPolls   *prometheus.CounterVec // health poller fetches
	cacheRequests *prometheus.CounterVec // snapshot cache requests
	reportDomains *prometheus.GaugeVec   // last report category sizes
}

// Public interface for metrics operations
func (m *Metrics) IncSyncRun(success bool) {
	status := boolToResult(success)
	m.syncRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) SetSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncFixesApplied(kind string, count int) {
	if count <= 0 {
		return
	}
	m.fixesApplied.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) IncAgentRequest(success bool, code int) {
	status := boolToResult(success)
	scode := strconv.Itoa(code)
	m.agentRequests.WithLabelValues(status, scode).Inc()
}

func (m *Metrics) IncStoreRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.storeRequests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncHealthPoll(success bool) {
	m.healthPolls.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) IncCacheRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.cacheRequests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) SetReportDomains(category string, count int) {
	m.reportDomains.WithLabelValues(category).Set(float64(count))
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "create", "read", "update", "delete":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "fleet_sync"

	m := &Metrics{
		registry: registry,

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of reconciliation runs",
		}, []string{"status"}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		fixesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_applied_total",
			Help:      "Total corrective writes applied to the store",
		}, []string{"kind"}),

		agentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total vps agent requests",
		}, []string{"status", "code"}),

		storeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Total desired-state store requests",
		}, []string{"operation", "status"}),

		healthPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_polls_total",
			Help:      "Total health poll fetches",
		}, []string{"status"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_cache_requests_total",
			Help:      "Total health snapshot cache requests",
		}, []string{"operation", "status"}),

		reportDomains: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_domains_current",
			Help:      "Domain counts per category from the most recent sync report",
		}, []string{"category"}),
	}

	if register {
		registry.MustRegister(
			m.syncRuns,
			m.syncDuration,
			m.fixesApplied,
			m.agentRequests,
			m.storeRequests,
			m.healthPolls,
			m.cacheRequests,
			m.reportDomains,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
