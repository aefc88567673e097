package audit

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Metrics tracks engine metrics on a custom Prometheus registry, for
// isolation and testability, with HELP/TYPE annotations and standard
// exposition format.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	ingestTotal      *prometheus.CounterVec
	driftWarnings    *prometheus.CounterVec
	cacheEvents      *prometheus.CounterVec
	auditDropped     prometheus.Counter
}

// NewMetrics creates a Metrics collector with a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fortiplugin_decisions_total",
			Help: "Total authorization decisions by resource type and outcome.",
		}, []string{"type", "action"}),

		decisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fortiplugin_decision_duration_seconds",
			Help:    "Authorization decision latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fortiplugin_ingested_rules_total",
			Help: "Total manifest rules ingested by resource type and result.",
		}, []string{"type", "result"}),

		driftWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fortiplugin_identity_drift_warnings_total",
			Help: "Total natural-key identity drift warnings by resource type.",
		}, []string{"type"}),

		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fortiplugin_capability_cache_events_total",
			Help: "Capability cache events (hit, miss, invalidate).",
		}, []string{"event"}),

		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fortiplugin_audit_dropped_total",
			Help: "Audit records dropped by the emitter throttle.",
		}),
	}

	reg.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.ingestTotal,
		m.driftWarnings,
		m.cacheEvents,
		m.auditDropped,
	)
	return m
}

// Decision records one authorization decision and its latency.
func (m *Metrics) Decision(t permission.Type, allowed bool, seconds float64) {
	action := ActionDeny
	if allowed {
		action = ActionAllow
	}
	m.decisionsTotal.WithLabelValues(string(t), action).Inc()
	m.decisionDuration.WithLabelValues(string(t)).Observe(seconds)
}

// Ingested records one rule ingestion outcome ("created", "linked" or
// "error").
func (m *Metrics) Ingested(t permission.Type, result string) {
	m.ingestTotal.WithLabelValues(string(t), result).Inc()
}

// DriftWarning records one identity-drift warning.
func (m *Metrics) DriftWarning(t permission.Type) {
	m.driftWarnings.WithLabelValues(string(t)).Inc()
}

// CacheEvent records a capability cache event.
func (m *Metrics) CacheEvent(event string) {
	m.cacheEvents.WithLabelValues(event).Inc()
}

// AuditDropped records one throttled audit record.
func (m *Metrics) AuditDropped() {
	m.auditDropped.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
