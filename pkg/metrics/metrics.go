package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campusgate"

// Metrics owns every collector the security core reports. Instances are constructed
// explicitly and handed to the components that need them; all methods are nil-safe so
// a component built without metrics simply records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// PermissionChecks counts resolver decisions by check kind (resource|page|mode) and result (allow|deny|error).
	PermissionChecks *prometheus.CounterVec
	// AuthAttempts records authentication attempts by method and result.
	AuthAttempts *prometheus.CounterVec
	// AuditWrites counts audit persistence attempts by result (success|error|dropped).
	AuditWrites *prometheus.CounterVec
	// BlockedRequests counts requests rejected by the IP blocklist.
	BlockedRequests prometheus.Counter
	// RateLimited counts requests rejected by the rate limiter.
	RateLimited prometheus.Counter
	// IncidentsCreated counts audit entries promoted to incidents by priority and source.
	IncidentsCreated *prometheus.CounterVec
	// BroadcastsDropped counts realtime events discarded because the queue was full.
	BroadcastsDropped prometheus.Counter
	// OpenIncidents tracks non-terminal incidents.
	OpenIncidents prometheus.Gauge
	// ActiveBlocks tracks effective blocklist rows.
	ActiveBlocks prometheus.Gauge
	// APILatency measures HTTP request latencies.
	APILatency *prometheus.HistogramVec
}

// New builds a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{registry: reg}
	m.PermissionChecks = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_checks_total",
		Help:      "Total number of permission checks",
	}, []string{"kind", "result"})).(*prometheus.CounterVec)
	m.AuthAttempts = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of authentication attempts",
	}, []string{"method", "result"})).(*prometheus.CounterVec)
	m.AuditWrites = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_writes_total",
		Help:      "Audit entries persisted, failed or dropped",
	}, []string{"result"})).(*prometheus.CounterVec)
	m.BlockedRequests = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocked_requests_total",
		Help:      "Requests rejected because the caller IP is blocked",
	})).(prometheus.Counter)
	m.RateLimited = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_requests_total",
		Help:      "Requests rejected by the rate limiter",
	})).(prometheus.Counter)
	m.IncidentsCreated = factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incidents_created_total",
		Help:      "Audit entries promoted to incidents",
	}, []string{"priority", "source"})).(*prometheus.CounterVec)
	m.BroadcastsDropped = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_broadcasts_dropped_total",
		Help:      "Realtime events dropped due to a full queue",
	})).(prometheus.Counter)
	m.OpenIncidents = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_incidents",
		Help:      "Incidents not yet resolved or marked false positive",
	})).(prometheus.Gauge)
	m.ActiveBlocks = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_ip_blocks",
		Help:      "Blocklist rows currently effective",
	})).(prometheus.Gauge)
	m.APILatency = factory(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_latency_seconds",
		Help:      "API endpoint latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})).(*prometheus.HistogramVec)

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterDatabase exports connection pool statistics for sqlDB under dbName.
func (m *Metrics) RegisterDatabase(sqlDB *sql.DB, dbName string) error {
	if m == nil || sqlDB == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(sqlDB, dbName))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePermissionCheck(kind, result string) {
	if m == nil {
		return
	}
	m.PermissionChecks.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveAuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(method, result).Inc()
}

func (m *Metrics) ObserveAuditWrite(result string) {
	if m == nil {
		return
	}
	m.AuditWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBlockedRequest() {
	if m == nil {
		return
	}
	m.BlockedRequests.Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) ObserveIncident(priority, source string) {
	if m == nil {
		return
	}
	m.IncidentsCreated.WithLabelValues(priority, source).Inc()
}

func (m *Metrics) ObserveBroadcastDropped() {
	if m == nil {
		return
	}
	m.BroadcastsDropped.Inc()
}

func (m *Metrics) SetOpenIncidents(n int64) {
	if m == nil {
		return
	}
	m.OpenIncidents.Set(float64(n))
}

func (m *Metrics) SetActiveBlocks(n int64) {
	if m == nil {
		return
	}
	m.ActiveBlocks.Set(float64(n))
}

func (m *Metrics) ObserveLatency(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.APILatency.WithLabelValues(method, path, status).Observe(seconds)
}
