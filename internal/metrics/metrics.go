package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// SnapshotDuration tracks how long a full fetch cycle takes
	SnapshotDuration prometheus.Histogram
	// SourceFetches counts source fetch outcomes by source kind
	SourceFetches *prometheus.CounterVec
	// ResolutionsTotal counts account resolutions by terminal state
	ResolutionsTotal *prometheus.CounterVec
	// TokenRefreshes counts token manager operations by result
	TokenRefreshes *prometheus.CounterVec
	// CacheOps counts TTL cache hits, misses and evictions
	CacheOps *prometheus.CounterVec
	// QuotaUsedPercent tracks quota usage percentage by account
	QuotaUsedPercent *prometheus.GaugeVec
	// AccountStatus tracks the latest record status per account (1=active, 0=inactive, -1=error)
	AccountStatus *prometheus.GaugeVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_duration_seconds",
				Help:      "Duration of a full snapshot fetch cycle",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		SourceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetches_total",
				Help:      "Total number of source fetch attempts",
			},
			[]string{"source", "outcome"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of account resolutions by terminal state",
			},
			[]string{"state"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token manager operations",
			},
			[]string{"operation", "result"},
		),
		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Total number of TTL cache operations",
			},
			[]string{"operation"},
		),
		QuotaUsedPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used_percent",
				Help:      "Current quota usage percentage",
			},
			[]string{"account_id", "provider"},
		),
		AccountStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_status",
				Help:      "Latest record status per account (1=active, 0=inactive, -1=error)",
			},
			[]string{"account_id"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.SnapshotDuration,
		m.SourceFetches,
		m.ResolutionsTotal,
		m.TokenRefreshes,
		m.CacheOps,
		m.QuotaUsedPercent,
		m.AccountStatus,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSnapshotDuration records the duration of a fetch cycle
func (m *Metrics) RecordSnapshotDuration(seconds float64) {
	m.SnapshotDuration.Observe(seconds)
}

// RecordSourceFetch records a source fetch attempt
func (m *Metrics) RecordSourceFetch(source, outcome string) {
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
}

// RecordResolution records an account resolution terminal state
func (m *Metrics) RecordResolution(state string) {
	m.ResolutionsTotal.WithLabelValues(state).Inc()
}

// RecordTokenRefresh records a token manager operation
func (m *Metrics) RecordTokenRefresh(operation, result string) {
	m.TokenRefreshes.WithLabelValues(operation, result).Inc()
}

// RecordCacheOp records a TTL cache operation
func (m *Metrics) RecordCacheOp(operation string) {
	m.CacheOps.WithLabelValues(operation).Inc()
}

// RecordQuotaUsedPercent records quota usage for an account
func (m *Metrics) RecordQuotaUsedPercent(accountID, provider string, percent float64) {
	m.QuotaUsedPercent.WithLabelValues(accountID, provider).Set(percent)
}

// SetAccountStatus sets the latest record status for an account
func (m *Metrics) SetAccountStatus(accountID string, value float64) {
	m.AccountStatus.WithLabelValues(accountID).Set(value)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}
