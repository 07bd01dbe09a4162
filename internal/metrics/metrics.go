// Package metrics exposes prometheus collectors for the cache and the HTTP
// transport.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create as many as they need.
type Metrics struct {
	reg *prometheus.Registry

	cacheRequests      *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantkit",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by key prefix and result.",
		}, []string{"prefix", "result"}),
		cacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantkit",
			Name:      "cache_invalidated_keys_total",
			Help:      "Cache keys dropped by prefix invalidation.",
		}, []string{"prefix"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantkit",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenantkit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Hit implements cache.Observer.
func (m *Metrics) Hit(prefix string) {
	m.cacheRequests.WithLabelValues(prefix, "hit").Inc()
}

// Miss implements cache.Observer.
func (m *Metrics) Miss(prefix string) {
	m.cacheRequests.WithLabelValues(prefix, "miss").Inc()
}

// Invalidate implements cache.Observer.
func (m *Metrics) Invalidate(prefix string, keys int) {
	m.cacheInvalidations.WithLabelValues(prefix).Add(float64(keys))
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
