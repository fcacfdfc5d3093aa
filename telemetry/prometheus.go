package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics is a Metrics implementation backed by
// github.com/prometheus/client_golang. Counter, histogram, and gauge vectors
// are created lazily, keyed by metric name and the set of tag keys seen on
// first use: every subsequent call with that name must supply the same tag
// keys, matching how client_golang vectors are labeled.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a PrometheusMetrics recorder backed by a
// fresh registry, so orchestrator metrics never collide with other
// Prometheus-instrumented libraries a host process may also load.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Handler returns the HTTP handler serving this recorder's registry in the
// Prometheus exposition format, for mounting at e.g. "/metrics".
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncCounter increments a counter metric by value, creating its vector on
// first use.
func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	keys, labels := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeMetricName(name),
			Help: name,
		}, keys)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(labels...).Add(value)
}

// RecordTimer records a duration observation in seconds, creating its
// histogram vector on first use.
func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	keys, labels := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
			Name: sanitizeMetricName(name),
			Help: name,
		}, keys)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(labels...).Observe(duration.Seconds())
}

// RecordGauge sets a gauge metric value, creating its vector on first use.
func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	keys, labels := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitizeMetricName(name),
			Help: name,
		}, keys)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(labels...).Set(value)
}

// splitTags separates a (k1, v1, k2, v2, ...) tag slice into parallel key
// and value slices suitable for a prometheus label vector. An odd-length
// slice drops its trailing unpaired key.
func splitTags(tags []string) (keys, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		keys = append(keys, tags[i])
		values = append(values, tags[i+1])
	}
	return keys, values
}

// sanitizeMetricName rewrites the orchestrator's dotted metric names
// ("handoff.SUCCEEDED") into Prometheus's underscore convention.
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
			continue
		}
		out[i] = c
	}
	return string(out)
}
