package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a MetricsClient backed by a prometheus registry.
type PrometheusMetrics struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	searchDuration *prometheus.HistogramVec
	searchTotal    *prometheus.CounterVec
	edgeTotal      *prometheus.CounterVec
}

// NewPrometheusMetrics creates a PrometheusMetrics with its own registry.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	searchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Duration of search operations by engine",
		Buckets:   prometheus.DefBuckets,
	}, []string{"engine", "success"})

	searchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_operations_total",
		Help:      "Total search operations by engine",
	}, []string{"engine", "success"})

	edgeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "edge_operations_total",
		Help:      "Total temporal edge operations by action",
	}, []string{"action", "success"})

	registry.MustRegister(searchDuration, searchTotal, edgeTotal)

	return &PrometheusMetrics{
		namespace:      namespace,
		registry:       registry,
		counters:       make(map[string]*prometheus.CounterVec),
		gauges:         make(map[string]*prometheus.GaugeVec),
		histograms:     make(map[string]*prometheus.HistogramVec),
		searchDuration: searchDuration,
		searchTotal:    searchTotal,
		edgeTotal:      edgeTotal,
	}
}

// Registry exposes the underlying registry for HTTP handlers.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}

// RecordCounter increments a named counter.
func (m *PrometheusMetrics) RecordCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Add(value)
}

// RecordGauge sets a named gauge.
func (m *PrometheusMetrics) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Set(value)
}

// RecordHistogram observes a value on a named histogram.
func (m *PrometheusMetrics) RecordHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Buckets:   prometheus.DefBuckets,
		}, labelKeys(labels))
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Observe(value)
}

// RecordLatency records the duration of a named operation.
func (m *PrometheusMetrics) RecordLatency(operation string, duration time.Duration) {
	m.RecordHistogram("operation_duration_seconds", duration.Seconds(),
		map[string]string{"operation": operation})
}

// RecordSearchOperation records one search call with its outcome.
func (m *PrometheusMetrics) RecordSearchOperation(engine string, success bool, durationSeconds float64) {
	labels := prometheus.Labels{"engine": engine, "success": boolLabel(success)}
	m.searchTotal.With(labels).Inc()
	m.searchDuration.With(labels).Observe(durationSeconds)
}

// RecordEdgeOperation records one temporal edge operation.
func (m *PrometheusMetrics) RecordEdgeOperation(action string, success bool) {
	m.edgeTotal.With(prometheus.Labels{"action": action, "success": boolLabel(success)}).Inc()
}

// Close implements MetricsClient.
func (m *PrometheusMetrics) Close() error { return nil }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

// NewNoopMetrics creates a NoopMetrics.
func NewNoopMetrics() MetricsClient { return &NoopMetrics{} }

func (NoopMetrics) RecordCounter(name string, value float64, labels map[string]string)   {}
func (NoopMetrics) RecordGauge(name string, value float64, labels map[string]string)     {}
func (NoopMetrics) RecordHistogram(name string, value float64, labels map[string]string) {}
func (NoopMetrics) RecordLatency(operation string, duration time.Duration)               {}
func (NoopMetrics) RecordSearchOperation(engine string, success bool, d float64)         {}
func (NoopMetrics) RecordEdgeOperation(action string, success bool)                      {}
func (NoopMetrics) Close() error                                                         { return nil }
