package genie

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts handled requests. Register Collectors with a registry.
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	discovered prometheus.Gauge
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geniebridge",
			Subsystem: "aligenie",
			Name:      "requests_total",
			Help:      "AliGenie requests by namespace and result code.",
		}, []string{"namespace", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geniebridge",
			Subsystem: "aligenie",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling AliGenie requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 5},
		}, []string{"namespace"}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geniebridge",
			Subsystem: "aligenie",
			Name:      "discovered_devices",
			Help:      "Devices returned by the last discovery.",
		}),
	}
}

// Collectors returns the collectors to register.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.duration, m.discovered}
}

func (m *Metrics) observe(namespace, result string, seconds float64) {
	if m == nil {
		return
	}
	namespace = namespaceLabel(namespace)
	m.requests.WithLabelValues(namespace, result).Inc()
	m.duration.WithLabelValues(namespace).Observe(seconds)
}

// namespaceLabel keeps the namespace label to the protocol's namespaces.
func namespaceLabel(namespace string) string {
	switch namespace {
	case NamespaceDiscovery, NamespaceControl, NamespaceQuery:
		return namespace
	default:
		return "unknown"
	}
}

func (m *Metrics) setDiscovered(n int) {
	if m == nil {
		return
	}
	m.discovered.Set(float64(n))
}
