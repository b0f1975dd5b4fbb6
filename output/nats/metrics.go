package nats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/metric"
)

// Metrics holds Prometheus metrics for a NATS output.
type Metrics struct {
	published    *prometheus.CounterVec
	bytes        prometheus.Counter
	capsRequests prometheus.Counter
	errors       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name, portID string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"component": name, "port": portID}
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_output",
			Name:        "envelopes_published_total",
			Help:        "Envelopes published by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_output",
			Name:        "bytes_published_total",
			Help:        "Bytes published",
			ConstLabels: labels,
		}),
		capsRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_output",
			Name:        "caps_requests_total",
			Help:        "Capability requests received",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_output",
			Name:        "errors_total",
			Help:        "Output errors by type",
			ConstLabels: labels,
		}, []string{"error_type"}),
	}

	service := "nats_output_" + name
	if err := registry.RegisterCounterVec(service, "published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "caps_requests", m.capsRequests); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordPublish(kind string, size int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) recordCapsRequest() {
	if m != nil {
		m.capsRequests.Inc()
	}
}

func (m *Metrics) recordError(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}
