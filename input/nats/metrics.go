package nats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/metric"
)

// Metrics holds Prometheus metrics for a NATS input.
type Metrics struct {
	received *prometheus.CounterVec
	bytes    prometheus.Counter
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"port": name}
	counterVec := func(metricName, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_input",
			Name:        metricName,
			Help:        help,
			ConstLabels: labels,
		}, []string{label})
	}

	m := &Metrics{
		received: counterVec("envelopes_received_total", "Envelopes received by kind", "kind"),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_input",
			Name:        "bytes_received_total",
			Help:        "Bytes received",
			ConstLabels: labels,
		}),
		events: counterVec("events_forwarded_total", "Control signals forwarded to the producer", "event"),
		errors: counterVec("errors_total", "Input errors by type", "error_type"),
	}

	service := "nats_input_" + name
	if err := registry.RegisterCounterVec(service, "received", m.received); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "events", m.events); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordReceived(kind string, size int) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(kind).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) recordEvent(event string) {
	if m != nil {
		m.events.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) recordError(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}
