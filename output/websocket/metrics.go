package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/metric"
)

// Metrics holds Prometheus metrics for a WebSocket output.
type Metrics struct {
	framesSent         prometheus.Counter
	bytesSent          prometheus.Counter
	framesDropped      prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	capsRequests       prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name, portID string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"component": name, "port": portID}
	opts := func(metricName, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        metricName,
			Help:        help,
			ConstLabels: labels,
		}
	}

	m := &Metrics{
		framesSent:    prometheus.NewCounter(opts("envelopes_sent_total", "Envelopes written to clients")),
		bytesSent:     prometheus.NewCounter(opts("bytes_sent_total", "Bytes written to clients")),
		framesDropped: prometheus.NewCounter(opts("envelopes_dropped_total", "Envelopes dropped for slow clients")),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "clients_connected",
			Help:        "Number of currently connected clients",
			ConstLabels: labels,
		}),
		connectionTotal: prometheus.NewCounter(opts("client_connections_total", "Total client connections")),
		disconnectionTotal: prometheus.NewCounterVec(
			opts("client_disconnections_total", "Total client disconnections"), []string{"disconnect_reason"}),
		capsRequests: prometheus.NewCounter(opts("caps_requests_total", "Capability requests received from clients")),
		errorsTotal:  prometheus.NewCounterVec(opts("errors_total", "WebSocket output errors"), []string{"error_type"}),
	}

	service := "websocket_" + name
	for metricName, c := range map[string]prometheus.Counter{
		"envelopes_sent":    m.framesSent,
		"bytes_sent":        m.bytesSent,
		"envelopes_dropped": m.framesDropped,
		"connections":       m.connectionTotal,
		"caps_requests":     m.capsRequests,
	} {
		if err := registry.RegisterCounter(service, metricName, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(service, "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "disconnections", m.disconnectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordSent(size int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) recordDrop() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) clientConnected(count int) {
	if m == nil {
		return
	}
	m.connectionTotal.Inc()
	m.clientsConnected.Set(float64(count))
}

func (m *Metrics) clientDisconnected(count int, reason string) {
	if m == nil {
		return
	}
	m.disconnectionTotal.WithLabelValues(reason).Inc()
	m.clientsConnected.Set(float64(count))
}

func (m *Metrics) recordCapsRequest() {
	if m != nil {
		m.capsRequests.Inc()
	}
}

func (m *Metrics) recordError(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}
