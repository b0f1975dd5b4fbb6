package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/metric"
)

type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, label string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"queue": label}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "queue", Name: "writes_total",
			ConstLabels: labels, Help: "Items written to the queue",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "queue", Name: "reads_total",
			ConstLabels: labels, Help: "Items read from the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "queue", Name: "drops_total",
			ConstLabels: labels, Help: "Items dropped by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "queue", Name: "size",
			ConstLabels: labels, Help: "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "queue", Name: "utilization",
			ConstLabels: labels, Help: "Queue fill ratio (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(label, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(label, "queue_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(label, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(label, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(label, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	if m == nil {
		return
	}
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}
