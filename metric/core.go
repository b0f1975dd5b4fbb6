package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-level metrics shared by every unit. Metrics
// specific to one unit live with that unit.
type Metrics struct {
	ComponentState    *prometheus.GaugeVec
	PacketsReceived   *prometheus.CounterVec
	PacketsPublished  *prometheus.CounterVec
	BytesPublished    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set. It is registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "component",
			Name:      "state",
			Help:      "Lifecycle state (0=created, 1=initialized, 2=started, 3=stopped, 4=failed)",
		}, []string{"component"}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "received_total",
			Help:      "Packets accepted on input ports",
		}, []string{"input"}),

		PacketsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "published_total",
			Help:      "Packets delivered by output transports",
		}, []string{"output", "transport"}),

		BytesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "published_bytes_total",
			Help:      "Payload bytes delivered by output transports",
		}, []string{"output", "transport"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Errors by component and class",
		}, []string{"component", "class"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "rtt_milliseconds",
			Help:      "NATS round-trip time in milliseconds",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentState,
		c.PacketsReceived,
		c.PacketsPublished,
		c.BytesPublished,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// The record methods below accept a nil receiver so callers holding an
// optional registry need no guards.

func (c *Metrics) RecordComponentState(name string, state int) {
	if c == nil {
		return
	}
	c.ComponentState.WithLabelValues(name).Set(float64(state))
}

func (c *Metrics) RecordPacketReceived(input string) {
	if c == nil {
		return
	}
	c.PacketsReceived.WithLabelValues(input).Inc()
}

func (c *Metrics) RecordPacketPublished(output, transport string, bytes int) {
	if c == nil {
		return
	}
	c.PacketsPublished.WithLabelValues(output, transport).Inc()
	c.BytesPublished.WithLabelValues(output, transport).Add(float64(bytes))
}

func (c *Metrics) RecordError(name, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(name, class).Inc()
}

func (c *Metrics) RecordHealthStatus(name string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckStatus.WithLabelValues(name).Set(boolToFloat(healthy))
}

func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolToFloat(connected))
}

func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

func (c *Metrics) RecordCircuitBreakerState(open bool) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
