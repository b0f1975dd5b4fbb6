package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/metric"
)

// driverMetrics holds Prometheus metrics for the driver loop.
type driverMetrics struct {
	commands    *prometheus.CounterVec   // by command and status (success/failure)
	commandWait *prometheus.HistogramVec // by command, time from submit to execution
	activations *prometheus.CounterVec   // by verdict (now/after/terminated)
	running     prometheus.Gauge
}

func newDriverMetrics(registry *metric.MetricsRegistry, name string) (*driverMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"component": name}
	m := &driverMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "driver",
			Name:        "commands_total",
			Help:        "Commands executed on the compositor thread",
			ConstLabels: labels,
		}, []string{"command", "status"}),

		commandWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "driver",
			Name:        "command_wait_seconds",
			Help:        "Time a command waited for the compositor thread",
			ConstLabels: labels,
			Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"command"}),

		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "driver",
			Name:        "activations_total",
			Help:        "Scheduling cycles by requested re-activation",
			ConstLabels: labels,
		}, []string{"verdict"}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "driver",
			Name:        "running",
			Help:        "Whether the driver loop is running (1) or not (0)",
			ConstLabels: labels,
		}),
	}

	service := "driver_" + name
	if err := registry.RegisterCounterVec(service, "commands", m.commands); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "command_wait", m.commandWait); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "activations", m.activations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "running", m.running); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *driverMetrics) recordCommand(name string, waited float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.commands.WithLabelValues(name, status).Inc()
	m.commandWait.WithLabelValues(name).Observe(waited)
}

func (m *driverMetrics) recordActivation(verdict string) {
	if m != nil {
		m.activations.WithLabelValues(verdict).Inc()
	}
}

func (m *driverMetrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
