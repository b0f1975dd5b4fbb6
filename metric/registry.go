// Package metric owns the process-wide Prometheus registry, the core
// mediacompose metrics, and the HTTP server that exposes them.
//
// Components register their own collectors under a service name so that
// duplicate registrations are rejected with a classified error instead of a
// panic:
//
//	vec := prometheus.NewCounterVec(opts, []string{"component", "kind"})
//	if err := registry.RegisterCounterVec("compositor", "attach_total", vec); err != nil {
//		return nil, err
//	}
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/mediacompose/errors"
)

// Namespace prefixes every metric exported by mediacompose.
const Namespace = "mediacompose"

// MetricsRegistrar defines the interface for registering service-specific metrics
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(serviceName, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a new metrics registry with the core metrics and
// the Go runtime collectors already registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
		Metrics:            NewMetrics(),
	}

	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, c prometheus.Counter) error {
	return r.register("RegisterCounter", serviceName, metricName, c)
}

func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, g prometheus.Gauge) error {
	return r.register("RegisterGauge", serviceName, metricName, g)
}

func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, h prometheus.Histogram) error {
	return r.register("RegisterHistogram", serviceName, metricName, h)
}

func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, v *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", serviceName, metricName, v)
}

func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, v *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", serviceName, metricName, v)
}

func (r *MetricsRegistry) RegisterHistogramVec(serviceName, metricName string, v *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", serviceName, metricName, v)
}

func (r *MetricsRegistry) register(method, serviceName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := serviceName + "." + metricName
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register with prometheus")
	}

	r.registeredMetrics[key] = c
	return nil
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := serviceName + "." + metricName
	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}
	if !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.registeredMetrics, key)
	return true
}
