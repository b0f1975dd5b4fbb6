package compositor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/metric"
)

// compositorMetrics holds Prometheus metrics for one compositor instance.
// A nil receiver disables recording.
type compositorMetrics struct {
	component string

	attaches       *prometheus.CounterVec // by kind and result (ok/unsupported/error)
	removals       *prometheus.CounterVec
	renegotiations *prometheus.CounterVec // by output and changed
	frames         *prometheus.CounterVec
	cycleErrors    *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	phase          *prometheus.GaugeVec
	scenes         *prometheus.GaugeVec
	objects        *prometheus.GaugeVec
}

func newCompositorMetrics(registry *metric.MetricsRegistry, componentName string) (*compositorMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &compositorMetrics{
		component: componentName,
		attaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "attach_total",
			Help:      "Input port configuration attempts",
		}, []string{"component", "kind", "result"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "removals_total",
			Help:      "Input port removals",
		}, []string{"component"}),
		renegotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "renegotiations_total",
			Help:      "Output renegotiations, by output and whether the format changed",
		}, []string{"component", "output", "changed"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "frames_total",
			Help:      "Frames emitted on the visual output",
		}, []string{"component"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "cycle_errors_total",
			Help:      "Scheduling cycles that reported an error",
		}, []string{"component"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "cycle_duration_seconds",
			Help:      "Scheduling cycle duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"component"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "eos_phase",
			Help:      "End-of-stream phase (0 running, 1 armed, 2 terminated)",
		}, []string{"component"}),
		scenes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "scenes",
			Help:      "Scenes in the presentation tree",
		}, []string{"component"}),
		objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "compositor",
			Name:      "objects",
			Help:      "Media objects attached to the presentation tree",
		}, []string{"component"}),
	}

	counters := map[string]*prometheus.CounterVec{
		"attach_total":         m.attaches,
		"removals_total":       m.removals,
		"renegotiations_total": m.renegotiations,
		"frames_total":         m.frames,
		"cycle_errors_total":   m.cycleErrors,
	}
	for name, vec := range counters {
		if err := registry.RegisterCounterVec(componentName, name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogramVec(componentName, "cycle_duration_seconds", m.cycleDuration); err != nil {
		return nil, err
	}
	gauges := map[string]*prometheus.GaugeVec{
		"eos_phase": m.phase,
		"scenes":    m.scenes,
		"objects":   m.objects,
	}
	for name, vec := range gauges {
		if err := registry.RegisterGaugeVec(componentName, name, vec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *compositorMetrics) recordAttach(kind media.StreamKind, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.IsUnsupported(err):
		result = "unsupported"
	case err != nil:
		result = "error"
	}
	m.attaches.WithLabelValues(m.component, kind.String(), result).Inc()
}

func (m *compositorMetrics) recordRemoval() {
	if m == nil {
		return
	}
	m.removals.WithLabelValues(m.component).Inc()
}

func (m *compositorMetrics) recordRenegotiation(output string, changed bool) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.renegotiations.WithLabelValues(m.component, output, label).Inc()
}

func (m *compositorMetrics) recordFrame() {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(m.component).Inc()
}

func (m *compositorMetrics) recordCycleError() {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(m.component).Inc()
}

func (m *compositorMetrics) recordCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(m.component).Observe(d.Seconds())
}

func (m *compositorMetrics) updatePhase(p Phase) {
	if m == nil {
		return
	}
	m.phase.WithLabelValues(m.component).Set(float64(p))
}

func (m *compositorMetrics) updateTree(scenes, objects int) {
	if m == nil {
		return
	}
	m.scenes.WithLabelValues(m.component).Set(float64(scenes))
	m.objects.WithLabelValues(m.component).Set(float64(objects))
}
