package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/metric"
)

const (
	DefaultWorkers   = 1
	DefaultQueueSize = 64
)

// Pool runs jobs of type T on a fixed set of goroutines. With one worker jobs
// run in submission order.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	work    chan T
	metrics *poolMetrics
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithWorkers sets the number of goroutines.
func WithWorkers[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending jobs.
func WithQueueSize[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithErrorHandler is called with every job the processor failed.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) { p.onError = fn }
}

// NewPool creates a pool named name. The name labels its metrics.
func NewPool[T any](name string, processor func(context.Context, T) error, registry *metric.MetricsRegistry,
	opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Pool", "NewPool", "processor is nil")
	}

	p := &Pool[T]{
		name:      name,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		processor: processor,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.work = make(chan T, p.queueSize)

	metrics, err := newPoolMetrics(registry, name)
	if err != nil {
		return nil, errors.Wrap(err, "Pool", "NewPool", "register metrics")
	}
	p.metrics = metrics
	return p, nil
}

// Submit queues job without blocking. A full queue drops the job.
func (p *Pool[T]) Submit(job T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Pool", "Submit", "submit to "+p.name)
	}
	if p.stopped {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Pool", "Submit", "submit to "+p.name)
	}

	select {
	case p.work <- job:
		p.submitted.Add(1)
		p.metrics.submit(len(p.work))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.drop()
		return errors.WrapTransient(errors.ErrQueueFull, "Pool", "Submit", "queue of "+p.name+" is full")
	}
}

// Start launches the workers. They exit when ctx is cancelled or on Stop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pool", "Start", "start "+p.name)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.work)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Pool", "Stop", "wait for workers of "+p.name)
	}
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.work:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, job)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
				if p.onError != nil {
					p.onError(job, err)
				}
			}
			p.metrics.done(err, time.Since(start), len(p.work))
		}
	}
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	jobs       *prometheus.CounterVec
	duration   prometheus.Histogram
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Jobs waiting in the pool queue",
			ConstLabels: labels,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "jobs_total",
			Help:        "Jobs by outcome: submitted, dropped, success, error",
			ConstLabels: labels,
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "job_duration_seconds",
			Help:        "Time spent running a job",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			ConstLabels: labels,
		}),
	}

	service := "worker_" + name
	if err := registry.RegisterGauge(service, "queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "jobs", m.jobs); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(service, "job_duration", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) submit(depth int) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues("submitted").Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) drop() {
	if m != nil {
		m.jobs.WithLabelValues("dropped").Inc()
	}
}

func (m *poolMetrics) done(err error, d time.Duration, depth int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobs.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
	m.queueDepth.Set(float64(depth))
}
