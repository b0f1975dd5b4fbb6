package port

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/metric"
	"github.com/c360/mediacompose/pkg/buffer"
)

// DefaultPipeCapacity bounds the packet queue of a Pipe.
const DefaultPipeCapacity = 256

// Pipe is an in-memory Input. Producers Push packets from any goroutine; the
// compositor consumes them with Peek and Drop.
type Pipe struct {
	id       string
	upstream []string

	mu    sync.RWMutex
	props media.Properties

	queue   buffer.Buffer[*media.Packet]
	eos     atomic.Bool
	seq     atomic.Uint64
	onEvent func(media.Event)

	eventsMu sync.Mutex
	events   []media.Event
}

// PipeOption configures a Pipe.
type PipeOption func(*pipeConfig)

type pipeConfig struct {
	capacity int
	policy   buffer.OverflowPolicy
	upstream []string
	registry *metric.MetricsRegistry
	onEvent  func(media.Event)
}

// WithCapacity bounds the queue.
func WithCapacity(n int) PipeOption {
	return func(c *pipeConfig) { c.capacity = n }
}

// WithOverflowPolicy selects the queue overflow policy.
func WithOverflowPolicy(p buffer.OverflowPolicy) PipeOption {
	return func(c *pipeConfig) { c.policy = p }
}

// WithUpstream names the producers this port descends from, nearest first.
func WithUpstream(sources ...string) PipeOption {
	return func(c *pipeConfig) { c.upstream = append(c.upstream, sources...) }
}

// WithQueueMetrics exports the queue statistics.
func WithQueueMetrics(registry *metric.MetricsRegistry) PipeOption {
	return func(c *pipeConfig) { c.registry = registry }
}

// WithEventHandler forwards every control signal sent to the port.
func WithEventHandler(fn func(media.Event)) PipeOption {
	return func(c *pipeConfig) { c.onEvent = fn }
}

// NewPipe creates a pipe declaring props.
func NewPipe(id string, props media.Properties, opts ...PipeOption) (*Pipe, error) {
	if id == "" {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Pipe", "NewPipe", "validate port id")
	}

	cfg := pipeConfig{capacity: DefaultPipeCapacity, policy: buffer.Block}
	for _, opt := range opts {
		opt(&cfg)
	}

	bufOpts := []buffer.Option[*media.Packet]{buffer.WithOverflowPolicy[*media.Packet](cfg.policy)}
	if cfg.registry != nil {
		bufOpts = append(bufOpts, buffer.WithMetrics[*media.Packet](cfg.registry, "input_"+id))
	}
	queue, err := buffer.NewCircularBuffer(cfg.capacity, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Pipe", "NewPipe", "create packet queue")
	}

	return &Pipe{
		id:       id,
		upstream: cfg.upstream,
		props:    props.Clone(),
		queue:    queue,
		onEvent:  cfg.onEvent,
	}, nil
}

func (p *Pipe) ID() string { return p.id }

func (p *Pipe) Properties() media.Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props.Clone()
}

// SetProperty updates a declared property. Consumers observe it on their next
// configure call.
func (p *Pipe) SetProperty(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[key] = value
}

// Push enqueues pkt. Pushing after SetEOS fails with ErrEndOfStream.
func (p *Pipe) Push(pkt *media.Packet) error {
	if p.eos.Load() {
		return errors.Wrap(errors.ErrEndOfStream, "Pipe", "Push", "enqueue packet")
	}
	pkt.PortID = p.id
	pkt.Sequence = p.seq.Add(1)
	return p.queue.Write(pkt)
}

// SetEOS marks the producer side finished. Queued packets remain readable.
func (p *Pipe) SetEOS() { p.eos.Store(true) }

func (p *Pipe) Peek() (*media.Packet, bool) { return p.queue.Peek() }

func (p *Pipe) Drop() { p.queue.Read() }

// IsEOS is true once the producer finished and the queue drained.
func (p *Pipe) IsEOS() bool {
	return p.eos.Load() && p.queue.IsEmpty()
}

func (p *Pipe) SendEvent(evt media.Event) {
	evt.PortID = p.id
	p.eventsMu.Lock()
	if len(p.events) == maxRecordedEvents {
		p.events = slices.Delete(p.events, 0, 1)
	}
	p.events = append(p.events, evt)
	p.eventsMu.Unlock()
	if p.onEvent != nil {
		p.onEvent(evt)
	}
}

// maxRecordedEvents bounds the signal history a pipe keeps.
const maxRecordedEvents = 64

// Events returns the most recent signals, oldest first.
func (p *Pipe) Events() []media.Event {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	return slices.Clone(p.events)
}

func (p *Pipe) HasUpstream(source string) bool {
	return source != "" && slices.Contains(p.upstream, source)
}

// Pending returns the number of queued packets.
func (p *Pipe) Pending() int { return p.queue.Size() }

// Close releases the queue; blocked producers return an error.
func (p *Pipe) Close() error { return p.queue.Close() }
