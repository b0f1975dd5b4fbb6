package nats

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/media/wire"
	"github.com/c360/mediacompose/natsclient"
	"github.com/c360/mediacompose/pkg/buffer"
	"github.com/c360/mediacompose/port"
)

// Conn is the part of natsclient.Client the input uses.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) (*natsgo.Subscription, error)
}

// EventMessage is published on the events subject for every control signal
// the compositor sends to the port.
type EventMessage struct {
	Type     string    `json:"type"`
	Port     string    `json:"port"`
	ObjectID uint32    `json:"object_id,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// Input feeds a compositor input port from a NATS subject.
type Input struct {
	cfg           config.InputConfig
	eventsSubject string
	conn          Conn
	logger        *slog.Logger
	metrics       *Metrics
	pipe          *port.Pipe

	mu      sync.Mutex
	onProps func()

	lifecycleMu sync.Mutex
	state       component.State
	sub         *natsgo.Subscription
	startTime   time.Time

	received     atomic.Int64
	bytes        atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates the input and its port. The port carries cfg.Properties()
// until the producer publishes a property envelope.
func NewInput(cfg config.InputConfig, conn Conn, deps component.Dependencies) (*Input, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Input", "NewInput", "nats connection is nil")
	}
	if cfg.Name == "" || cfg.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Input", "NewInput", "name and subject are required")
	}
	if _, err := cfg.StreamKind(); err != nil {
		return nil, errors.WrapInvalid(err, "Input", "NewInput", "parse kind of "+cfg.Name)
	}
	policy, ok := buffer.ParseOverflowPolicy(cfg.Overflow)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Input", "NewInput", "unknown overflow policy "+cfg.Overflow)
	}

	metrics, err := newMetrics(deps.MetricsRegistry, cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "Input", "NewInput", "register metrics")
	}

	in := &Input{
		cfg:           cfg,
		eventsSubject: cfg.Subject + ".events",
		conn:          conn,
		logger:        deps.GetLoggerWithComponent("nats-input-" + cfg.Name),
		metrics:       metrics,
		state:         component.StateCreated,
		startTime:     time.Now(),
	}

	opts := []port.PipeOption{
		port.WithOverflowPolicy(policy),
		port.WithUpstream(cfg.Upstream...),
		port.WithQueueMetrics(deps.MetricsRegistry),
		port.WithEventHandler(in.forwardEvent),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, port.WithCapacity(cfg.Capacity))
	}
	in.pipe, err = port.NewPipe(cfg.Name, cfg.Properties(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Input", "NewInput", "create port "+cfg.Name)
	}
	return in, nil
}

// Port returns the compositor-facing input port.
func (in *Input) Port() *port.Pipe { return in.pipe }

// OnPropertiesChange registers fn, called after a property envelope was
// applied to the port. The node reconfigures the port from it.
func (in *Input) OnPropertiesChange(fn func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onProps = fn
}

func (in *Input) handleMessage(_ context.Context, subject string, data []byte) {
	env, err := wire.Unmarshal(data)
	if err != nil {
		in.recordError("decode")
		in.logger.Debug("Dropping undecodable message", "subject", subject, "error", err)
		return
	}

	in.received.Add(1)
	in.bytes.Add(int64(len(data)))
	in.lastActivity.Store(time.Now().UnixNano())
	in.metrics.recordReceived(env.Kind.String(), len(data))

	switch env.Kind {
	case wire.KindPacket:
		if err := in.pipe.Push(env.Packet()); err != nil {
			if errors.IsEndOfStream(err) {
				in.recordError("after_eos")
			} else {
				in.recordError("enqueue")
			}
			in.logger.Debug("Packet rejected", "port", in.cfg.Name, "error", err)
		}
	case wire.KindEOS:
		in.pipe.SetEOS()
		in.logger.Info("End of stream", "port", in.cfg.Name, "pending", in.pipe.Pending())
	case wire.KindProperties:
		props := wire.DecodeProperties(env.Properties)
		for key, value := range props {
			in.pipe.SetProperty(key, value)
		}
		in.mu.Lock()
		fn := in.onProps
		in.mu.Unlock()
		if fn != nil {
			fn()
		}
	default:
		in.recordError("unexpected_kind")
	}
}

func (in *Input) forwardEvent(evt media.Event) {
	data, err := json.Marshal(EventMessage{
		Type:     evt.Type.String(),
		Port:     evt.PortID,
		ObjectID: evt.ObjectID,
		Time:     time.Now(),
	})
	if err != nil {
		in.recordError("marshal")
		return
	}
	if err := in.conn.Publish(context.Background(), in.eventsSubject, data); err != nil {
		in.recordError("publish")
		in.logger.Warn("Failed to forward event", "event", evt.Type, "error", err)
		return
	}
	in.metrics.recordEvent(evt.Type.String())
}

func (in *Input) recordError(kind string) {
	in.errorCount.Add(1)
	in.metrics.recordError(kind)
}

// Meta implements component.Discoverable.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-input-" + in.cfg.Name,
		Type:        "input",
		Description: "Feeds port " + in.cfg.Name + " from " + in.cfg.Subject,
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (in *Input) InputPorts() []component.Port {
	kind, _ := in.cfg.StreamKind()
	return []component.Port{{
		Name:        "envelopes",
		Direction:   component.DirectionInput,
		Kind:        kind,
		Subject:     in.cfg.Subject,
		Required:    true,
		Description: "msgpack envelopes from the producer",
	}}
}

// OutputPorts implements component.Discoverable.
func (in *Input) OutputPorts() []component.Port {
	kind, _ := in.cfg.StreamKind()
	return []component.Port{
		{
			Name:        in.cfg.Name,
			Direction:   component.DirectionOutput,
			Kind:        kind,
			Required:    true,
			Description: "Compositor input port",
		},
		{
			Name:        "events",
			Direction:   component.DirectionOutput,
			Kind:        kind,
			Subject:     in.eventsSubject,
			Description: "Control signals sent to the port",
		},
	}
}

// ConfigSchema implements component.Discoverable.
func (in *Input) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"name":     {Type: "string", Description: "Port identifier", Category: "basic"},
			"subject":  {Type: "string", Description: "Subject carrying envelopes", Category: "basic"},
			"kind":     {Type: "string", Description: "Stream kind", Category: "basic"},
			"capacity": {Type: "int", Description: "Packet queue capacity", Category: "advanced"},
			"overflow": {Type: "string", Description: "Queue overflow policy", Category: "advanced"},
		},
		Required: []string{"name", "subject", "kind"},
	}
}

// Health implements component.Discoverable.
func (in *Input) Health() component.HealthStatus {
	in.lifecycleMu.Lock()
	running := in.state == component.StateStarted
	in.lifecycleMu.Unlock()
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (in *Input) DataFlow() component.FlowMetrics {
	received := in.received.Load()
	var flow component.FlowMetrics
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		flow.MessagesPerSecond = float64(received) / uptime
		flow.BytesPerSecond = float64(in.bytes.Load()) / uptime
	}
	if received > 0 {
		flow.ErrorRate = float64(in.errorCount.Load()) / float64(received)
	}
	if last := in.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}
	return flow
}

// Initialize implements component.LifecycleComponent.
func (in *Input) Initialize() error {
	in.lifecycleMu.Lock()
	defer in.lifecycleMu.Unlock()
	if in.state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Initialize", "check state")
	}
	in.state = component.StateInitialized
	return nil
}

// Start subscribes to the producer subject.
func (in *Input) Start(ctx context.Context) error {
	in.lifecycleMu.Lock()
	defer in.lifecycleMu.Unlock()

	if in.state == component.StateStarted {
		return nil
	}
	if !in.state.CanStart() {
		return errors.WrapFatal(errors.ErrNotStarted, "Input", "Start", "input must be initialized: "+in.state.String())
	}

	sub, err := in.conn.Subscribe(ctx, in.cfg.Subject, in.handleMessage)
	if err != nil {
		return errors.Wrap(err, "Input", "Start", "subscribe to "+in.cfg.Subject)
	}
	in.sub = sub
	in.state = component.StateStarted
	in.startTime = time.Now()
	in.logger.Info("NATS input started", "port", in.cfg.Name, "subject", in.cfg.Subject)
	return nil
}

// Stop drops the subscription. Packets already queued stay readable.
func (in *Input) Stop(_ time.Duration) error {
	in.lifecycleMu.Lock()
	defer in.lifecycleMu.Unlock()

	if in.state != component.StateStarted {
		return nil
	}
	if in.sub != nil {
		if err := in.sub.Unsubscribe(); err != nil && !stderrors.Is(err, natsgo.ErrConnectionClosed) {
			in.logger.Warn("Failed to unsubscribe", "subject", in.cfg.Subject, "error", err)
		}
		in.sub = nil
	}
	in.state = component.StateStopped
	return nil
}

// Close releases the port queue, unblocking a producer waiting for space.
func (in *Input) Close() error {
	return in.pipe.Close()
}
