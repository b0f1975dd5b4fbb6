// Package nats publishes a compositor output port on a NATS subject.
//
// Every packet, property change and the end of stream is sent as a msgpack
// envelope (see media/wire) on Subject. Downstream consumers request output
// capabilities by publishing a caps envelope on CapsSubject, by default
// Subject + ".caps".
package nats

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/media/wire"
	"github.com/c360/mediacompose/natsclient"
	"github.com/c360/mediacompose/port"
)

// Conn is the part of natsclient.Client the output uses.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) (*natsgo.Subscription, error)
}

// Config configures one NATS output.
type Config struct {
	Name        string
	PortID      string
	Kind        media.StreamKind
	Subject     string
	CapsSubject string
}

// Output implements port.Output over NATS.
type Output struct {
	cfg     Config
	conn    Conn
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	props  media.Properties
	caps   media.Properties
	eos    bool
	onCaps func()
	onFail func()

	// disconnected is set by the first publish failing for lack of a
	// connection and cleared by the next successful one.
	disconnected atomic.Bool

	lifecycleMu sync.Mutex
	state       component.State
	sub         *natsgo.Subscription
	startTime   time.Time

	published    atomic.Int64
	bytes        atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
}

var (
	_ port.Output                  = (*Output)(nil)
	_ port.CapsNotifier            = (*Output)(nil)
	_ port.FailureNotifier         = (*Output)(nil)
	_ component.LifecycleComponent = (*Output)(nil)
)

// NewOutput creates an output publishing through conn.
func NewOutput(cfg Config, conn Conn, deps component.Dependencies) (*Output, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Output", "NewOutput", "nats connection is nil")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput", "subject is required")
	}
	if cfg.PortID == "" {
		cfg.PortID = port.VisualOutputID
	}
	if cfg.Kind == media.StreamUnknown {
		cfg.Kind = media.StreamVisual
	}
	if cfg.CapsSubject == "" {
		cfg.CapsSubject = cfg.Subject + ".caps"
	}
	if cfg.Name == "" {
		cfg.Name = "nats-" + cfg.PortID
	}

	metrics, err := newMetrics(deps.MetricsRegistry, cfg.Name, cfg.PortID)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "NewOutput", "register metrics")
	}

	return &Output{
		cfg:       cfg,
		conn:      conn,
		logger:    deps.GetLoggerWithComponent(cfg.Name),
		metrics:   metrics,
		props:     media.Properties{},
		caps:      media.Properties{},
		state:     component.StateCreated,
		startTime: time.Now(),
	}, nil
}

func (o *Output) ID() string             { return o.cfg.PortID }
func (o *Output) Kind() media.StreamKind { return o.cfg.Kind }

func (o *Output) Properties() media.Properties {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.props.Clone()
}

// SetProperty records the property and publishes the new property set.
func (o *Output) SetProperty(key string, value any) {
	o.mu.Lock()
	o.props[key] = value
	snapshot := o.props.Clone()
	o.mu.Unlock()

	env := wire.Envelope{Kind: wire.KindProperties, Port: o.cfg.PortID, Properties: wire.EncodeProperties(snapshot)}
	if err := o.publish(env); err != nil {
		o.logger.Warn("Failed to publish properties", "key", key, "error", err)
	}
}

func (o *Output) QueryCaps() media.Properties {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.caps.Clone()
}

// OnCapsChange registers fn, called after each accepted capability request.
func (o *Output) OnCapsChange(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCaps = fn
}

// OnConnectFail registers fn, called once each time publishing starts to
// fail because the NATS connection is unavailable.
func (o *Output) OnConnectFail(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFail = fn
}

func (o *Output) Send(pkt *media.Packet) error {
	if o.IsEOS() {
		return errors.Wrap(errors.ErrEndOfStream, "Output", "Send", "publish packet")
	}
	return o.publish(wire.FromPacket(pkt))
}

func (o *Output) SetEOS() {
	o.mu.Lock()
	already := o.eos
	o.eos = true
	o.mu.Unlock()
	if already {
		return
	}
	if err := o.publish(wire.Envelope{Kind: wire.KindEOS, Port: o.cfg.PortID}); err != nil {
		o.logger.Warn("Failed to publish end of stream", "error", err)
	}
}

func (o *Output) IsEOS() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.eos
}

func (o *Output) publish(env wire.Envelope) error {
	data, err := wire.Marshal(env)
	if err != nil {
		o.recordError("marshal")
		return err
	}
	if err := o.conn.Publish(context.Background(), o.cfg.Subject, data); err != nil {
		o.recordError("publish")
		if isConnectionError(err) {
			o.connectionLost(err)
		}
		return errors.WrapTransient(err, "Output", "publish", "publish "+env.Kind.String()+" to "+o.cfg.Subject)
	}
	if o.disconnected.Swap(false) {
		o.logger.Info("Publishing resumed", "subject", o.cfg.Subject)
	}
	o.published.Add(1)
	o.bytes.Add(int64(len(data)))
	o.lastActivity.Store(time.Now().UnixNano())
	o.metrics.recordPublish(env.Kind.String(), len(data))
	return nil
}

func (o *Output) connectionLost(err error) {
	if !o.disconnected.CompareAndSwap(false, true) {
		return
	}
	o.recordError("connect_fail")
	o.logger.Warn("Output lost its NATS connection", "subject", o.cfg.Subject, "error", err)

	o.mu.RLock()
	fn := o.onFail
	o.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func isConnectionError(err error) bool {
	for _, target := range []error{
		natsclient.ErrNotConnected,
		errors.ErrConnectionLost,
		natsgo.ErrConnectionClosed,
		natsgo.ErrConnectionReconnecting,
		natsgo.ErrNoServers,
		natsgo.ErrDisconnected,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

func (o *Output) handleCaps(_ context.Context, subject string, data []byte) {
	env, err := wire.Unmarshal(data)
	if err != nil || env.Kind != wire.KindCaps {
		o.recordError("invalid_caps")
		o.logger.Debug("Ignoring message on caps subject", "subject", subject, "error", err)
		return
	}

	caps := wire.DecodeProperties(env.Properties)
	o.mu.Lock()
	o.caps = caps
	fn := o.onCaps
	o.mu.Unlock()

	o.metrics.recordCapsRequest()
	o.logger.Info("Capability request", "subject", subject, "caps", caps)
	if fn != nil {
		fn()
	}
}

func (o *Output) recordError(kind string) {
	o.errorCount.Add(1)
	o.metrics.recordError(kind)
}

// Meta implements component.Discoverable.
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.cfg.Name,
		Type:        "output",
		Description: "Publishes " + o.cfg.PortID + " envelopes on " + o.cfg.Subject,
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (o *Output) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        o.cfg.PortID,
			Direction:   component.DirectionInput,
			Kind:        o.cfg.Kind,
			Required:    true,
			Description: "Compositor output stream",
		},
		{
			Name:        "caps",
			Direction:   component.DirectionInput,
			Kind:        o.cfg.Kind,
			Subject:     o.cfg.CapsSubject,
			Description: "Downstream capability requests",
		},
	}
}

// OutputPorts implements component.Discoverable.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{{
		Name:        "envelopes",
		Direction:   component.DirectionOutput,
		Kind:        o.cfg.Kind,
		Subject:     o.cfg.Subject,
		Required:    true,
		Description: "msgpack envelopes for " + o.cfg.PortID,
	}}
}

// ConfigSchema implements component.Discoverable.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"subject":      {Type: "string", Description: "Subject receiving envelopes", Category: "basic"},
			"caps_subject": {Type: "string", Description: "Subject carrying capability requests", Category: "advanced"},
		},
		Required: []string{"subject"},
	}
}

// Health implements component.Discoverable.
func (o *Output) Health() component.HealthStatus {
	o.lifecycleMu.Lock()
	running := o.state == component.StateStarted
	o.lifecycleMu.Unlock()
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (o *Output) DataFlow() component.FlowMetrics {
	published := o.published.Load()
	var flow component.FlowMetrics
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		flow.MessagesPerSecond = float64(published) / uptime
		flow.BytesPerSecond = float64(o.bytes.Load()) / uptime
	}
	if published > 0 {
		flow.ErrorRate = float64(o.errorCount.Load()) / float64(published)
	}
	if last := o.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}
	return flow
}

// Initialize implements component.LifecycleComponent.
func (o *Output) Initialize() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	if o.state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Initialize", "check state")
	}
	o.state = component.StateInitialized
	return nil
}

// Start subscribes to capability requests.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.state == component.StateStarted {
		return nil
	}
	if !o.state.CanStart() {
		return errors.WrapFatal(errors.ErrNotStarted, "Output", "Start", "output must be initialized: "+o.state.String())
	}

	sub, err := o.conn.Subscribe(ctx, o.cfg.CapsSubject, o.handleCaps)
	if err != nil {
		return errors.Wrap(err, "Output", "Start", "subscribe to "+o.cfg.CapsSubject)
	}
	o.sub = sub
	o.state = component.StateStarted
	o.startTime = time.Now()
	o.logger.Info("NATS output started", "subject", o.cfg.Subject, "caps_subject", o.cfg.CapsSubject)
	return nil
}

// Stop drops the capability subscription.
func (o *Output) Stop(_ time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.state != component.StateStarted {
		return nil
	}
	if o.sub != nil {
		if err := o.sub.Unsubscribe(); err != nil && !stderrors.Is(err, natsgo.ErrConnectionClosed) {
			o.logger.Warn("Failed to unsubscribe", "subject", o.cfg.CapsSubject, "error", err)
		}
		o.sub = nil
	}
	o.state = component.StateStopped
	return nil
}
