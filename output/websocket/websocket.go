package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/media/wire"
	"github.com/c360/mediacompose/pkg/buffer"
	"github.com/c360/mediacompose/port"
)

// Config configures one WebSocket output.
type Config struct {
	Name   string
	PortID string
	Kind   media.StreamKind
	Addr   string
	Path   string
	// QueueSize bounds the envelopes waiting for one client. The oldest are
	// dropped when a client falls behind.
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// CapsRate limits capability requests per client and second, with
	// bursts of up to CapsBurst.
	CapsRate  float64
	CapsBurst int
}

// DefaultConfig returns a visual output served on :8081/ws.
func DefaultConfig() Config {
	return Config{
		PortID:       port.VisualOutputID,
		Kind:         media.StreamVisual,
		Addr:         ":8081",
		Path:         "/ws",
		QueueSize:    64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		CapsRate:     5,
		CapsBurst:    5,
	}
}

// MessageEnvelope is the JSON control message clients may send as text.
// Supported types:
//   - "caps": Payload holds the requested properties
//   - "ping": answered with "pong"
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// client holds one connected consumer.
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	queue       buffer.Buffer[[]byte]
	capsLimiter *rate.Limiter
	wake        chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

// Output is a compositor output port broadcasting msgpack envelopes to
// WebSocket clients. Clients request output capabilities by sending a caps
// envelope (binary) or a caps MessageEnvelope (text).
type Output struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	upgrader websocket.Upgrader

	mu     sync.RWMutex
	props  media.Properties
	caps   media.Properties
	eos    bool
	onCaps func()

	clientsMu sync.RWMutex
	clients   map[string]*client

	lifecycleMu  sync.Mutex
	state        component.State
	server       *http.Server
	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	startTime    time.Time

	framesSent   atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
}

var (
	_ port.Output                  = (*Output)(nil)
	_ port.CapsNotifier            = (*Output)(nil)
	_ component.LifecycleComponent = (*Output)(nil)
)

// NewOutput creates an output from cfg. Zero fields take their defaults.
func NewOutput(cfg Config, deps component.Dependencies) (*Output, error) {
	def := DefaultConfig()
	if cfg.PortID == "" {
		cfg.PortID = def.PortID
	}
	if cfg.Kind == media.StreamUnknown {
		cfg.Kind = def.Kind
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.CapsRate <= 0 {
		cfg.CapsRate = def.CapsRate
	}
	if cfg.CapsBurst <= 0 {
		cfg.CapsBurst = def.CapsBurst
	}
	if cfg.Name == "" {
		cfg.Name = "websocket-" + cfg.PortID
	}
	if cfg.Path[0] != '/' {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput", "path must start with /")
	}

	metrics, err := newMetrics(deps.MetricsRegistry, cfg.Name, cfg.PortID)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "NewOutput", "register metrics")
	}

	return &Output{
		cfg:     cfg,
		logger:  deps.GetLoggerWithComponent(cfg.Name),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// Preview consumers run from arbitrary origins.
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		props:     media.Properties{},
		caps:      media.Properties{},
		clients:   make(map[string]*client),
		state:     component.StateCreated,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// ID implements port.Output.
func (w *Output) ID() string { return w.cfg.PortID }

// Kind implements port.Output.
func (w *Output) Kind() media.StreamKind { return w.cfg.Kind }

// Properties implements port.Output.
func (w *Output) Properties() media.Properties {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.props.Clone()
}

// SetProperty records the property and pushes the new property set to every
// client.
func (w *Output) SetProperty(key string, value any) {
	w.mu.Lock()
	w.props[key] = value
	snapshot := w.props.Clone()
	w.mu.Unlock()

	data, err := wire.Marshal(wire.Envelope{Kind: wire.KindProperties, Port: w.cfg.PortID, Properties: wire.EncodeProperties(snapshot)})
	if err != nil {
		w.recordError("marshal")
		return
	}
	w.broadcast(data)
}

// QueryCaps returns the latest capability request from any client.
func (w *Output) QueryCaps() media.Properties {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.caps.Clone()
}

// OnCapsChange registers fn, called after each accepted capability request.
func (w *Output) OnCapsChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCaps = fn
}

// Send queues pkt for every connected client. It never blocks on slow
// clients.
func (w *Output) Send(pkt *media.Packet) error {
	if w.IsEOS() {
		return errors.Wrap(errors.ErrEndOfStream, "Output", "Send", "publish packet")
	}
	data, err := wire.Marshal(wire.FromPacket(pkt))
	if err != nil {
		w.recordError("marshal")
		return err
	}
	w.lastActivity.Store(time.Now().UnixNano())
	w.broadcast(data)
	return nil
}

// SetEOS notifies clients that the stream ended.
func (w *Output) SetEOS() {
	w.mu.Lock()
	already := w.eos
	w.eos = true
	w.mu.Unlock()
	if already {
		return
	}

	data, err := wire.Marshal(wire.Envelope{Kind: wire.KindEOS, Port: w.cfg.PortID})
	if err != nil {
		w.recordError("marshal")
		return
	}
	w.broadcast(data)
}

// IsEOS implements port.Output.
func (w *Output) IsEOS() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.eos
}

// Handler serves the WebSocket endpoint.
func (w *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	return mux
}

// Addr returns the bound listener address once started.
func (w *Output) Addr() string {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.listener == nil {
		return w.cfg.Addr
	}
	return w.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (w *Output) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Meta implements component.Discoverable.
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.cfg.Name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket server on %s%s streaming %s", w.cfg.Addr, w.cfg.Path, w.cfg.PortID),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (w *Output) InputPorts() []component.Port {
	return []component.Port{{
		Name:        w.cfg.PortID,
		Direction:   component.DirectionInput,
		Kind:        w.cfg.Kind,
		Required:    true,
		Description: "Compositor output stream",
	}}
}

// OutputPorts implements component.Discoverable.
func (w *Output) OutputPorts() []component.Port {
	return []component.Port{{
		Name:        "websocket_endpoint",
		Direction:   component.DirectionOutput,
		Kind:        w.cfg.Kind,
		Subject:     "ws://" + w.cfg.Addr + w.cfg.Path,
		Description: "WebSocket endpoint for preview clients",
	}}
}

// ConfigSchema implements component.Discoverable.
func (w *Output) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"addr": {Type: "string", Description: "Listen address", Default: DefaultConfig().Addr, Category: "basic"},
			"path": {Type: "string", Description: "WebSocket endpoint path", Default: DefaultConfig().Path, Category: "basic"},
		},
		Required: []string{"addr"},
	}
}

// Health implements component.Discoverable.
func (w *Output) Health() component.HealthStatus {
	w.lifecycleMu.Lock()
	running := w.state == component.StateStarted
	w.lifecycleMu.Unlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(w.errorCount.Load()),
		Uptime:     time.Since(w.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (w *Output) DataFlow() component.FlowMetrics {
	frames := w.framesSent.Load()
	bytes := w.bytesSent.Load()
	errCount := w.errorCount.Load()

	var flow component.FlowMetrics
	if uptime := time.Since(w.startTime).Seconds(); uptime > 0 {
		flow.MessagesPerSecond = float64(frames) / uptime
		flow.BytesPerSecond = float64(bytes) / uptime
	}
	if frames > 0 {
		flow.ErrorRate = float64(errCount) / float64(frames)
	}
	if last := w.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}
	return flow
}

// Initialize validates the listen address.
func (w *Output) Initialize() error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.cfg.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Initialize", "listen address is empty")
	}
	if w.state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Initialize", "check state")
	}
	w.state = component.StateInitialized
	return nil
}

// Start binds the listener and serves clients until Stop.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.state == component.StateStarted {
		return nil
	}
	if w.state != component.StateInitialized {
		return errors.WrapFatal(errors.ErrNotStarted, "Output", "Start", "output must be initialized: "+w.state.String())
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled or timed out")
	}

	listener, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		w.state = component.StateFailed
		return errors.WrapFatal(err, "Output", "Start", "listen on "+w.cfg.Addr)
	}
	w.listener = listener
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	w.state = component.StateStarted
	w.startTime = time.Now()

	w.wg.Add(2)
	go w.runServer(w.server, listener)
	go w.maintainClients()

	w.logger.Info("WebSocket output listening", "addr", listener.Addr().String(), "path", w.cfg.Path)
	return nil
}

// Stop closes the server and every client connection.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	server := w.server
	w.server = nil
	if w.state == component.StateStarted {
		w.state = component.StateStopped
	}
	w.lifecycleMu.Unlock()

	w.shutdownOnce.Do(func() { close(w.shutdown) })

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			w.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}
	w.closeAllClients()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		w.logger.Warn("WebSocket goroutines did not exit within timeout", "timeout", timeout)
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Output", "Stop", "wait for client goroutines")
	}
}

func (w *Output) runServer(server *http.Server, listener net.Listener) {
	defer w.wg.Done()
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		w.logger.Error("HTTP server failed", "error", err)
		w.recordError("server")
	}
}

func (w *Output) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-w.shutdown:
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.recordError("connection_upgrade")
		return
	}

	queue, err := buffer.NewCircularBuffer[[]byte](w.cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { w.metrics.recordDrop() }),
	)
	if err != nil {
		_ = conn.Close()
		w.recordError("buffer_creation")
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
		queue:       queue,
		capsLimiter: rate.NewLimiter(rate.Limit(w.cfg.CapsRate), w.cfg.CapsBurst),
		wake:        make(chan struct{}, 1),
	}

	// The current property set goes first so late joiners can interpret frames.
	w.mu.RLock()
	snapshot := w.props.Clone()
	eos := w.eos
	w.mu.RUnlock()
	if data, err := wire.Marshal(wire.Envelope{Kind: wire.KindProperties, Port: w.cfg.PortID, Properties: wire.EncodeProperties(snapshot)}); err == nil {
		_ = c.queue.Write(data)
	}
	if eos {
		if data, err := wire.Marshal(wire.Envelope{Kind: wire.KindEOS, Port: w.cfg.PortID}); err == nil {
			_ = c.queue.Write(data)
		}
	}
	c.signal()

	w.clientsMu.Lock()
	w.clients[c.id] = c
	count := len(w.clients)
	w.clientsMu.Unlock()
	w.metrics.clientConnected(count)
	w.logger.Debug("Client connected", "client_id", c.id, "remote", r.RemoteAddr)

	w.wg.Add(2)
	go w.writeLoop(c)
	go w.readLoop(c)
}

func (c *client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (w *Output) broadcast(data []byte) {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	for _, c := range w.clients {
		if c.closed.Load() {
			continue
		}
		_ = c.queue.Write(data)
		c.signal()
	}
}

func (w *Output) writeLoop(c *client) {
	defer w.wg.Done()
	defer w.removeClient(c, "write_error")

	for {
		select {
		case <-w.shutdown:
			return
		case <-c.wake:
		}
		if c.closed.Load() {
			return
		}

		for _, data := range c.queue.ReadBatch(c.queue.Capacity()) {
			if err := w.sendToClient(c, data); err != nil {
				if !c.closed.Load() {
					w.recordError("client_send")
				}
				return
			}
			w.framesSent.Add(1)
			w.bytesSent.Add(int64(len(data)))
			w.metrics.recordSent(len(data))
		}
	}
}

// sendToClient writes one binary message. Writes to a connection must not
// run concurrently.
func (w *Output) sendToClient(c *client, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *Output) sendText(c *client, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *Output) readLoop(c *client) {
	defer w.wg.Done()
	defer w.removeClient(c, "normal")

	readTimeout := 2 * w.cfg.PingInterval
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			env, err := wire.Unmarshal(data)
			if err != nil || env.Kind != wire.KindCaps {
				w.recordError("invalid_message")
				continue
			}
			w.setCaps(c, wire.DecodeProperties(env.Properties))
		case websocket.TextMessage:
			w.handleControl(c, data)
		}
	}
}

func (w *Output) handleControl(c *client, data []byte) {
	var envelope MessageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		w.recordError("invalid_message")
		return
	}

	switch envelope.Type {
	case "caps":
		var props map[string]any
		if err := json.Unmarshal(envelope.Payload, &props); err != nil {
			w.recordError("invalid_message")
			return
		}
		reply := "ack"
		if !w.setCaps(c, wire.DecodeProperties(props)) {
			reply = "error"
		}
		_ = w.sendText(c, MessageEnvelope{Type: reply, ID: envelope.ID, Timestamp: time.Now().UnixMilli()})
	case "ping":
		_ = w.sendText(c, MessageEnvelope{Type: "pong", ID: envelope.ID, Timestamp: time.Now().UnixMilli()})
	default:
		w.logger.Debug("Ignoring control message", "client_id", c.id, "type", envelope.Type)
	}
}

// setCaps replaces the capability request and notifies the listener. It
// reports false when the client exceeded its request rate.
func (w *Output) setCaps(c *client, caps media.Properties) bool {
	if c.capsLimiter != nil && !c.capsLimiter.Allow() {
		w.recordError("rate_limited")
		w.logger.Debug("Capability request rate limited", "client_id", c.id)
		return false
	}

	w.mu.Lock()
	w.caps = caps
	fn := w.onCaps
	w.mu.Unlock()

	w.metrics.recordCapsRequest()
	w.logger.Info("Capability request", "client_id", c.id, "caps", caps)
	if fn != nil {
		fn()
	}
	return true
}

func (w *Output) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients, c.id)
		count := len(w.clients)
		w.clientsMu.Unlock()

		if time.Since(c.connectedAt) < 5*time.Second && reason == "normal" {
			reason = "early_disconnect"
		}
		w.metrics.clientDisconnected(count, reason)
		_ = c.conn.Close()
		_ = c.queue.Close()
		c.signal()
		w.logger.Debug("Client disconnected", "client_id", c.id, "reason", reason)
	})
}

func (w *Output) closeAllClients() {
	w.clientsMu.RLock()
	clients := make([]*client, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range clients {
		w.removeClient(c, "shutdown")
	}
}

// maintainClients pings every client so dead connections are detected by the
// read deadline.
func (w *Output) maintainClients() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			w.clientsMu.RLock()
			clients := make([]*client, 0, len(w.clients))
			for _, c := range w.clients {
				clients = append(clients, c)
			}
			w.clientsMu.RUnlock()

			deadline := time.Now().Add(w.cfg.WriteTimeout)
			for _, c := range clients {
				if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					w.removeClient(c, "ping_failed")
					w.recordError("ping")
				}
			}
		}
	}
}

func (w *Output) recordError(kind string) {
	w.errorCount.Add(1)
	w.metrics.recordError(kind)
}
