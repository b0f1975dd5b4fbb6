package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/compositor"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/engine"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/health"
	natsin "github.com/c360/mediacompose/input/nats"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/metric"
	"github.com/c360/mediacompose/natsclient"
	natsout "github.com/c360/mediacompose/output/nats"
	"github.com/c360/mediacompose/output/websocket"
	"github.com/c360/mediacompose/pkg/retry"
	"github.com/c360/mediacompose/pkg/worker"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/render"
)

const (
	healthInterval = 5 * time.Second
	commandTimeout = 5 * time.Second
)

// node owns every component of a running compositor and starts and stops
// them in dependency order.
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	deps     component.Dependencies

	client  *natsclient.Client
	manager *config.Manager

	vout *port.Tee
	aout *port.Tee
	// outputs are the transports behind vout and aout.
	outputs []component.LifecycleComponent
	inputs  []*natsin.Input

	mixer  *render.Mixer
	driver *engine.Driver
	// control runs compositor calls raised on transport goroutines.
	control *worker.Pool[controlJob]

	monitor *health.Monitor
	server  *metric.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// controlJob is a compositor call queued from a transport callback.
type controlJob struct {
	name string
	port string
	run  func(ctx context.Context) error
}

// newNode builds the component graph without touching the network.
func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}

	if cfg.NeedsNATS() {
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(logger),
			natsclient.WithName(appName + "-" + cfg.Instance),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
			natsclient.WithMetrics(n.registry),
		}
		if cfg.NATS.Timeout > 0 {
			opts = append(opts, natsclient.WithTimeout(cfg.NATS.Timeout.Std()))
		}
		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create NATS client: %w", err)
		}
		n.client = client
	}
	n.deps = component.Dependencies{NATSClient: n.client, MetricsRegistry: n.registry, Logger: logger}

	control, err := worker.NewPool("control", n.runControl, n.registry,
		worker.WithErrorHandler(n.controlFailed))
	if err != nil {
		return nil, fmt.Errorf("create control queue: %w", err)
	}
	n.control = control

	if err := n.buildOutputs(); err != nil {
		return nil, err
	}
	if err := n.buildCompositor(); err != nil {
		return nil, err
	}
	if err := n.buildInputs(); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		n.server = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, n.registry, n.healthHandler())
	}
	return n, nil
}

func (n *node) buildOutputs() error {
	targets := map[string][]port.Output{}
	for _, oc := range n.cfg.Outputs {
		kind := media.StreamVisual
		if oc.Port == port.AudioOutputID {
			kind = media.StreamAudio
		}

		switch oc.Type {
		case config.TransportNATS:
			out, err := natsout.NewOutput(natsout.Config{PortID: oc.Port, Kind: kind, Subject: oc.Subject}, n.client, n.deps)
			if err != nil {
				return fmt.Errorf("create nats output for %s: %w", oc.Port, err)
			}
			targets[oc.Port] = append(targets[oc.Port], out)
			n.outputs = append(n.outputs, out)
		case config.TransportWebSocket:
			wc := websocket.DefaultConfig()
			wc.PortID, wc.Kind, wc.Addr = oc.Port, kind, oc.Addr
			if oc.Path != "" {
				wc.Path = oc.Path
			}
			out, err := websocket.NewOutput(wc, n.deps)
			if err != nil {
				return fmt.Errorf("create websocket output for %s: %w", oc.Port, err)
			}
			targets[oc.Port] = append(targets[oc.Port], out)
			n.outputs = append(n.outputs, out)
		}
	}

	n.vout = port.NewTee(port.VisualOutputID, media.StreamVisual, targets[port.VisualOutputID]...)
	n.watchOutput(n.vout)
	if !n.cfg.Options.NoAudio {
		n.aout = port.NewTee(port.AudioOutputID, media.StreamAudio, targets[port.AudioOutputID]...)
		n.watchOutput(n.aout)
	}
	return nil
}

// watchOutput routes downstream caps changes and connect failures on out
// through the compositor.
func (n *node) watchOutput(out *port.Tee) {
	out.OnCapsChange(func() {
		n.renegotiate(out)
		n.signal(media.Event{Type: media.EventCapsChange, PortID: out.ID()})
	})
	out.OnConnectFail(func() {
		n.signal(media.Event{Type: media.EventConnectFail, PortID: out.ID()})
	})
}

func (n *node) buildCompositor() error {
	timeline := render.NewTimeline(n.vout, n.cfg.Options, n.deps)
	n.mixer = render.NewMixer(n.deps)
	comp, err := compositor.New(n.cfg.Instance, n.cfg.Options, compositor.Collaborators{
		Renderer: timeline,
		Objects:  timeline,
		Mixer:    n.mixer,
	}, n.deps)
	if err != nil {
		return fmt.Errorf("create compositor: %w", err)
	}

	var aout port.Output
	if n.aout != nil {
		aout = n.aout
	}
	n.driver, err = engine.New(n.cfg.Instance, comp, n.vout, aout, n.deps, engine.WithAfterCycle(n.applyAudio))
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	return nil
}

func (n *node) buildInputs() error {
	for _, ic := range n.cfg.Inputs {
		in, err := natsin.NewInput(ic, n.client, n.deps)
		if err != nil {
			return fmt.Errorf("create input %s: %w", ic.Name, err)
		}
		in.OnPropertiesChange(func() {
			n.submit(controlJob{name: "configure", port: in.Port().ID(), run: func(ctx context.Context) error {
				return n.driver.Configure(ctx, in.Port(), false)
			}})
		})
		n.inputs = append(n.inputs, in)
	}
	return nil
}

// start connects to NATS, reconciles options and starts every component.
func (n *node) start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	if n.client != nil {
		n.logger.Info("Connecting to NATS", "url", n.cfg.NATS.URL)
		if err := n.client.ConnectWithRetry(ctx, retry.Persistent()); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		if n.cfg.NATS.OptionsBucket != "" {
			manager, err := config.NewManagerFromClient(ctx, n.cfg, n.client, n.logger)
			if err != nil {
				return fmt.Errorf("create option manager: %w", err)
			}
			if err := manager.Start(ctx); err != nil {
				return fmt.Errorf("start option manager: %w", err)
			}
			n.manager = manager
		}
	}

	if err := n.control.Start(n.ctx); err != nil {
		return fmt.Errorf("start control queue: %w", err)
	}

	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		n.logger.Info("Metrics server listening", "addr", n.server.Address(), "path", n.cfg.Metrics.Path)
	}

	// Outputs are independent of each other; bring them up together.
	var g errgroup.Group
	for _, out := range n.outputs {
		g.Go(func() error {
			if err := out.Initialize(); err != nil {
				return fmt.Errorf("initialize %s: %w", out.Meta().Name, err)
			}
			if err := out.Start(n.ctx); err != nil {
				return fmt.Errorf("start %s: %w", out.Meta().Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := n.driver.Initialize(); err != nil {
		return fmt.Errorf("initialize compositor: %w", err)
	}
	if err := n.driver.Start(n.ctx); err != nil {
		return fmt.Errorf("start compositor: %w", err)
	}

	if n.manager != nil {
		if opts := n.manager.Options(); !reflect.DeepEqual(opts, n.cfg.Options) {
			n.updateOptions(opts)
		}
		n.wg.Add(1)
		go n.watchOptions()
	}

	for _, in := range n.inputs {
		if err := in.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", in.Meta().Name, err)
		}
		if err := in.Start(n.ctx); err != nil {
			return fmt.Errorf("start %s: %w", in.Meta().Name, err)
		}
		n.configure(in.Port(), false)
	}

	n.reportHealth()
	n.wg.Add(1)
	go n.healthLoop()
	return nil
}

// done is closed when the presentation terminated.
func (n *node) done() <-chan struct{} { return n.driver.Done() }

// stop shuts components down in reverse order and returns every failure.
func (n *node) stop(timeout time.Duration) error {
	var errs []error
	collect := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}

	for _, in := range n.inputs {
		collect(in.Meta().Name, in.Stop(timeout))
	}
	collect("control queue", n.control.Stop(timeout))
	if n.ctx != nil && n.driver.State() == component.StateStarted {
		for _, in := range n.inputs {
			n.configure(in.Port(), true)
		}
	}
	collect("compositor", n.driver.Stop(timeout))
	for _, in := range n.inputs {
		collect(in.Meta().Name, in.Close())
	}
	for i := len(n.outputs) - 1; i >= 0; i-- {
		collect(n.outputs[i].Meta().Name, n.outputs[i].Stop(timeout))
	}
	if n.manager != nil {
		collect("option manager", n.manager.Stop(timeout))
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if n.server != nil {
		collect("metrics server", n.server.Stop(timeout))
	}
	if n.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		collect("nats client", n.client.Close(ctx))
		cancel()
	}
	return stderrors.Join(errs...)
}

func (n *node) configure(in port.Input, isRemoval bool) {
	ctx, cancel := context.WithTimeout(n.ctx, commandTimeout)
	defer cancel()
	err := n.driver.Configure(ctx, in, isRemoval)
	switch {
	case err == nil:
		n.logger.Debug("Input configured", "port", in.ID(), "removal", isRemoval)
	case errors.IsUnsupported(err):
		n.logger.Warn("Input not supported by compositor", "port", in.ID(), "error", err)
	default:
		n.logger.Error("Failed to configure input", "port", in.ID(), "error", err)
	}
}

func (n *node) renegotiate(out port.Output) {
	n.submit(controlJob{name: "renegotiate", port: out.ID(), run: func(ctx context.Context) error {
		return n.driver.Renegotiate(ctx, out)
	}})
}

// signal hands evt to the compositor and sends it upstream to every input
// when the compositor forwards it.
func (n *node) signal(evt media.Event) {
	n.submit(controlJob{name: "event", port: evt.PortID, run: func(ctx context.Context) error {
		disp, err := n.driver.HandleEvent(ctx, evt)
		if err != nil {
			return err
		}
		if disp == compositor.Forward {
			for _, in := range n.inputs {
				in.Port().SendEvent(evt)
			}
		}
		return nil
	}})
}

// submit queues job without blocking the calling transport goroutine.
func (n *node) submit(job controlJob) {
	if err := n.control.Submit(job); err != nil {
		n.logger.Warn("Dropped compositor call", "call", job.name, "port", job.port, "error", err)
	}
}

func (n *node) runControl(ctx context.Context, job controlJob) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return job.run(ctx)
}

func (n *node) controlFailed(job controlJob, err error) {
	if errors.IsUnsupported(err) {
		n.logger.Debug("Compositor call not applicable", "call", job.name, "port", job.port, "error", err)
		return
	}
	n.logger.Warn("Compositor call failed", "call", job.name, "port", job.port, "error", err)
}

func (n *node) applyAudio() {
	if cfg, ok := n.mixer.ApplyPending(); ok {
		n.logger.Info("Audio output reconfigured", "config", cfg.String())
	}
}

func (n *node) updateOptions(opts config.Options) {
	ctx, cancel := context.WithTimeout(n.ctx, commandTimeout)
	defer cancel()
	if err := n.driver.UpdateOptions(ctx, opts); err != nil {
		n.logger.Error("Failed to apply options", "error", err)
		return
	}
	n.logger.Info("Options updated")
}

func (n *node) watchOptions() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case u, ok := <-n.manager.Updates():
			if !ok {
				return
			}
			n.logger.Debug("Option update received", "revision", u.Revision)
			n.updateOptions(u.Options)
		}
	}
}

func (n *node) healthLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.reportHealth()
		}
	}
}

func (n *node) components() []component.Discoverable {
	all := []component.Discoverable{n.driver}
	for _, out := range n.outputs {
		all = append(all, out)
	}
	for _, in := range n.inputs {
		all = append(all, in)
	}
	return all
}

func (n *node) reportHealth() {
	core := n.registry.CoreMetrics()
	for _, c := range n.components() {
		name := c.Meta().Name
		ch := c.Health()
		n.monitor.Update(name, health.FromComponentHealth(name, ch))
		core.RecordHealthStatus(name, ch.Healthy)
	}
	core.RecordComponentState(n.driver.Meta().Name, int(n.driver.State()))
	if n.client != nil {
		if n.client.IsHealthy() {
			n.monitor.UpdateHealthy("nats", "connected")
		} else {
			n.monitor.UpdateUnhealthy("nats", n.client.Status().String())
		}
	}
}

// healthHandler serves the aggregated status, answering 503 unless every
// component is healthy.
func (n *node) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := n.monitor.AggregateHealth(appName)
		w.Header().Set("Content-Type", "application/json")
		if !status.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
