package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/compositor"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
)

const (
	// DefaultCommandQueue bounds commands waiting for the compositor thread.
	DefaultCommandQueue = 64
	// DefaultIdleWait paces ContinueNow cycles that produced nothing or ran
	// without any attached stream.
	DefaultIdleWait = time.Millisecond
)

type command struct {
	name      string
	fn        func() error
	reply     chan error
	submitted time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithAfterCycle registers fn to run on the compositor thread after every
// cycle. The audio path uses it to apply pending mixer reconfigurations.
func WithAfterCycle(fn func()) Option {
	return func(d *Driver) { d.afterCycle = fn }
}

// WithIdleWait sets how long the loop pauses after an idle ContinueNow cycle.
// Zero disables the pause.
func WithIdleWait(wait time.Duration) Option {
	return func(d *Driver) { d.idleWait = wait }
}

// WithCommandQueue sets the command channel capacity.
func WithCommandQueue(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Driver owns a compositor and serializes every call to it on one goroutine.
type Driver struct {
	name    string
	comp    *compositor.Compositor
	vout    port.Output
	aout    port.Output
	logger  *slog.Logger
	metrics *driverMetrics

	afterCycle func()
	idleWait   time.Duration
	queueSize  int

	mu         sync.Mutex
	state      component.State
	cmds       chan command
	cancel     context.CancelFunc
	done       chan struct{}
	terminated chan struct{}
	termOnce   sync.Once

	startTime    time.Time
	lastActivity atomic.Value // time.Time
	lastError    atomic.Value // string
	cycles       atomic.Uint64
	errorCount   atomic.Uint64
	frames       atomic.Uint64
	ports        atomic.Pointer[[]component.Port]
}

var _ component.LifecycleComponent = (*Driver)(nil)

// New creates a driver for comp. The output ports are handed to the
// compositor on Initialize; aout may be nil when audio is disabled.
func New(name string, comp *compositor.Compositor, vout, aout port.Output,
	deps component.Dependencies, opts ...Option) (*Driver, error) {
	if comp == nil || vout == nil {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Driver", "New", "check compositor and outputs")
	}

	metrics, err := newDriverMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.Wrap(err, "Driver", "New", "register metrics")
	}

	d := &Driver{
		name:       name,
		comp:       comp,
		vout:       vout,
		aout:       aout,
		logger:     deps.GetLoggerWithComponent(name + "-driver"),
		metrics:    metrics,
		idleWait:   DefaultIdleWait,
		queueSize:  DefaultCommandQueue,
		terminated: make(chan struct{}),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lastActivity.Store(time.Time{})
	d.lastError.Store("")
	empty := []component.Port{}
	d.ports.Store(&empty)
	return d, nil
}

// Initialize declares the compositor's output ports.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != component.StateCreated {
		return errors.WrapInvalid(
			fmt.Errorf("driver is %s: %w", d.state, errors.ErrAlreadyStarted),
			"Driver", "Initialize", "check state")
	}
	if err := d.comp.Initialize(d.vout, d.aout); err != nil {
		d.state = component.StateFailed
		return errors.Wrap(err, "Driver", "Initialize", "initialize compositor")
	}
	d.state = component.StateInitialized
	return nil
}

// Start launches the driver loop. Starting a running driver is a no-op.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == component.StateStarted {
		return nil
	}
	if d.state != component.StateInitialized {
		return errors.WrapInvalid(
			fmt.Errorf("driver is %s: %w", d.state, errors.ErrNotStarted),
			"Driver", "Start", "check state")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.cmds = make(chan command, d.queueSize)
	d.done = make(chan struct{})
	d.state = component.StateStarted
	d.startTime = time.Now()
	d.metrics.setRunning(true)

	go d.loop(loopCtx, d.cmds, d.done)

	d.logger.Info("Driver started", "options", compositor.DurationPolicy(d.comp.Options().Duration).String())
	return nil
}

// Stop ends the loop and finalizes the compositor. A stopped driver cannot be
// restarted since the compositor is finalized.
func (d *Driver) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.state != component.StateStarted {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.state = component.StateStopped
	d.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Driver", "Stop", "graceful shutdown")
	}

	d.metrics.setRunning(false)
	d.logger.Info("Driver stopped", "cycles", d.cycles.Load(), "frames", d.frames.Load())
	return nil
}

// Done is closed once the presentation terminated.
func (d *Driver) Done() <-chan struct{} { return d.terminated }

// State returns the lifecycle state.
func (d *Driver) State() component.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) loop(ctx context.Context, cmds chan command, done chan struct{}) {
	defer close(done)
	defer d.drain(cmds)
	defer d.comp.Finalize()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	cycling := true
	var next time.Time
	for {
		// Queued commands run first; they never interleave with a cycle.
		if !d.serve(ctx, cmds) {
			return
		}

		if cycling && !time.Now().Before(next) {
			res, emitted := d.cycle()
			switch {
			case res.Done():
				cycling = false
				d.termOnce.Do(func() { close(d.terminated) })
				continue
			case res.After > 0:
				next = time.Now().Add(res.After)
			case (!emitted || d.comp.Presentation().Root() == nil) && d.idleWait > 0:
				next = time.Now().Add(d.idleWait)
			default:
				continue
			}
		}

		var wake <-chan time.Time
		if cycling {
			timer.Reset(time.Until(next))
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds:
			d.execute(cmd)
		case <-wake:
		}
		timer.Stop()
	}
}

// serve executes every queued command without blocking. It reports false
// once the context is cancelled.
func (d *Driver) serve(ctx context.Context, cmds chan command) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-cmds:
			d.execute(cmd)
		default:
			return true
		}
	}
}

func (d *Driver) drain(cmds chan command) {
	for {
		select {
		case cmd := <-cmds:
			cmd.reply <- errors.WrapInvalid(errors.ErrNotStarted, "Driver", cmd.name, "driver stopped")
		default:
			return
		}
	}
}

func (d *Driver) execute(cmd command) {
	waited := time.Since(cmd.submitted)
	err := cmd.fn()
	d.metrics.recordCommand(cmd.name, waited.Seconds(), err)
	if err != nil {
		d.noteError(err)
	}
	cmd.reply <- err
}

// cycle runs one activation and reports whether a frame was emitted.
func (d *Driver) cycle() (compositor.Result, bool) {
	before := d.comp.FrameCount()
	res, err := d.comp.RunCycle()
	after := d.comp.FrameCount()

	d.cycles.Add(1)
	d.frames.Store(after)
	if after != before {
		d.lastActivity.Store(time.Now())
	}
	if err != nil && !errors.IsEndOfStream(err) {
		d.noteError(err)
		d.logger.Warn("Cycle reported errors", "error", err)
	}
	if d.afterCycle != nil {
		d.afterCycle()
	}

	switch {
	case res.Done():
		d.metrics.recordActivation("terminated")
		d.logger.Info("Presentation terminated", "frames", after, "cycles", d.cycles.Load())
	case res.After > 0:
		d.metrics.recordActivation("after")
	default:
		d.metrics.recordActivation("now")
	}
	return res, after != before
}

func (d *Driver) noteError(err error) {
	d.errorCount.Add(1)
	d.lastError.Store(err.Error())
}

// submit runs fn on the compositor thread and waits for its result.
func (d *Driver) submit(ctx context.Context, name string, fn func() error) error {
	d.mu.Lock()
	if d.state != component.StateStarted {
		d.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Driver", name, "check state")
	}
	cmds, done := d.cmds, d.done
	d.mu.Unlock()

	cmd := command{name: name, fn: fn, reply: make(chan error, 1), submitted: time.Now()}
	select {
	case cmds <- cmd:
	case <-done:
		return errors.WrapInvalid(errors.ErrNotStarted, "Driver", name, "driver stopped")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Driver", name, "enqueue command")
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-done:
		select {
		case err := <-cmd.reply:
			return err
		default:
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "Driver", name, "driver stopped")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Driver", name, "await command")
	}
}

// Configure attaches, reconfigures or removes an input port.
func (d *Driver) Configure(ctx context.Context, in port.Input, isRemoval bool) error {
	return d.submit(ctx, "configure", func() error {
		err := d.comp.Configure(in, isRemoval)
		d.refreshPorts()
		return err
	})
}

// Renegotiate applies downstream capability requests on one of the outputs.
func (d *Driver) Renegotiate(ctx context.Context, out port.Output) error {
	return d.submit(ctx, "renegotiate", func() error {
		return d.comp.RenegotiateOutput(out)
	})
}

// HandleEvent delivers a control signal to the compositor.
func (d *Driver) HandleEvent(ctx context.Context, evt media.Event) (compositor.Disposition, error) {
	var disp compositor.Disposition
	err := d.submit(ctx, "event", func() error {
		disp = d.comp.HandleEvent(evt)
		return nil
	})
	return disp, err
}

// UpdateOptions hands a new option snapshot to the compositor; it is picked
// up at the start of the next cycle.
func (d *Driver) UpdateOptions(ctx context.Context, opts config.Options) error {
	return d.submit(ctx, "update_options", func() error {
		return d.comp.UpdateOptions(opts)
	})
}

// Options returns the compositor's current option snapshot.
func (d *Driver) Options(ctx context.Context) (config.Options, error) {
	var opts config.Options
	err := d.submit(ctx, "options", func() error {
		opts = d.comp.Options()
		return nil
	})
	return opts, err
}

func (d *Driver) refreshPorts() {
	inputs := d.comp.Inputs()
	ports := make([]component.Port, 0, len(inputs))
	for _, in := range inputs {
		if _, attached := d.comp.Object(in.ID()); !attached {
			continue
		}
		kind, _ := in.Properties().StreamKind()
		ports = append(ports, component.Port{
			Name:        in.ID(),
			Direction:   component.DirectionInput,
			Kind:        kind,
			Required:    false,
			Description: "attached input stream",
		})
	}
	d.ports.Store(&ports)
}

// Meta returns the component metadata
func (d *Driver) Meta() component.Metadata {
	return component.Metadata{
		Name:        d.name,
		Type:        "compositor",
		Description: "Composes attached input streams into visual and audio outputs",
		Version:     "1.0.0",
	}
}

// InputPorts returns the currently attached input ports.
func (d *Driver) InputPorts() []component.Port {
	return *d.ports.Load()
}

// OutputPorts returns the declared output ports.
func (d *Driver) OutputPorts() []component.Port {
	ports := []component.Port{{
		Name:        d.vout.ID(),
		Direction:   component.DirectionOutput,
		Kind:        media.StreamVisual,
		Required:    true,
		Description: "composed video frames",
	}}
	if d.aout != nil {
		ports = append(ports, component.Port{
			Name:        d.aout.ID(),
			Direction:   component.DirectionOutput,
			Kind:        media.StreamAudio,
			Description: "mixed audio",
		})
	}
	return ports
}

// ConfigSchema describes the compositor options.
func (d *Driver) ConfigSchema() component.ConfigSchema {
	return optionSchema()
}

var (
	schemaOnce   sync.Once
	cachedSchema component.ConfigSchema
)

func optionSchema() component.ConfigSchema {
	schemaOnce.Do(func() {
		props := make(map[string]component.PropertySchema)
		for _, info := range config.Reference() {
			category := "advanced"
			if info.Updatable {
				category = "basic"
			}
			props[info.Name] = component.PropertySchema{
				Type:        info.Type,
				Description: info.Description,
				Default:     info.Default,
				Category:    category,
				Updatable:   info.Updatable,
			}
		}
		cachedSchema = component.ConfigSchema{Properties: props}
	})
	return cachedSchema
}

// Health returns the current health status of the driver
func (d *Driver) Health() component.HealthStatus {
	state := d.State()
	lastErr, _ := d.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: int(d.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(d.startTime),
	}
}

// DataFlow reports frames per second since start.
func (d *Driver) DataFlow() component.FlowMetrics {
	frames := d.frames.Load()
	cycles := d.cycles.Load()
	errs := d.errorCount.Load()
	lastActivity, _ := d.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(d.startTime).Seconds(); uptime > 0 {
		perSecond = float64(frames) / uptime
	}
	if cycles > 0 {
		errorRate = float64(errs) / float64(cycles)
	}
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
