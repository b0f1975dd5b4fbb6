// Package compositor implements the composition attachment node: it binds
// input streams into the presentation tree, negotiates its own output formats
// and runs the per-activation scheduling cycle.
//
// A Compositor is confined to a single goroutine. Nothing in this package
// blocks; the engine package provides the driver that serializes calls and
// honours the re-activation requests returned by RunCycle.
package compositor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
)

type systemsInput struct {
	in  port.Input
	obj *scene.Object
}

// Compositor is the attachment node.
type Compositor struct {
	name    string
	logger  *slog.Logger
	metrics *compositorMetrics

	opts     config.Options
	renderer Renderer
	objects  ObjectManager
	mixer    Mixer

	pres    *PresentationContext
	inputs  *port.Registry[*scene.Object]
	systems []systemsInput
	vout    port.Output
	aout    port.Output

	initialized   bool
	phase         Phase
	frameCount    uint64
	elapsed       time.Duration
	reloadPending bool
	nonRealtime   bool
}

// New creates a compositor. Initialize must be called before any stream is
// configured.
func New(name string, opts config.Options, collab Collaborators, deps component.Dependencies) (*Compositor, error) {
	if collab.Renderer == nil || collab.Objects == nil || collab.Mixer == nil {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "New", "check collaborators")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	metrics, err := newCompositorMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.Wrap(err, "Compositor", "New", "register metrics")
	}

	return &Compositor{
		name:     name,
		logger:   deps.GetLoggerWithComponent(name),
		metrics:  metrics,
		opts:     opts,
		renderer: collab.Renderer,
		objects:  collab.Objects,
		mixer:    collab.Mixer,
		pres:     newPresentationContext(collab.Renderer),
		inputs:   port.NewRegistry[*scene.Object](),
	}, nil
}

// Initialize declares the output ports. aout is ignored when audio is
// disabled and may be nil in that case.
func (c *Compositor) Initialize(vout, aout port.Output) error {
	if c.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Compositor", "Initialize", "check state")
	}
	if vout == nil || (aout == nil && !c.opts.NoAudio) {
		return errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "Initialize", "check output ports")
	}

	if !c.opts.NoAudio {
		cfg := media.AudioConfig{
			SampleRate: valueOr(c.opts.AudioRate, defaultSampleRate),
			Channels:   valueOr(c.opts.AudioChannels, defaultChannels),
			Format:     c.opts.AudioFormat,
			Layout:     c.opts.AudioLayout,
		}
		c.aout = aout
		aout.SetProperty(media.PropStreamKind, media.StreamAudio)
		aout.SetProperty(media.PropCodecID, media.CodecRaw)
		aout.SetProperty(media.PropTimescale, cfg.SampleRate)
		c.publishAudio(cfg)
		aout.SetProperty(media.PropMaxBuffer, time.Duration(c.opts.AudioBufferMS)*time.Millisecond)
		c.mixer.SetConfig(cfg)
		c.nonRealtime = !c.opts.Player
		c.mixer.SetNonRealtimeOutput(c.nonRealtime)
	}

	c.vout = vout
	vout.SetProperty(media.PropStreamKind, media.StreamVisual)
	vout.SetProperty(media.PropCodecID, media.CodecRaw)
	vout.SetProperty(media.PropTimescale, valueOr(c.opts.Timescale, c.opts.FPS.Num))
	pixfmt := c.opts.PixelFmt
	if pixfmt == "" {
		pixfmt = media.PixelRGB
	}
	vout.SetProperty(media.PropPixelFormat, pixfmt)
	vout.SetProperty(media.PropWidth, c.opts.Size.Width)
	vout.SetProperty(media.PropHeight, c.opts.Size.Height)
	vout.SetProperty(media.PropFPS, c.opts.FPS)

	c.initialized = true
	c.logger.Info("Compositor initialized",
		"player", c.opts.Player,
		"duration_policy", DurationPolicy(c.opts.Duration).String(),
		"audio", !c.opts.NoAudio)
	return nil
}

func (c *Compositor) publishAudio(cfg media.AudioConfig) {
	c.aout.SetProperty(media.PropSampleRate, cfg.SampleRate)
	c.aout.SetProperty(media.PropChannels, cfg.Channels)
	c.aout.SetProperty(media.PropAudioFormat, cfg.Format)
	c.aout.SetProperty(media.PropChannelLayout, cfg.Layout)
}

// Finalize unbinds the active composition and disconnects every object.
// The compositor cannot be used afterwards.
func (c *Compositor) Finalize() {
	if !c.initialized {
		return
	}
	c.pres.Bind(nil)
	if root := c.pres.Root(); root != nil {
		root.Walk(func(s *scene.Scene) {
			for _, obj := range s.Objects() {
				c.objects.Disconnect(obj)
			}
		})
	}
	c.pres.Tree().Reset()
	c.inputs = port.NewRegistry[*scene.Object]()
	c.systems = nil
	c.initialized = false
	c.metrics.updateTree(0, 0)
	c.logger.Info("Compositor finalized", "frames", c.frameCount)
}

// UpdateOptions replaces the runtime-updatable options. The renderer picks
// them up at the start of the next cycle.
func (c *Compositor) UpdateOptions(opts config.Options) error {
	next := c.opts.WithUpdates(opts)
	if err := next.Validate(); err != nil {
		return err
	}
	c.opts = next
	c.reloadPending = true
	c.logger.Debug("Options updated, reload pending")
	return nil
}

// OpenNamespace registers a source boundary owned by the object bound to
// ownerPortID. Ports produced downstream of sourceFilter resolve into the
// owner's presentation.
func (c *Compositor) OpenNamespace(ownerPortID, url, sourceFilter string) (*scene.Namespace, error) {
	owner, ok := c.inputs.Lookup(ownerPortID)
	if !ok || c.pres.Root() == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no object bound to port %q: %w", ownerPortID, errors.ErrBadParameter),
			"Compositor", "OpenNamespace", "resolve owner")
	}
	return c.pres.Tree().OpenNamespace(owner, url, sourceFilter), nil
}

// AcknowledgeNamespace records that the producer of ns confirmed attachment.
func (c *Compositor) AcknowledgeNamespace(ns *scene.Namespace) {
	if ns != nil {
		ns.Acknowledged = true
	}
}

// Name returns the instance name.
func (c *Compositor) Name() string { return c.name }

// Options returns the current option snapshot.
func (c *Compositor) Options() config.Options { return c.opts }

// Presentation returns the presentation context.
func (c *Compositor) Presentation() *PresentationContext { return c.pres }

// Object returns the object bound to port id.
func (c *Compositor) Object(portID string) (*scene.Object, bool) {
	return c.inputs.Lookup(portID)
}

// Inputs returns every connected input port in configuration order,
// including ports left unattached after a rejection.
func (c *Compositor) Inputs() []port.Input { return c.inputs.Ports() }

// Phase returns the end-of-stream phase.
func (c *Compositor) Phase() Phase { return c.phase }

// FrameCount returns the number of frames emitted.
func (c *Compositor) FrameCount() uint64 { return c.frameCount }

// Elapsed returns the presentation clock of the last frame drawn.
func (c *Compositor) Elapsed() time.Duration { return c.elapsed }

// NonRealtimeOutput reports whether the audio path still assumes a
// non-realtime consumer.
func (c *Compositor) NonRealtimeOutput() bool { return c.nonRealtime }

// ReloadPending reports whether an option reload awaits the next cycle.
func (c *Compositor) ReloadPending() bool { return c.reloadPending }

func valueOr(v, fallback uint32) uint32 {
	if v != 0 {
		return v
	}
	return fallback
}
