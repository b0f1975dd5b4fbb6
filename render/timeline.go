// Package render provides the default compositor collaborators: a Timeline
// that drives the presentation tree frame by frame and a Mixer that holds the
// audio output configuration. Neither rasterizes nor mixes samples; they keep
// the presentation clock, the role slots and the output ports consistent so
// the node runs end to end.
package render

import (
	"log/slog"
	"time"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/compositor"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

type binding struct {
	obj *scene.Object
	in  port.Input
	eos bool
}

// Timeline implements compositor.Renderer and compositor.ObjectManager.
type Timeline struct {
	logger *slog.Logger
	vout   port.Output
	opts   config.Options

	active   *scene.Scene
	bindings map[uint32]*binding
	clock    time.Duration
	sequence uint64
	units    uint64
}

var (
	_ compositor.Renderer      = (*Timeline)(nil)
	_ compositor.ObjectManager = (*Timeline)(nil)
)

// NewTimeline creates a timeline publishing frames to vout.
func NewTimeline(vout port.Output, opts config.Options, deps component.Dependencies) *Timeline {
	return &Timeline{
		logger:   deps.GetLoggerWithComponent("timeline"),
		vout:     vout,
		opts:     opts,
		bindings: make(map[uint32]*binding),
	}
}

// Clock returns the presentation time of the last drawn frame.
func (t *Timeline) Clock() time.Duration { return t.clock }

// SystemsUnits counts the scene and object-descriptor units consumed.
func (t *Timeline) SystemsUnits() uint64 { return t.units }

func (t *Timeline) SetScene(s *scene.Scene) {
	t.active = s
	if s == nil {
		t.logger.Debug("Scene unbound")
	}
}

// ResetGraph has nothing to discard: the timeline derives no state from the
// scene graph beyond the role slots the scene owns.
func (t *Timeline) ResetGraph(s *scene.Scene) {
	if s != nil {
		t.logger.Debug("Presentation graph reset", "epoch", s.GraphEpoch())
	}
}

// Regenerate designates default role slots for a dynamic scene.
func (t *Timeline) Regenerate(s *scene.Scene) {
	if s == nil || !s.Dynamic() {
		return
	}
	s.AssignDefaultSlots()
	t.logger.Debug("Default composition regenerated",
		"visual", s.Slot(scene.RoleVisual), "audio", s.Slot(scene.RoleAudio), "vr", s.VR.String())
}

// ForceSizeToVideo adopts the input video dimensions unless a size is forced.
func (t *Timeline) ForceSizeToVideo(_ *scene.Scene, obj *scene.Object) {
	if !t.opts.Size.IsZero() {
		return
	}
	b, ok := t.bindings[obj.ID]
	if !ok {
		return
	}
	props := b.in.Properties()
	w, _ := props.Uint(media.PropWidth)
	h, _ := props.Uint(media.PropHeight)
	if w == 0 || h == 0 {
		return
	}
	t.vout.SetProperty(media.PropWidth, uint32(w))
	t.vout.SetProperty(media.PropHeight, uint32(h))
}

func (t *Timeline) frameStep() time.Duration {
	if step := t.opts.FPS.Duration(); step > 0 {
		return step
	}
	return time.Second / 30
}

// DrawFrame advances the clock by one frame and publishes the designated
// visual object's next packet, or an empty timing frame when there is none.
// In variable frame rate mode nothing is published without new content.
func (t *Timeline) DrawFrame() (compositor.Frame, error) {
	step := t.frameStep()
	t.clock += step

	var content *media.Packet
	if t.active != nil {
		if b, ok := t.bindings[t.active.Slot(scene.RoleVisual)]; ok {
			content = t.nextVisual(b)
		}
	}
	t.drainPresentable()

	frame := compositor.Frame{Clock: t.clock, NextWakeup: step}
	if content == nil && t.opts.VFR {
		return frame, nil
	}

	out := &media.Packet{
		PortID:   t.vout.ID(),
		Sequence: t.sequence,
		PTS:      t.clock - step,
		Duration: step,
	}
	if content != nil {
		out.Data = content.Data
		out.Properties = content.Properties
	}
	if err := t.vout.Send(out); err != nil {
		return frame, errors.Wrap(err, "Timeline", "DrawFrame", "publish frame")
	}
	t.sequence++
	frame.Emitted = true
	return frame, nil
}

// nextVisual pops the packet presented at the current clock. With late
// dropping enabled, packets whose presentation ended before the frame are
// skipped.
func (t *Timeline) nextVisual(b *binding) *media.Packet {
	pkt, ok := b.in.Peek()
	if !ok {
		return nil
	}
	b.in.Drop()
	if t.opts.DropLate {
		for {
			next, ok := b.in.Peek()
			if !ok || next.PTS >= t.clock {
				break
			}
			pkt = next
			b.in.Drop()
		}
	}
	if b.obj.Clock != nil {
		b.obj.Clock.Set(pkt.PTS)
	}
	return pkt
}

// drainPresentable consumes audio, text and auxiliary packets due at the
// current clock so their ports can reach end of stream.
func (t *Timeline) drainPresentable() {
	var visual uint32
	if t.active != nil {
		visual = t.active.Slot(scene.RoleVisual)
	}
	for id, b := range t.bindings {
		if id == visual || b.obj.Kind.IsSystems() {
			continue
		}
		for {
			pkt, ok := b.in.Peek()
			if !ok || pkt.PTS > t.clock {
				break
			}
			b.in.Drop()
			if b.obj.Clock != nil {
				b.obj.Clock.Set(pkt.PTS)
			}
		}
	}
}

// EndOfScene reports whether every bound port has drained and ended.
func (t *Timeline) EndOfScene() bool {
	if t.active == nil || len(t.bindings) == 0 {
		return false
	}
	for _, b := range t.bindings {
		if b.eos {
			continue
		}
		if _, pending := b.in.Peek(); pending || !b.in.IsEOS() {
			return false
		}
	}
	return true
}

func (t *Timeline) ReloadConfig(opts config.Options) {
	t.opts = opts
	t.logger.Debug("Options reloaded", "fps", opts.FPS.String(), "duration", opts.Duration)
}

// Setup tracks obj and seeds its duration from the port.
func (t *Timeline) Setup(obj *scene.Object, in port.Input) {
	t.bindings[obj.ID] = &binding{obj: obj, in: in}
	t.UpdateDuration(obj, in)
}

func (t *Timeline) Disconnect(obj *scene.Object) {
	delete(t.bindings, obj.ID)
}

func (t *Timeline) UpdateDuration(obj *scene.Object, in port.Input) {
	if b, ok := t.bindings[obj.ID]; ok {
		b.in = in
	}
	if secs, ok := in.Properties().Float(media.PropDuration); ok && secs > 0 {
		obj.Duration = time.Duration(secs * float64(time.Second))
	}
	obj.ConfigChanged = false
}

func (t *Timeline) OnEOS(obj *scene.Object, _ port.Input) {
	if b, ok := t.bindings[obj.ID]; ok {
		b.eos = true
	}
	if obj.Clock != nil {
		obj.Clock.MarkEOS()
	}
}

// ProcessSystems accepts one command unit. Decoding scene commands is the
// job of a structured-scene decoder; the timeline only accounts for them.
func (t *Timeline) ProcessSystems(obj *scene.Object, pkt *media.Packet) error {
	if pkt == nil || len(pkt.Data) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Timeline", "ProcessSystems", "check command unit")
	}
	t.units++
	if obj.Clock != nil {
		obj.Clock.Set(pkt.PTS)
	}
	return nil
}
