package compositor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

type fakeRenderer struct {
	bound        []*scene.Scene
	resets       int
	regenerated  []*scene.Scene
	forcedSize   []uint32
	reloads      []config.Options
	draws        int
	endOfScene   bool
	frameStep    time.Duration
	clock        time.Duration
	nextWakeup   time.Duration
	drawErr      error
	skipEmission bool
}

func (r *fakeRenderer) SetScene(s *scene.Scene)   { r.bound = append(r.bound, s) }
func (r *fakeRenderer) ResetGraph(_ *scene.Scene) { r.resets++ }
func (r *fakeRenderer) Regenerate(s *scene.Scene) {
	s.AssignDefaultSlots()
	r.regenerated = append(r.regenerated, s)
}
func (r *fakeRenderer) ForceSizeToVideo(_ *scene.Scene, obj *scene.Object) {
	r.forcedSize = append(r.forcedSize, obj.ID)
}
func (r *fakeRenderer) DrawFrame() (Frame, error) {
	r.draws++
	if r.drawErr != nil {
		return Frame{}, r.drawErr
	}
	r.clock += r.frameStep
	return Frame{Emitted: !r.skipEmission, Clock: r.clock, NextWakeup: r.nextWakeup}, nil
}
func (r *fakeRenderer) EndOfScene() bool                  { return r.endOfScene }
func (r *fakeRenderer) ReloadConfig(opts config.Options) { r.reloads = append(r.reloads, opts) }

type fakeObjects struct {
	setup        []uint32
	disconnected []uint32
	durations    []uint32
	eos          []uint32
	systems      []*media.Packet
	systemsErr   error
}

func (o *fakeObjects) Setup(obj *scene.Object, _ port.Input) { o.setup = append(o.setup, obj.ID) }
func (o *fakeObjects) Disconnect(obj *scene.Object)         { o.disconnected = append(o.disconnected, obj.ID) }
func (o *fakeObjects) UpdateDuration(obj *scene.Object, _ port.Input) {
	o.durations = append(o.durations, obj.ID)
}
func (o *fakeObjects) OnEOS(obj *scene.Object, _ port.Input) { o.eos = append(o.eos, obj.ID) }
func (o *fakeObjects) ProcessSystems(_ *scene.Object, pkt *media.Packet) error {
	o.systems = append(o.systems, pkt)
	return o.systemsErr
}

type fakeMixer struct {
	cfg          media.AudioConfig
	setCalls     int
	reconfigures int
	nonRealtime  []bool
}

func (m *fakeMixer) Config() media.AudioConfig { return m.cfg }
func (m *fakeMixer) SetConfig(cfg media.AudioConfig) {
	m.cfg = cfg
	m.setCalls++
}
func (m *fakeMixer) RequestReconfigure()               { m.reconfigures++ }
func (m *fakeMixer) SetNonRealtimeOutput(enabled bool) { m.nonRealtime = append(m.nonRealtime, enabled) }

type harness struct {
	comp     *Compositor
	renderer *fakeRenderer
	objects  *fakeObjects
	mixer    *fakeMixer
	vout     *port.Sink
	aout     *port.Sink
}

func newHarness(t *testing.T, mutate func(*config.Options)) *harness {
	t.Helper()

	opts := config.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}

	h := &harness{
		renderer: &fakeRenderer{frameStep: 40 * time.Millisecond},
		objects:  &fakeObjects{},
		mixer:    &fakeMixer{},
		vout:     port.NewSink(port.VisualOutputID, media.StreamVisual),
		aout:     port.NewSink(port.AudioOutputID, media.StreamAudio),
	}
	comp, err := New("compositor", opts, Collaborators{
		Renderer: h.renderer,
		Objects:  h.objects,
		Mixer:    h.mixer,
	}, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, comp.Initialize(h.vout, h.aout))
	h.comp = comp
	return h
}

func newInput(t *testing.T, id string, props media.Properties, opts ...port.PipeOption) *port.Pipe {
	t.Helper()
	p, err := port.NewPipe(id, props, opts...)
	require.NoError(t, err)
	return p
}

func rawProps(kind media.StreamKind) media.Properties {
	return media.Properties{
		media.PropStreamKind: kind,
		media.PropCodecID:    media.CodecRaw,
	}
}

func eventTypes(evts []media.Event) []media.EventType {
	out := make([]media.EventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}
