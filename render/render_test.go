package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/compositor"
	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

type fixture struct {
	comp     *compositor.Compositor
	timeline *Timeline
	mixer    *Mixer
	vout     *port.Sink
	aout     *port.Sink
}

func newFixture(t *testing.T, mutate func(*config.Options)) *fixture {
	t.Helper()

	opts := config.DefaultOptions()
	opts.FPS = media.Fraction{Num: 25, Den: 1}
	if mutate != nil {
		mutate(&opts)
	}

	f := &fixture{
		vout: port.NewSink(port.VisualOutputID, media.StreamVisual),
		aout: port.NewSink(port.AudioOutputID, media.StreamAudio),
	}
	f.timeline = NewTimeline(f.vout, opts, component.Dependencies{})
	f.mixer = NewMixer(component.Dependencies{})

	comp, err := compositor.New("compositor", opts, compositor.Collaborators{
		Renderer: f.timeline,
		Objects:  f.timeline,
		Mixer:    f.mixer,
	}, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, comp.Initialize(f.vout, f.aout))
	f.comp = comp
	return f
}

func newPipe(t *testing.T, id string, kind media.StreamKind, extra media.Properties) *port.Pipe {
	t.Helper()
	props := media.Properties{
		media.PropStreamKind: kind,
		media.PropCodecID:    media.CodecRaw,
	}
	for k, v := range extra {
		props[k] = v
	}
	p, err := port.NewPipe(id, props)
	require.NoError(t, err)
	return p
}

func TestTimeline_ForwardsDesignatedVisual(t *testing.T) {
	f := newFixture(t, nil)
	v := newPipe(t, "v", media.StreamVisual, nil)
	require.NoError(t, f.comp.Configure(v, false))

	require.NoError(t, v.Push(&media.Packet{PTS: 0, Data: []byte("f0")}))
	require.NoError(t, v.Push(&media.Packet{PTS: 40 * time.Millisecond, Data: []byte("f1")}))
	v.SetEOS()

	res, err := f.comp.RunCycle()
	require.NoError(t, err)
	assert.False(t, res.Done())

	res, err = f.comp.RunCycle()
	assert.True(t, res.Done())
	assert.True(t, errors.IsEndOfStream(err))

	pkts := f.vout.Packets()
	require.Len(t, pkts, 2)
	assert.Equal(t, "f0", string(pkts[0].Data))
	assert.Equal(t, "f1", string(pkts[1].Data))
	assert.Equal(t, time.Duration(0), pkts[0].PTS)
	assert.Equal(t, 40*time.Millisecond, pkts[1].PTS)
	assert.Equal(t, uint64(1), pkts[1].Sequence)
	assert.True(t, f.vout.IsEOS())
	assert.Equal(t, 80*time.Millisecond, f.timeline.Clock())
}

func TestTimeline_EmptyFramesWithoutVisual(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.Duration = -3 })

	var res compositor.Result
	for range 3 {
		res, _ = f.comp.RunCycle()
	}
	assert.True(t, res.Done())

	pkts := f.vout.Packets()
	require.Len(t, pkts, 3)
	for _, p := range pkts {
		assert.Nil(t, p.Data)
		assert.Equal(t, 40*time.Millisecond, p.Duration)
	}
}

func TestTimeline_VariableFrameRate(t *testing.T) {
	f := newFixture(t, func(o *config.Options) {
		o.VFR = true
		o.Duration = -1
	})

	for range 3 {
		res, err := f.comp.RunCycle()
		require.NoError(t, err)
		assert.False(t, res.Done())
	}
	assert.Empty(t, f.vout.Packets())
	assert.Zero(t, f.comp.FrameCount())

	v := newPipe(t, "v", media.StreamVisual, nil)
	require.NoError(t, f.comp.Configure(v, false))
	require.NoError(t, v.Push(&media.Packet{PTS: 0, Data: []byte("x")}))

	res, err := f.comp.RunCycle()
	assert.True(t, res.Done())
	assert.True(t, errors.IsEndOfStream(err))
	assert.Len(t, f.vout.Packets(), 1)
}

func TestTimeline_DropLate(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.DropLate = true })
	v := newPipe(t, "v", media.StreamVisual, nil)
	require.NoError(t, f.comp.Configure(v, false))

	for i := range 4 {
		require.NoError(t, v.Push(&media.Packet{
			PTS:  time.Duration(i) * 10 * time.Millisecond,
			Data: []byte{byte('a' + i)},
		}))
	}

	_, err := f.comp.RunCycle()
	require.NoError(t, err)

	pkts := f.vout.Packets()
	require.Len(t, pkts, 1)
	assert.Equal(t, "d", string(pkts[0].Data))
	assert.Zero(t, v.Pending())
}

func TestTimeline_EndOfSceneWaitsForAllPorts(t *testing.T) {
	f := newFixture(t, nil)
	v := newPipe(t, "v", media.StreamVisual, nil)
	a := newPipe(t, "a", media.StreamAudio, nil)
	require.NoError(t, f.comp.Configure(v, false))
	require.NoError(t, f.comp.Configure(a, false))

	v.SetEOS()
	require.NoError(t, a.Push(&media.Packet{PTS: time.Second}))

	for range 3 {
		res, err := f.comp.RunCycle()
		require.NoError(t, err)
		assert.False(t, res.Done())
	}
	assert.False(t, f.timeline.EndOfScene())

	a.SetEOS()
	assert.False(t, f.timeline.EndOfScene(), "audio packet still queued")

	var res compositor.Result
	for i := 0; i < 30 && !res.Done(); i++ {
		res, _ = f.comp.RunCycle()
	}
	assert.True(t, res.Done())
	assert.Zero(t, a.Pending())
}

func TestTimeline_ForceSizeToVideo(t *testing.T) {
	f := newFixture(t, nil)
	v := newPipe(t, "v", media.StreamVisual, media.Properties{
		media.PropWidth:    640,
		media.PropHeight:   360,
		media.PropDuration: 12.5,
	})
	require.NoError(t, f.comp.Configure(v, false))
	obj, ok := f.comp.Object("v")
	require.True(t, ok)
	assert.Equal(t, 12500*time.Millisecond, obj.Duration)

	v.SetProperty(media.PropWidth, 1920)
	v.SetProperty(media.PropHeight, 1080)
	require.NoError(t, f.comp.Configure(v, false))

	w, _ := f.vout.Properties().Uint(media.PropWidth)
	h, _ := f.vout.Properties().Uint(media.PropHeight)
	assert.Equal(t, uint64(1920), w)
	assert.Equal(t, uint64(1080), h)
	assert.False(t, obj.ConfigChanged)
}

func TestTimeline_ForcedSizeWins(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.Size = config.Size{Width: 320, Height: 240} })
	v := newPipe(t, "v", media.StreamVisual, media.Properties{media.PropWidth: 640, media.PropHeight: 360})
	require.NoError(t, f.comp.Configure(v, false))
	require.NoError(t, f.comp.Configure(v, false))

	w, _ := f.vout.Properties().Uint(media.PropWidth)
	assert.Equal(t, uint64(320), w)
}

func TestTimeline_ProcessSystems(t *testing.T) {
	tl := NewTimeline(port.NewSink(port.VisualOutputID, media.StreamVisual), config.DefaultOptions(), component.Dependencies{})
	obj := &scene.Object{ID: 1, Kind: media.StreamScene}

	require.NoError(t, tl.ProcessSystems(obj, &media.Packet{Data: []byte{0x01}}))
	assert.Equal(t, uint64(1), tl.SystemsUnits())

	err := tl.ProcessSystems(obj, &media.Packet{})
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, errors.IsInvalid(err))
}

func TestTimeline_RegenerateIgnoresAuthoredScenes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.comp.Configure(newPipe(t, "v", media.StreamVisual, nil), false))
	root := f.comp.Presentation().Root()
	obj, _ := f.comp.Object("v")
	assert.Equal(t, obj.ID, root.Slot(scene.RoleVisual))

	sc := newPipe(t, "scene", media.StreamScene, media.Properties{media.PropESID: 1})
	require.NoError(t, f.comp.Configure(sc, false))
	assert.False(t, root.Dynamic())

	root.SetSlot(scene.RoleVisual, 0)
	f.timeline.Regenerate(root)
	assert.Zero(t, root.Slot(scene.RoleVisual))
}

func TestMixer(t *testing.T) {
	f := newFixture(t, nil)

	cfg, pending := f.mixer.ApplyPending()
	assert.False(t, pending)
	assert.Equal(t, uint32(44100), cfg.SampleRate)
	assert.True(t, f.mixer.NonRealtime())

	f.aout.SetCaps(media.Properties{media.PropSampleRate: 48000, media.PropChannels: 2})
	require.NoError(t, f.comp.RenegotiateOutput(f.aout))

	cfg, pending = f.mixer.ApplyPending()
	assert.True(t, pending)
	assert.Equal(t, media.AudioConfig{SampleRate: 48000, Channels: 2, Format: media.AudioS16}, cfg)

	_, pending = f.mixer.ApplyPending()
	assert.False(t, pending)

	f.comp.HandleEvent(media.Event{Type: media.EventConnectFail, PortID: port.AudioOutputID})
	assert.False(t, f.mixer.NonRealtime())
}
