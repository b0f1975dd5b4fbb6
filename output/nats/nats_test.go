package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/media/wire"
	"github.com/c360/mediacompose/metric"
	"github.com/c360/mediacompose/natsclient"
	"github.com/c360/mediacompose/port"
)

type published struct {
	subject string
	env     wire.Envelope
}

type fakeConn struct {
	mu         sync.Mutex
	published  []published
	subjects   []string
	handler    natsclient.Handler
	publishErr error
}

func (f *fakeConn) Publish(_ context.Context, subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{subject: subject, env: env})
	return nil
}

func (f *fakeConn) Subscribe(_ context.Context, subject string, handler natsclient.Handler) (*natsgo.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.handler = handler
	return nil, nil
}

func (f *fakeConn) envelopes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func TestNewOutput_Validation(t *testing.T) {
	_, err := NewOutput(Config{Subject: "media.out"}, nil, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = NewOutput(Config{}, &fakeConn{}, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsInvalid(err))

	out, err := NewOutput(Config{Subject: "media.out.video"}, &fakeConn{}, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, port.VisualOutputID, out.ID())
	assert.Equal(t, media.StreamVisual, out.Kind())
	assert.Equal(t, "nats-vout", out.Meta().Name)
	assert.Equal(t, "media.out.video.caps", out.cfg.CapsSubject)
}

func TestOutput_PublishesEnvelopes(t *testing.T) {
	conn := &fakeConn{}
	out, err := NewOutput(Config{PortID: port.AudioOutputID, Kind: media.StreamAudio, Subject: "media.out.audio"}, conn, component.Dependencies{})
	require.NoError(t, err)

	out.SetProperty(media.PropSampleRate, uint32(44100))
	require.NoError(t, out.Send(&media.Packet{PortID: "aout", Sequence: 7, PTS: 20 * time.Millisecond, Data: []byte("pcm")}))
	out.SetEOS()
	out.SetEOS()

	got := conn.envelopes()
	require.Len(t, got, 3)
	for _, p := range got {
		assert.Equal(t, "media.out.audio", p.subject)
	}

	assert.Equal(t, wire.KindProperties, got[0].env.Kind)
	rate, ok := wire.DecodeProperties(got[0].env.Properties).Uint(media.PropSampleRate)
	require.True(t, ok)
	assert.Equal(t, uint64(44100), rate)

	pkt := got[1].env.Packet()
	assert.Equal(t, uint64(7), pkt.Sequence)
	assert.Equal(t, 20*time.Millisecond, pkt.PTS)
	assert.Equal(t, "pcm", string(pkt.Data))

	assert.Equal(t, wire.KindEOS, got[2].env.Kind)
	assert.Equal(t, "aout", got[2].env.Port)

	assert.True(t, out.IsEOS())
	assert.True(t, errors.IsEndOfStream(out.Send(&media.Packet{})))
	assert.Equal(t, uint32(44100), out.Properties()[media.PropSampleRate])
}

func TestOutput_PublishFailureIsTransient(t *testing.T) {
	conn := &fakeConn{publishErr: errors.ErrConnectionLost}
	out, err := NewOutput(Config{Subject: "media.out.video"}, conn, component.Dependencies{})
	require.NoError(t, err)

	err = out.Send(&media.Packet{Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, out.Health().ErrorCount)
}

func TestOutput_ReportsConnectFailureOncePerOutage(t *testing.T) {
	conn := &fakeConn{publishErr: natsclient.ErrNotConnected}
	out, err := NewOutput(Config{Subject: "media.out.video"}, conn, component.Dependencies{})
	require.NoError(t, err)

	calls := 0
	out.OnConnectFail(func() { calls++ })

	require.Error(t, out.Send(&media.Packet{Data: []byte("a")}))
	require.Error(t, out.Send(&media.Packet{Data: []byte("b")}))
	assert.Equal(t, 1, calls, "one report per outage")

	conn.publishErr = nil
	require.NoError(t, out.Send(&media.Packet{Data: []byte("c")}))

	conn.publishErr = errors.ErrConnectionLost
	require.Error(t, out.Send(&media.Packet{Data: []byte("d")}))
	assert.Equal(t, 2, calls, "a new outage is reported again")
}

func TestOutput_OtherPublishErrorsAreNotConnectFailures(t *testing.T) {
	conn := &fakeConn{publishErr: natsgo.ErrMaxPayload}
	out, err := NewOutput(Config{Subject: "media.out.video"}, conn, component.Dependencies{})
	require.NoError(t, err)

	calls := 0
	out.OnConnectFail(func() { calls++ })
	require.Error(t, out.Send(&media.Packet{Data: []byte("a")}))
	assert.Zero(t, calls)
}

func TestOutput_CapsRequests(t *testing.T) {
	conn := &fakeConn{}
	registry := metric.NewMetricsRegistry()
	out, err := NewOutput(Config{Subject: "media.out.video"}, conn, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)

	calls := 0
	out.OnCapsChange(func() { calls++ })

	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	require.Equal(t, []string{"media.out.video.caps"}, conn.subjects)
	assert.True(t, out.Health().Healthy)

	data, err := wire.Marshal(wire.Envelope{
		Kind:       wire.KindCaps,
		Properties: wire.EncodeProperties(media.Properties{media.PropWidth: uint32(640), media.PropPixelFormat: media.PixelRGBA}),
	})
	require.NoError(t, err)
	conn.handler(context.Background(), "media.out.video.caps", data)

	assert.Equal(t, 1, calls)
	w, ok := out.QueryCaps().Uint(media.PropWidth)
	require.True(t, ok)
	assert.Equal(t, uint64(640), w)
	pf, ok := out.QueryCaps().PixelFormat()
	require.True(t, ok)
	assert.Equal(t, media.PixelRGBA, pf)
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.capsRequests))

	// Anything other than a caps envelope is ignored.
	conn.handler(context.Background(), "media.out.video.caps", []byte("garbage"))
	pkt, err := wire.Marshal(wire.FromPacket(&media.Packet{Data: []byte("x")}))
	require.NoError(t, err)
	conn.handler(context.Background(), "media.out.video.caps", pkt)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, out.Health().ErrorCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(out.metrics.errors.WithLabelValues("invalid_caps")))

	require.NoError(t, out.Stop(time.Second))
	assert.False(t, out.Health().Healthy)
}

func TestOutput_Lifecycle(t *testing.T) {
	out, err := NewOutput(Config{Subject: "media.out.video"}, &fakeConn{}, component.Dependencies{})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Start(context.Background()), errors.ErrNotStarted)
	require.NoError(t, out.Initialize())
	assert.ErrorIs(t, out.Initialize(), errors.ErrAlreadyStarted)
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Start(context.Background()))
}

func TestOutput_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, err := NewOutput(Config{Subject: "media.out.video"}, &fakeConn{}, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)

	require.NoError(t, out.Send(&media.Packet{Data: []byte("abc")}))
	require.NoError(t, out.Send(&media.Packet{Data: []byte("def")}))
	out.SetEOS()

	assert.Equal(t, 2.0, testutil.ToFloat64(out.metrics.published.WithLabelValues(wire.KindPacket.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.published.WithLabelValues(wire.KindEOS.String())))
	assert.Greater(t, testutil.ToFloat64(out.metrics.bytes), 0.0)
	assert.Greater(t, out.DataFlow().MessagesPerSecond, 0.0)

	_, err = NewOutput(Config{Subject: "media.out.video"}, &fakeConn{}, component.Dependencies{MetricsRegistry: registry})
	assert.Error(t, err, "duplicate registration")
}

func TestOutput_Discovery(t *testing.T) {
	out, err := NewOutput(Config{Subject: "media.out.video", CapsSubject: "media.caps"}, &fakeConn{}, component.Dependencies{})
	require.NoError(t, err)

	in := out.InputPorts()
	require.Len(t, in, 2)
	assert.Equal(t, "media.caps", in[1].Subject)
	outs := out.OutputPorts()
	require.Len(t, outs, 1)
	assert.Equal(t, "media.out.video", outs[0].Subject)
	assert.Equal(t, []string{"subject"}, out.ConfigSchema().Required)
}
