package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/media/wire"
	"github.com/c360/mediacompose/metric"
	"github.com/c360/mediacompose/port"
)

func newTestOutput(t *testing.T, deps component.Dependencies) (*Output, *httptest.Server) {
	t.Helper()
	out, err := NewOutput(Config{PortID: port.VisualOutputID, Kind: media.StreamVisual, Path: "/ws"}, deps)
	require.NoError(t, err)
	srv := httptest.NewServer(out.Handler())
	t.Cleanup(func() {
		_ = out.Stop(2 * time.Second)
		srv.Close()
	})
	return out, srv
}

func dial(t *testing.T, out *Output, url string) *websocket.Conn {
	t.Helper()
	before := out.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return out.Clients() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	env, err := wire.Unmarshal(data)
	require.NoError(t, err)
	return env
}

func TestOutput_Interfaces(_ *testing.T) {
	var _ port.Output = (*Output)(nil)
	var _ component.LifecycleComponent = (*Output)(nil)
}

func TestNewOutput_Defaults(t *testing.T) {
	out, err := NewOutput(Config{}, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, port.VisualOutputID, out.ID())
	assert.Equal(t, media.StreamVisual, out.Kind())
	assert.Equal(t, "websocket-vout", out.Meta().Name)
	assert.Equal(t, "output", out.Meta().Type)

	_, err = NewOutput(Config{Path: "ws"}, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestOutput_BroadcastsPackets(t *testing.T) {
	out, srv := newTestOutput(t, component.Dependencies{})
	out.SetProperty(media.PropWidth, uint32(320))

	a := dial(t, out, wsURL(srv))
	b := dial(t, out, wsURL(srv))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, wire.KindProperties, env.Kind)
		w, ok := wire.DecodeProperties(env.Properties).Uint(media.PropWidth)
		require.True(t, ok)
		assert.Equal(t, uint64(320), w)
	}

	require.NoError(t, out.Send(&media.Packet{PortID: "vout", Sequence: 1, PTS: 33 * time.Millisecond, Data: []byte("frame")}))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, wire.KindPacket, env.Kind)
		pkt := env.Packet()
		assert.Equal(t, "frame", string(pkt.Data))
		assert.Equal(t, 33*time.Millisecond, pkt.PTS)
	}

	require.Eventually(t, func() bool { return out.DataFlow().MessagesPerSecond > 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, out.DataFlow().LastActivity.IsZero())
}

func TestOutput_PropertyChangesReachClients(t *testing.T) {
	out, srv := newTestOutput(t, component.Dependencies{})
	conn := dial(t, out, wsURL(srv))
	readEnvelope(t, conn)

	out.SetProperty(media.PropPixelFormat, media.PixelBGRA)

	env := readEnvelope(t, conn)
	assert.Equal(t, wire.KindProperties, env.Kind)
	pf, ok := wire.DecodeProperties(env.Properties).PixelFormat()
	require.True(t, ok)
	assert.Equal(t, media.PixelBGRA, pf)
	assert.Equal(t, media.PixelBGRA, out.Properties()[media.PropPixelFormat])
}

func TestOutput_EOS(t *testing.T) {
	out, srv := newTestOutput(t, component.Dependencies{})
	conn := dial(t, out, wsURL(srv))
	readEnvelope(t, conn)

	out.SetEOS()
	out.SetEOS()
	assert.True(t, out.IsEOS())
	assert.Equal(t, wire.KindEOS, readEnvelope(t, conn).Kind)

	err := out.Send(&media.Packet{})
	assert.True(t, errors.IsEndOfStream(err))

	// Late joiners learn about the end of stream too.
	late := dial(t, out, wsURL(srv))
	assert.Equal(t, wire.KindProperties, readEnvelope(t, late).Kind)
	assert.Equal(t, wire.KindEOS, readEnvelope(t, late).Kind)
}

func TestOutput_TextCapsRequest(t *testing.T) {
	out, srv := newTestOutput(t, component.Dependencies{})
	var calls atomic.Int32
	out.OnCapsChange(func() { calls.Add(1) })

	conn := dial(t, out, wsURL(srv))
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(MessageEnvelope{
		Type:    "caps",
		ID:      "req-1",
		Payload: []byte(`{"width": 1280, "height": 720, "pixel_format": "bgra"}`),
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack MessageEnvelope
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "req-1", ack.ID)

	assert.Equal(t, int32(1), calls.Load())
	caps := out.QueryCaps()
	w, ok := caps.Uint(media.PropWidth)
	require.True(t, ok)
	assert.Equal(t, uint64(1280), w)
	pf, ok := caps.PixelFormat()
	require.True(t, ok)
	assert.Equal(t, media.PixelBGRA, pf)
}

func TestOutput_BinaryCapsRequest(t *testing.T) {
	out, err := NewOutput(Config{PortID: port.AudioOutputID, Kind: media.StreamAudio, Path: "/ws"}, component.Dependencies{})
	require.NoError(t, err)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()
	defer func() { _ = out.Stop(2 * time.Second) }()

	changed := make(chan struct{}, 1)
	out.OnCapsChange(func() { changed <- struct{}{} })

	conn := dial(t, out, wsURL(srv))
	defer conn.Close()
	readEnvelope(t, conn)

	data, err := wire.Marshal(wire.Envelope{
		Kind:       wire.KindCaps,
		Properties: wire.EncodeProperties(media.Properties{media.PropSampleRate: uint32(48000), media.PropAudioFormat: media.AudioF32}),
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("caps change not reported")
	}
	rate, ok := out.QueryCaps().Uint(media.PropSampleRate)
	require.True(t, ok)
	assert.Equal(t, uint64(48000), rate)

	// Packets are not accepted from clients.
	pkt, err := wire.Marshal(wire.FromPacket(&media.Packet{Data: []byte("x")}))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pkt))
	require.Eventually(t, func() bool { return out.Health().ErrorCount == 1 }, time.Second, 5*time.Millisecond)
}

func TestOutput_Lifecycle(t *testing.T) {
	out, err := NewOutput(Config{Addr: "127.0.0.1:0", Path: "/preview"}, component.Dependencies{})
	require.NoError(t, err)

	err = out.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Start(context.Background()))
	assert.True(t, out.Health().Healthy)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+out.Addr()+"/preview", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return out.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, out.Stop(2*time.Second))
	assert.False(t, out.Health().Healthy)
	assert.Zero(t, out.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestOutput_InitializeRequiresAddr(t *testing.T) {
	out, err := NewOutput(Config{}, component.Dependencies{})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Initialize(), errors.ErrInvalidConfig)
}

func TestOutput_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, srv := newTestOutput(t, component.Dependencies{MetricsRegistry: registry})

	conn := dial(t, out, wsURL(srv))
	readEnvelope(t, conn)
	require.NoError(t, out.Send(&media.Packet{Data: []byte("abc")}))
	readEnvelope(t, conn)

	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.clientsConnected))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(out.metrics.framesSent) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(out.metrics.clientsConnected) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues("early_disconnect")))
}

func TestOutput_Discovery(t *testing.T) {
	out, err := NewOutput(Config{PortID: port.AudioOutputID, Kind: media.StreamAudio, Addr: ":9000", Path: "/a"}, component.Dependencies{})
	require.NoError(t, err)

	in := out.InputPorts()
	require.Len(t, in, 1)
	assert.Equal(t, port.AudioOutputID, in[0].Name)
	assert.Equal(t, media.StreamAudio, in[0].Kind)

	outs := out.OutputPorts()
	require.Len(t, outs, 1)
	assert.Equal(t, "ws://:9000/a", outs[0].Subject)
	assert.Contains(t, out.ConfigSchema().Properties, "addr")
}

func TestOutput_CapsRequestsRateLimited(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, err := NewOutput(Config{Path: "/ws", CapsRate: 0.01, CapsBurst: 1}, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()
	defer func() { _ = out.Stop(2 * time.Second) }()

	var calls atomic.Int32
	out.OnCapsChange(func() { calls.Add(1) })

	conn := dial(t, out, wsURL(srv))
	readEnvelope(t, conn)

	replies := make([]string, 0, 2)
	for _, id := range []string{"first", "second"} {
		require.NoError(t, conn.WriteJSON(MessageEnvelope{Type: "caps", ID: id, Payload: []byte(`{"width": 640, "height": 360}`)}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var reply MessageEnvelope
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, id, reply.ID)
		replies = append(replies, reply.Type)
	}

	assert.Equal(t, []string{"ack", "error"}, replies)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.errorsTotal.WithLabelValues("rate_limited")))
}
