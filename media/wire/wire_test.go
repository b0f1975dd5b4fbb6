package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

func TestPacketEnvelope(t *testing.T) {
	pkt := &media.Packet{
		PortID:   "vout",
		Sequence: 7,
		PTS:      40 * time.Millisecond,
		Duration: 40 * time.Millisecond,
		Data:     []byte{1, 2, 3},
		Properties: media.Properties{
			media.PropStreamKind:  media.StreamVisual,
			media.PropCodecID:     media.CodecRaw,
			media.PropPixelFormat: media.PixelRGBA,
			media.PropWidth:       uint32(640),
			media.PropFPS:         media.Fraction{Num: 25, Den: 1},
			media.PropMaxBuffer:   50 * time.Millisecond,
		},
	}

	data, err := Marshal(FromPacket(pkt))
	require.NoError(t, err)

	env, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, KindPacket, env.Kind)

	got := env.Packet()
	assert.Equal(t, "vout", got.PortID)
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, 40*time.Millisecond, got.PTS)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)

	kind, ok := got.Properties.StreamKind()
	require.True(t, ok)
	assert.Equal(t, media.StreamVisual, kind)
	assert.Equal(t, media.StreamVisual, got.Properties[media.PropStreamKind])
	assert.Equal(t, media.CodecRaw, got.Properties[media.PropCodecID])
	assert.Equal(t, media.Fraction{Num: 25, Den: 1}, got.Properties[media.PropFPS])

	pf, ok := got.Properties.PixelFormat()
	require.True(t, ok)
	assert.Equal(t, media.PixelRGBA, pf)

	w, ok := got.Properties.Uint(media.PropWidth)
	require.True(t, ok)
	assert.Equal(t, uint64(640), w)

	buf, ok := got.Properties.Uint(media.PropMaxBuffer)
	require.True(t, ok)
	assert.Equal(t, uint64(50*time.Millisecond), buf)
}

func TestCapsEnvelope(t *testing.T) {
	data, err := Marshal(Envelope{
		Kind: KindCaps,
		Properties: EncodeProperties(media.Properties{
			media.PropSampleRate:  48000,
			media.PropChannels:    6,
			media.PropAudioFormat: media.AudioF32,
		}),
	})
	require.NoError(t, err)

	env, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, KindCaps, env.Kind)

	caps := DecodeProperties(env.Properties)
	rate, ok := caps.Uint(media.PropSampleRate)
	require.True(t, ok)
	assert.Equal(t, uint64(48000), rate)
	format, ok := caps.AudioFormat()
	require.True(t, ok)
	assert.Equal(t, media.AudioF32, format)
}

func TestEOSEnvelope(t *testing.T) {
	data, err := Marshal(Envelope{Kind: KindEOS, Port: "aout"})
	require.NoError(t, err)
	env, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, KindEOS, env.Kind)
	assert.Empty(t, env.Properties)
}

func TestUnmarshal_Rejects(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Unmarshal([]byte{0xc1})
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, errors.IsInvalid(err))

	raw, err := msgpack.Marshal(map[string]any{"k": 42})
	require.NoError(t, err)
	_, err = Unmarshal(raw)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Marshal(Envelope{})
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "packet", KindPacket.String())
	assert.Equal(t, "caps", KindCaps.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
