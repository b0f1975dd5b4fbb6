package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

func TestDefaultOptions_Valid(t *testing.T) {
	o := DefaultOptions()
	require.NoError(t, o.Validate())
	assert.Equal(t, media.Fraction{Num: 30, Den: 1}, o.FPS)
	assert.Equal(t, uint32(100), o.Volume)
	assert.Equal(t, uint32(50), o.Pan)
	assert.Zero(t, o.Duration)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"anti-alias", func(o *Options) { o.AntiAlias = "max" }},
		{"zero fps", func(o *Options) { o.FPS = media.Fraction{Num: 0, Den: 1} }},
		{"half size", func(o *Options) { o.Size = Size{Width: 640} }},
		{"no audio format", func(o *Options) { o.AudioFormat = "" }},
		{"zero packet size", func(o *Options) { o.AudioPacketSize = 0 }},
		{"pan", func(o *Options) { o.Pan = 101 }},
		{"max buffer below buffer", func(o *Options) { o.MaxBufferMS = o.BufferMS - 1 }},
		{"stereo", func(o *Options) { o.Stereo = "3d" }},
		{"fov", func(o *Options) { o.FOV = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestOptions_WithUpdates(t *testing.T) {
	cur := DefaultOptions()
	next := DefaultOptions()
	next.Player = true
	next.NoAudio = true
	next.AudioRate = 8000
	next.Volume = 5
	next.Duration = -10
	next.Size = Size{Width: 320, Height: 240}

	got := cur.WithUpdates(next)
	assert.False(t, got.Player)
	assert.False(t, got.NoAudio)
	assert.Zero(t, got.AudioRate)
	assert.Equal(t, uint32(5), got.Volume)
	assert.Equal(t, -10.0, got.Duration)
	assert.Equal(t, "320x240", got.Size.String())
}

func TestReference(t *testing.T) {
	ref := Reference()
	names := make(map[string]OptionInfo, len(ref))
	for _, info := range ref {
		assert.NotContains(t, names, info.Name, "duplicate option %s", info.Name)
		names[info.Name] = info
	}
	assert.True(t, names["dur"].Updatable)
	assert.False(t, names["player"].Updatable)
	assert.Equal(t, "30/1", names["fps"].Default)
}
