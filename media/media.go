// Package media defines the vocabulary shared by ports, the presentation tree
// and the compositor: stream kinds, codecs, formats, typed properties, packets
// and control events.
package media

import (
	"fmt"
	"strings"
	"time"
)

// StreamKind identifies what an elementary stream carries.
type StreamKind int

const (
	StreamUnknown StreamKind = iota
	StreamScene
	StreamObjectDescriptor
	StreamVisual
	StreamAudio
	StreamText
	StreamOther
)

var streamKindNames = map[StreamKind]string{
	StreamUnknown:          "unknown",
	StreamScene:            "scene",
	StreamObjectDescriptor: "od",
	StreamVisual:           "visual",
	StreamAudio:            "audio",
	StreamText:             "text",
	StreamOther:            "other",
}

func (k StreamKind) String() string {
	if name, ok := streamKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsSystems reports whether the kind carries scene or object-descriptor commands
// rather than presentable media.
func (k StreamKind) IsSystems() bool {
	return k == StreamScene || k == StreamObjectDescriptor
}

// ParseStreamKind maps a stream kind name back to its value. Matching is
// case-insensitive; "objectdescriptor" is accepted as an alias for "od".
func ParseStreamKind(name string) (StreamKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "objectdescriptor" {
		return StreamObjectDescriptor, nil
	}
	for k, v := range streamKindNames {
		if v == n && k != StreamUnknown {
			return k, nil
		}
	}
	return StreamUnknown, fmt.Errorf("unknown stream kind %q", name)
}

// CodecID names the payload representation of a stream.
type CodecID string

// CodecRaw marks payloads not yet interpreted beyond their container format.
const CodecRaw CodecID = "raw"

// PixelFormat names a visual output pixel layout.
type PixelFormat string

const (
	PixelRGB    PixelFormat = "rgb"
	PixelRGBA   PixelFormat = "rgba"
	PixelBGRA   PixelFormat = "bgra"
	PixelYUV420 PixelFormat = "yuv420"
	PixelNV12   PixelFormat = "nv12"
)

// AudioFormat names a PCM sample format.
type AudioFormat string

const (
	AudioS16 AudioFormat = "s16"
	AudioS24 AudioFormat = "s24"
	AudioS32 AudioFormat = "s32"
	AudioF32 AudioFormat = "f32"
	AudioF64 AudioFormat = "f64"
	AudioU8  AudioFormat = "u8"
)

// AudioConfig is the mixer output configuration. Layout 0 means derived from
// the channel count.
type AudioConfig struct {
	SampleRate uint32
	Channels   uint32
	Format     AudioFormat
	Layout     uint64
}

func (c AudioConfig) String() string {
	return fmt.Sprintf("%d Hz %d channels %s", c.SampleRate, c.Channels, c.Format)
}

// Fraction is a rational frame rate.
type Fraction struct {
	Num uint32 `json:"num" yaml:"num" toml:"num"`
	Den uint32 `json:"den" yaml:"den" toml:"den"`
}

// Duration returns the time covered by one frame, or zero for an invalid rate.
func (f Fraction) Duration() time.Duration {
	if f.Num == 0 || f.Den == 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(f.Den) / int64(f.Num))
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// ParseFraction reads "num/den" or a bare integer rate.
func ParseFraction(s string) (Fraction, error) {
	var f Fraction
	if strings.Contains(s, "/") {
		if _, err := fmt.Sscanf(s, "%d/%d", &f.Num, &f.Den); err != nil {
			return Fraction{}, fmt.Errorf("invalid fraction %q: %w", s, err)
		}
	} else {
		if _, err := fmt.Sscanf(s, "%d", &f.Num); err != nil {
			return Fraction{}, fmt.Errorf("invalid fraction %q: %w", s, err)
		}
		f.Den = 1
	}
	if f.Num == 0 || f.Den == 0 {
		return Fraction{}, fmt.Errorf("invalid fraction %q: zero term", s)
	}
	return f, nil
}
