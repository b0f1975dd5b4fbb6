package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// Size is a forced output size; zero means derived from the inputs.
type Size struct {
	Width  uint32 `json:"width" yaml:"width" toml:"width"`
	Height uint32 `json:"height" yaml:"height" toml:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// IsZero reports whether no size is forced.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Options is the compositor's option snapshot. It is read at initialization
// and again whenever a reload is requested.
type Options struct {
	AntiAlias  string `json:"aa" yaml:"aa" toml:"aa"`
	Background uint32 `json:"bc" yaml:"bc" toml:"bc"`

	FPS       media.Fraction    `json:"fps" yaml:"fps" toml:"fps"`
	Timescale uint32            `json:"timescale" yaml:"timescale" toml:"timescale"`
	AutoFPS   bool              `json:"autofps" yaml:"autofps" toml:"autofps"`
	VFR       bool              `json:"vfr" yaml:"vfr" toml:"vfr"`
	Duration  float64           `json:"dur" yaml:"dur" toml:"dur"`
	Player    bool              `json:"player" yaml:"player" toml:"player"`
	PixelFmt  media.PixelFormat `json:"opfmt" yaml:"opfmt" toml:"opfmt"`
	Size      Size              `json:"size" yaml:"size" toml:"size"`
	DropLate  bool              `json:"drop" yaml:"drop" toml:"drop"`

	AudioRate       uint32            `json:"asr" yaml:"asr" toml:"asr"`
	AudioChannels   uint32            `json:"ach" yaml:"ach" toml:"ach"`
	AudioLayout     uint64            `json:"alayout" yaml:"alayout" toml:"alayout"`
	AudioFormat     media.AudioFormat `json:"afmt" yaml:"afmt" toml:"afmt"`
	AudioPacketSize uint32            `json:"asize" yaml:"asize" toml:"asize"`
	AudioBufferMS   uint32            `json:"abuf" yaml:"abuf" toml:"abuf"`
	Volume          uint32            `json:"avol" yaml:"avol" toml:"avol"`
	Pan             uint32            `json:"apan" yaml:"apan" toml:"apan"`
	AudioResync     bool              `json:"async" yaml:"async" toml:"async"`
	NoAudio         bool              `json:"noaudio" yaml:"noaudio" toml:"noaudio"`

	BufferMS    uint32 `json:"buf" yaml:"buf" toml:"buf"`
	RebufferMS  uint32 `json:"rbuf" yaml:"rbuf" toml:"rbuf"`
	MaxBufferMS uint32 `json:"mbuf" yaml:"mbuf" toml:"mbuf"`
	TimeoutMS   uint32 `json:"timeout" yaml:"timeout" toml:"timeout"`

	Stereo string  `json:"stereo" yaml:"stereo" toml:"stereo"`
	Views  uint32  `json:"views" yaml:"views" toml:"views"`
	FOV    float64 `json:"fov" yaml:"fov" toml:"fov"`
}

// DefaultOptions returns the documented option defaults.
func DefaultOptions() Options {
	return Options{
		AntiAlias:       "all",
		FPS:             media.Fraction{Num: 30, Den: 1},
		AutoFPS:         true,
		AudioFormat:     media.AudioS16,
		AudioPacketSize: 1024,
		AudioBufferMS:   50,
		Volume:          100,
		Pan:             50,
		AudioResync:     true,
		BufferMS:        3000,
		RebufferMS:      1000,
		MaxBufferMS:     3000,
		TimeoutMS:       10000,
		Stereo:          "none",
		FOV:             math.Pi / 2,
	}
}

var (
	antiAliasModes = []string{"none", "text", "all"}
	stereoModes    = []string{"none", "top", "side", "hmd", "custom", "cols", "rows", "anaglyph", "spv5", "alioscopy"}
)

// Validate checks option ranges. It returns an invalid-class error naming the
// first offending option.
func (o Options) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"Options", "Validate", "check options")
	}

	if !contains(antiAliasModes, o.AntiAlias) {
		return invalid("aa: unknown mode %q", o.AntiAlias)
	}
	if o.FPS.Num == 0 || o.FPS.Den == 0 {
		return invalid("fps: %s is not a valid rate", o.FPS)
	}
	if math.IsNaN(o.Duration) || math.IsInf(o.Duration, 0) {
		return invalid("dur: must be finite")
	}
	if (o.Size.Width == 0) != (o.Size.Height == 0) {
		return invalid("size: %s must set both dimensions or neither", o.Size)
	}
	if o.AudioFormat == "" {
		return invalid("afmt: must be set")
	}
	if o.AudioPacketSize == 0 {
		return invalid("asize: must be positive")
	}
	if o.Pan > 100 {
		return invalid("apan: %d exceeds 100", o.Pan)
	}
	if o.MaxBufferMS < o.BufferMS {
		return invalid("mbuf: %d must not be lower than buf %d", o.MaxBufferMS, o.BufferMS)
	}
	if !contains(stereoModes, o.Stereo) {
		return invalid("stereo: unknown mode %q", o.Stereo)
	}
	if o.FOV <= 0 || o.FOV >= 2*math.Pi {
		return invalid("fov: %f out of range", o.FOV)
	}
	return nil
}

// WithUpdates returns o with every runtime-updatable option taken from next.
// Options fixed at initialization keep their current value.
func (o Options) WithUpdates(next Options) Options {
	out := next
	out.AutoFPS = o.AutoFPS
	out.VFR = o.VFR
	out.Player = o.Player
	out.PixelFmt = o.PixelFmt
	out.AudioRate = o.AudioRate
	out.AudioChannels = o.AudioChannels
	out.AudioLayout = o.AudioLayout
	out.AudioFormat = o.AudioFormat
	out.AudioPacketSize = o.AudioPacketSize
	out.AudioBufferMS = o.AudioBufferMS
	out.NoAudio = o.NoAudio
	return out
}

func contains(set []string, v string) bool {
	v = strings.ToLower(v)
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// OptionInfo documents one option.
type OptionInfo struct {
	Name        string
	Type        string
	Default     string
	Updatable   bool
	Description string
}

// Reference lists every option with its default and whether it can change at
// runtime.
func Reference() []OptionInfo {
	d := DefaultOptions()
	return []OptionInfo{
		{"aa", "enum", d.AntiAlias, true, "anti-aliasing mode (none|text|all)"},
		{"bc", "uint", fmt.Sprint(d.Background), true, "background color for content without composition instructions"},
		{"fps", "fraction", d.FPS.String(), true, "simulation frame rate when no video drives the output"},
		{"timescale", "uint", fmt.Sprint(d.Timescale), true, "output timescale, 0 uses the fps numerator"},
		{"autofps", "bool", fmt.Sprint(d.AutoFPS), false, "use the video input frame rate for output"},
		{"vfr", "bool", fmt.Sprint(d.VFR), false, "only emit frames when changes are detected"},
		{"dur", "float", fmt.Sprint(d.Duration), true, "generation duration: negative frames, positive seconds, 0 until all streams are done"},
		{"player", "bool", fmt.Sprint(d.Player), false, "interactive mode with a live consumer driving the clock"},
		{"opfmt", "pixfmt", "rgb", false, "output pixel format"},
		{"size", "WxH", d.Size.String(), true, "forced output size, 0x0 derives it from the inputs"},
		{"drop", "bool", fmt.Sprint(d.DropLate), true, "drop late frames when drawing"},
		{"asr", "uint", fmt.Sprint(d.AudioRate), false, "forced output sample rate, 0 for auto"},
		{"ach", "uint", fmt.Sprint(d.AudioChannels), false, "forced output channels, 0 for auto"},
		{"alayout", "uint", fmt.Sprint(d.AudioLayout), false, "forced channel layout, 0 for auto"},
		{"afmt", "pcmfmt", string(d.AudioFormat), false, "output sample format"},
		{"asize", "uint", fmt.Sprint(d.AudioPacketSize), false, "audio output packet size in samples"},
		{"abuf", "uint", fmt.Sprint(d.AudioBufferMS), false, "audio output buffer in ms"},
		{"avol", "uint", fmt.Sprint(d.Volume), true, "audio volume in percent"},
		{"apan", "uint", fmt.Sprint(d.Pan), true, "audio pan in percent, 50 is centered"},
		{"async", "bool", fmt.Sprint(d.AudioResync), true, "audio resynchronization"},
		{"noaudio", "bool", fmt.Sprint(d.NoAudio), false, "do not declare an audio output"},
		{"buf", "uint", fmt.Sprint(d.BufferMS), true, "playout buffer in ms"},
		{"rbuf", "uint", fmt.Sprint(d.RebufferMS), true, "rebuffer trigger in ms"},
		{"mbuf", "uint", fmt.Sprint(d.MaxBufferMS), true, "max buffer in ms, not lower than buf"},
		{"timeout", "uint", fmt.Sprint(d.TimeoutMS), true, "ms after which a source is considered dead"},
		{"stereo", "enum", d.Stereo, true, "stereo output type"},
		{"views", "uint", fmt.Sprint(d.Views), true, "number of views in stereo mode"},
		{"fov", "float", fmt.Sprintf("%.6f", d.FOV), true, "default VR field of view in radians"},
	}
}
