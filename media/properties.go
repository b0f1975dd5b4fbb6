package media

import (
	"maps"
	"strconv"
	"strings"
)

// Property keys carried by input ports, output ports and capability queries.
const (
	PropStreamKind    = "stream_kind"
	PropCodecID       = "codec_id"
	PropURL           = "url"
	PropESID          = "esid"
	PropInIOD         = "in_iod"
	PropWidth         = "width"
	PropHeight        = "height"
	PropPixelFormat   = "pixel_format"
	PropSampleRate    = "sample_rate"
	PropChannels      = "channels"
	PropAudioFormat   = "audio_format"
	PropChannelLayout = "channel_layout"
	PropTimescale     = "timescale"
	PropFPS           = "fps"
	PropDuration      = "duration"
	PropMaxBuffer     = "max_buffer"
	PropSource        = "source"
)

// Properties is a typed property bag. Values decoded from the wire may arrive
// as any integer width or as strings, so the typed getters are tolerant.
type Properties map[string]any

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	return maps.Clone(p)
}

// Has reports whether key is present.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Uint returns key as an unsigned integer.
func (p Properties) Uint(key string) (uint64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case float64:
		return uint64(n), n >= 0
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	}
	return 0, false
}

// Float returns key as a float.
func (p Properties) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	if u, ok := p.Uint(key); ok {
		return float64(u), true
	}
	if i, ok := v.(int64); ok {
		return float64(i), true
	}
	return 0, false
}

// String returns key as a string.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case StreamKind:
		return s.String(), true
	case CodecID:
		return string(s), true
	case PixelFormat:
		return string(s), true
	case AudioFormat:
		return string(s), true
	}
	return "", false
}

// Bool returns key as a boolean.
func (p Properties) Bool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	if u, ok := p.Uint(key); ok {
		return u != 0, true
	}
	return false, false
}

// StreamKind returns the declared stream kind. Names and numeric values are
// both accepted.
func (p Properties) StreamKind() (StreamKind, bool) {
	v, ok := p[PropStreamKind]
	if !ok {
		return StreamUnknown, false
	}
	if k, ok := v.(StreamKind); ok {
		return k, k != StreamUnknown
	}
	if s, ok := p.String(PropStreamKind); ok {
		k, err := ParseStreamKind(s)
		return k, err == nil
	}
	if u, ok := p.Uint(PropStreamKind); ok {
		k := StreamKind(u)
		_, known := streamKindNames[k]
		return k, known && k != StreamUnknown
	}
	return StreamUnknown, false
}

// CodecID returns the declared codec.
func (p Properties) CodecID() (CodecID, bool) {
	s, ok := p.String(PropCodecID)
	if !ok || s == "" {
		return "", false
	}
	return CodecID(strings.ToLower(s)), true
}

// PixelFormat returns the declared pixel format.
func (p Properties) PixelFormat() (PixelFormat, bool) {
	s, ok := p.String(PropPixelFormat)
	if !ok || s == "" {
		return "", false
	}
	return PixelFormat(strings.ToLower(s)), true
}

// AudioFormat returns the declared sample format.
func (p Properties) AudioFormat() (AudioFormat, bool) {
	s, ok := p.String(PropAudioFormat)
	if !ok || s == "" {
		return "", false
	}
	return AudioFormat(strings.ToLower(s)), true
}
