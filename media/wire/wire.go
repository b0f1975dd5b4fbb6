// Package wire encodes packets, end-of-stream markers and capability
// requests as msgpack envelopes for the NATS and WebSocket transports.
package wire

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// Kind tells what an envelope carries.
type Kind uint8

const (
	// KindPacket carries one media packet.
	KindPacket Kind = iota + 1
	// KindEOS marks the end of the stream. No packet follows.
	KindEOS
	// KindProperties updates stream properties without payload.
	KindProperties
	// KindCaps is a downstream capability request for an output port.
	KindCaps
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindEOS:
		return "eos"
	case KindProperties:
		return "properties"
	case KindCaps:
		return "caps"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Envelope is the unit exchanged on the wire.
type Envelope struct {
	Kind       Kind           `msgpack:"k"`
	Port       string         `msgpack:"port,omitempty"`
	Sequence   uint64         `msgpack:"seq,omitempty"`
	PTS        int64          `msgpack:"pts,omitempty"`
	Duration   int64          `msgpack:"dur,omitempty"`
	Data       []byte         `msgpack:"data,omitempty"`
	Properties map[string]any `msgpack:"props,omitempty"`
}

// FromPacket wraps pkt in a packet envelope.
func FromPacket(pkt *media.Packet) Envelope {
	return Envelope{
		Kind:       KindPacket,
		Port:       pkt.PortID,
		Sequence:   pkt.Sequence,
		PTS:        int64(pkt.PTS),
		Duration:   int64(pkt.Duration),
		Data:       pkt.Data,
		Properties: EncodeProperties(pkt.Properties),
	}
}

// Packet rebuilds the media packet carried by e.
func (e Envelope) Packet() *media.Packet {
	return &media.Packet{
		PortID:     e.Port,
		Sequence:   e.Sequence,
		PTS:        time.Duration(e.PTS),
		Duration:   time.Duration(e.Duration),
		Data:       e.Data,
		Properties: DecodeProperties(e.Properties),
	}
}

// Marshal encodes e.
func Marshal(e Envelope) ([]byte, error) {
	if e.Kind < KindPacket || e.Kind > KindCaps {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "wire", "Marshal", "unknown envelope kind "+e.Kind.String())
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "wire", "Marshal", "encode envelope")
	}
	return data, nil
}

// Unmarshal decodes an envelope and checks its kind.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) == 0 {
		return e, errors.WrapInvalid(errors.ErrInvalidData, "wire", "Unmarshal", "empty envelope")
	}
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return e, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "wire", "Unmarshal", "decode envelope")
	}
	if e.Kind < KindPacket || e.Kind > KindCaps {
		return e, errors.WrapInvalid(errors.ErrInvalidData, "wire", "Unmarshal", "unknown envelope kind "+e.Kind.String())
	}
	return e, nil
}

// EncodeProperties flattens typed property values into msgpack-native ones.
func EncodeProperties(p media.Properties) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case media.StreamKind:
			out[k] = val.String()
		case media.CodecID:
			out[k] = string(val)
		case media.PixelFormat:
			out[k] = string(val)
		case media.AudioFormat:
			out[k] = string(val)
		case media.Fraction:
			out[k] = val.String()
		case time.Duration:
			out[k] = int64(val)
		default:
			out[k] = v
		}
	}
	return out
}

// DecodeProperties restores the typed values the compositor compares by
// identity. Everything else is read through the tolerant getters.
func DecodeProperties(m map[string]any) media.Properties {
	p := make(media.Properties, len(m))
	for k, v := range m {
		p[k] = v
	}
	if kind, ok := p.StreamKind(); ok {
		p[media.PropStreamKind] = kind
	}
	if codec, ok := p.CodecID(); ok {
		p[media.PropCodecID] = codec
	}
	if fps, ok := p.String(media.PropFPS); ok {
		if f, err := media.ParseFraction(fps); err == nil {
			p[media.PropFPS] = f
		}
	}
	return p
}
