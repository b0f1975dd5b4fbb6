package media

import "time"

// Packet is one queued unit on a port.
type Packet struct {
	PortID   string
	Sequence uint64
	// Presentation timestamp relative to the stream start.
	PTS      time.Duration
	Duration time.Duration
	Data     []byte
	// Properties set on the port while this packet was in flight.
	Properties Properties
}

// EventType enumerates control signals exchanged with ports.
type EventType int

const (
	EventAttachScene EventType = iota + 1
	EventPlay
	EventStop
	EventCapsChange
	EventConnectFail
)

func (t EventType) String() string {
	switch t {
	case EventAttachScene:
		return "attach_scene"
	case EventPlay:
		return "play"
	case EventStop:
		return "stop"
	case EventCapsChange:
		return "caps_change"
	case EventConnectFail:
		return "connect_fail"
	default:
		return "unknown"
	}
}

// Event is a typed control signal targeting a port.
type Event struct {
	Type   EventType
	PortID string
	// ObjectID is set on attach-scene events to the bound media object.
	ObjectID uint32
}
