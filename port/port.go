// Package port defines the port contracts the compositor polls and publishes
// to, in-memory implementations of both, and the stream registry.
package port

import (
	"github.com/c360/mediacompose/media"
)

// Input is an upstream port feeding the compositor. Implementations must be
// safe for a producer goroutine writing while the compositor polls.
type Input interface {
	ID() string
	// Properties returns a snapshot of the port's declared properties.
	Properties() media.Properties
	// Peek returns the next queued packet without consuming it.
	Peek() (*media.Packet, bool)
	// Drop discards the packet returned by the last Peek.
	Drop()
	// IsEOS reports whether the producer signalled end of stream.
	IsEOS() bool
	// SendEvent delivers a control signal upstream.
	SendEvent(evt media.Event)
	// HasUpstream reports whether source appears in the port's producer chain.
	HasUpstream(source string) bool
}

// Output is a port published by the compositor.
type Output interface {
	ID() string
	Kind() media.StreamKind
	Properties() media.Properties
	SetProperty(key string, value any)
	// QueryCaps returns the capabilities requested by downstream consumers.
	// Keys absent from the result carry no constraint.
	QueryCaps() media.Properties
	Send(pkt *media.Packet) error
	SetEOS()
	IsEOS() bool
}

// Standard output port identifiers.
const (
	VisualOutputID = "vout"
	AudioOutputID  = "aout"
)
