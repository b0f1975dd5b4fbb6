package scene

import (
	"time"

	"github.com/c360/mediacompose/media"
)

// ObjectMode classifies how an object's samples are composed.
type ObjectMode int

const (
	// ObjectNormal objects follow the scene's composition rules.
	ObjectNormal ObjectMode = iota
	// ObjectPassthrough objects bypass default composition.
	ObjectPassthrough
)

func (m ObjectMode) String() string {
	if m == ObjectPassthrough {
		return "passthrough"
	}
	return "normal"
}

// Object is one elementary stream bound into the tree.
type Object struct {
	ID     uint32
	Kind   media.StreamKind
	Codec  media.CodecID
	PortID string

	// Scene is the scene owning this object; nil for a root scene's implicit object.
	Scene *Scene
	// SubScene is the nested presentation this object carries, if any.
	SubScene  *Scene
	Namespace *Namespace
	Clock     *Clock

	IODBound      bool
	ConfigChanged bool
	Duration      time.Duration

	mode ObjectMode
}

// Mode returns the object's composition mode.
func (o *Object) Mode() ObjectMode { return o.mode }

// Passthrough reports whether the object bypasses default composition.
func (o *Object) Passthrough() bool { return o.mode == ObjectPassthrough }

// MarkPassthrough moves the object to passthrough and reports whether that
// changed anything. Passthrough is terminal.
func (o *Object) MarkPassthrough() bool {
	if o.mode == ObjectPassthrough {
		return false
	}
	o.mode = ObjectPassthrough
	return true
}

// Clock is a media timeline shared by every object of a namespace.
type Clock struct {
	ID  uint32
	now time.Duration
	eos bool
}

// Now returns the current media time.
func (c *Clock) Now() time.Duration { return c.now }

// Advance moves the clock forward by d; negative steps are ignored.
func (c *Clock) Advance(d time.Duration) {
	if d > 0 {
		c.now += d
	}
}

// Set moves the clock to t if t is later than the current time.
func (c *Clock) Set(t time.Duration) {
	if t > c.now {
		c.now = t
	}
}

// MarkEOS records that a stream driving the clock ended.
func (c *Clock) MarkEOS() { c.eos = true }

// EOS reports whether a stream driving the clock ended.
func (c *Clock) EOS() bool { return c.eos }
