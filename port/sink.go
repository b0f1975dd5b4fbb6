package port

import (
	"slices"
	"sync"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// Sink is an in-memory Output that records everything published to it.
// Downstream capability requests are injected with SetCaps.
type Sink struct {
	id   string
	kind media.StreamKind

	mu      sync.RWMutex
	props   media.Properties
	caps    media.Properties
	packets []*media.Packet
	eos     bool
	onCaps  func()
}

// NewSink creates an output port of the given kind.
func NewSink(id string, kind media.StreamKind) *Sink {
	return &Sink{
		id:    id,
		kind:  kind,
		props: media.Properties{},
		caps:  media.Properties{},
	}
}

func (s *Sink) ID() string             { return s.id }
func (s *Sink) Kind() media.StreamKind { return s.kind }

func (s *Sink) Properties() media.Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Clone()
}

func (s *Sink) SetProperty(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
}

func (s *Sink) QueryCaps() media.Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.Clone()
}

// SetCaps replaces the downstream capability request and fires the change
// callback, if any.
func (s *Sink) SetCaps(caps media.Properties) {
	s.mu.Lock()
	s.caps = caps.Clone()
	fn := s.onCaps
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnCapsChange registers the callback fired by SetCaps.
func (s *Sink) OnCapsChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCaps = fn
}

func (s *Sink) Send(pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eos {
		return errors.Wrap(errors.ErrEndOfStream, "Sink", "Send", "publish packet")
	}
	s.packets = append(s.packets, pkt)
	return nil
}

func (s *Sink) SetEOS() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eos = true
}

func (s *Sink) IsEOS() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eos
}

// Packets returns everything sent so far.
func (s *Sink) Packets() []*media.Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.packets)
}
