package port

import (
	stderrors "errors"
	"sync"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// CapsNotifier is implemented by outputs whose downstream consumers can change
// their capability request.
type CapsNotifier interface {
	OnCapsChange(fn func())
}

// FailureNotifier is implemented by outputs that can tell when their
// downstream connection failed.
type FailureNotifier interface {
	OnConnectFail(fn func())
}

// Tee is an Output fanning every packet out to a set of transport outputs.
// With no targets it discards what it receives.
type Tee struct {
	id      string
	kind    media.StreamKind
	targets []Output

	mu    sync.RWMutex
	props media.Properties
	eos   bool
}

// NewTee creates the output id forwarding to targets.
func NewTee(id string, kind media.StreamKind, targets ...Output) *Tee {
	return &Tee{
		id:      id,
		kind:    kind,
		targets: targets,
		props:   media.Properties{},
	}
}

func (t *Tee) ID() string             { return t.id }
func (t *Tee) Kind() media.StreamKind { return t.kind }

func (t *Tee) Properties() media.Properties {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.props.Clone()
}

func (t *Tee) SetProperty(key string, value any) {
	t.mu.Lock()
	t.props[key] = value
	t.mu.Unlock()
	for _, o := range t.targets {
		o.SetProperty(key, value)
	}
}

// QueryCaps merges the requests of every target. The first target requesting
// a key decides it.
func (t *Tee) QueryCaps() media.Properties {
	caps := media.Properties{}
	for _, o := range t.targets {
		for k, v := range o.QueryCaps() {
			if _, set := caps[k]; !set {
				caps[k] = v
			}
		}
	}
	return caps
}

func (t *Tee) Send(pkt *media.Packet) error {
	if t.IsEOS() {
		return errors.Wrap(errors.ErrEndOfStream, "Tee", "Send", "publish packet")
	}
	var errs []error
	for _, o := range t.targets {
		if err := o.Send(pkt); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (t *Tee) SetEOS() {
	t.mu.Lock()
	t.eos = true
	t.mu.Unlock()
	for _, o := range t.targets {
		o.SetEOS()
	}
}

func (t *Tee) IsEOS() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.eos
}

// OnCapsChange registers fn with every target able to report caps changes.
func (t *Tee) OnCapsChange(fn func()) {
	for _, o := range t.targets {
		if n, ok := o.(CapsNotifier); ok {
			n.OnCapsChange(fn)
		}
	}
}

// OnConnectFail registers fn with every target able to report connection
// failures.
func (t *Tee) OnConnectFail(fn func()) {
	for _, o := range t.targets {
		if n, ok := o.(FailureNotifier); ok {
			n.OnConnectFail(fn)
		}
	}
}

// Targets returns the outputs t forwards to.
func (t *Tee) Targets() []Output {
	return append([]Output(nil), t.targets...)
}
