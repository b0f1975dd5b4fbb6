package compositor

import (
	"time"

	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

// Frame reports the outcome of one DrawFrame call.
type Frame struct {
	// Emitted is set when a frame was pushed to the visual output.
	Emitted bool
	// Clock is the scene clock sampled for the frame.
	Clock time.Duration
	// NextWakeup is the advisory delay before drawing is meaningful again.
	NextWakeup time.Duration
}

// Renderer drives the presentation tree into output frames.
type Renderer interface {
	// SetScene binds the active composition; nil unbinds it.
	SetScene(s *scene.Scene)
	ResetGraph(s *scene.Scene)
	// Regenerate re-derives the default composition of a dynamic scene.
	Regenerate(s *scene.Scene)
	ForceSizeToVideo(s *scene.Scene, obj *scene.Object)
	DrawFrame() (Frame, error)
	// EndOfScene reports that the active composition has nothing left to present.
	EndOfScene() bool
	ReloadConfig(opts config.Options)
}

// ObjectManager owns per-object decoding and clock resources.
type ObjectManager interface {
	// Setup starts playback of a freshly inserted object fed by in.
	Setup(obj *scene.Object, in port.Input)
	Disconnect(obj *scene.Object)
	// UpdateDuration refreshes duration and clock state after a reconfiguration.
	UpdateDuration(obj *scene.Object, in port.Input)
	OnEOS(obj *scene.Object, in port.Input)
	// ProcessSystems consumes one scene or object-descriptor command unit.
	ProcessSystems(obj *scene.Object, pkt *media.Packet) error
}

// Mixer is the audio mixing engine's configuration surface.
type Mixer interface {
	Config() media.AudioConfig
	SetConfig(cfg media.AudioConfig)
	// RequestReconfigure makes the audio path pick up the mixer configuration
	// on its next cycle.
	RequestReconfigure()
	SetNonRealtimeOutput(enabled bool)
}

// Collaborators bundles the subsystems the compositor delegates to.
type Collaborators struct {
	Renderer Renderer
	Objects  ObjectManager
	Mixer    Mixer
}
