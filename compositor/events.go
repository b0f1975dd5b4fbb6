package compositor

import (
	"github.com/c360/mediacompose/media"
)

// Disposition tells the caller what became of a control signal.
type Disposition int

const (
	// Forward passes the signal upstream unmodified.
	Forward Disposition = iota
	// Accept consumes the signal.
	Accept
)

func (d Disposition) String() string {
	if d == Accept {
		return "accept"
	}
	return "forward"
}

// HandleEvent processes a control signal addressed to the compositor.
// Capability changes and connection failures on the audio output mean a
// realtime consumer took over, so the non-realtime flag is cleared.
func (c *Compositor) HandleEvent(evt media.Event) Disposition {
	switch evt.Type {
	case media.EventAttachScene:
		return Accept
	case media.EventCapsChange, media.EventConnectFail:
		if c.aout != nil && evt.PortID == c.aout.ID() && c.nonRealtime {
			c.nonRealtime = false
			c.mixer.SetNonRealtimeOutput(false)
			c.logger.Debug("Audio output switched to realtime", "event", evt.Type.String())
		}
	}
	return Forward
}
