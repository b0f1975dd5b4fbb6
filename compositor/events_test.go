package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/mediacompose/config"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
)

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name        string
		evt         media.Event
		expected    Disposition
		nonRealtime bool
	}{
		{"attach scene accepted", media.Event{Type: media.EventAttachScene}, Accept, true},
		{"play forwarded", media.Event{Type: media.EventPlay, PortID: port.AudioOutputID}, Forward, true},
		{"caps change on audio", media.Event{Type: media.EventCapsChange, PortID: port.AudioOutputID}, Forward, false},
		{"connect fail on audio", media.Event{Type: media.EventConnectFail, PortID: port.AudioOutputID}, Forward, false},
		{"caps change on video", media.Event{Type: media.EventCapsChange, PortID: port.VisualOutputID}, Forward, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			assert.Equal(t, tt.expected, h.comp.HandleEvent(tt.evt))
			assert.Equal(t, tt.nonRealtime, h.comp.NonRealtimeOutput())
			if !tt.nonRealtime {
				assert.Equal(t, []bool{true, false}, h.mixer.nonRealtime)
			}
		})
	}
}

func TestHandleEvent_RealtimeSwitchHappensOnce(t *testing.T) {
	h := newHarness(t, nil)
	evt := media.Event{Type: media.EventCapsChange, PortID: port.AudioOutputID}

	h.comp.HandleEvent(evt)
	h.comp.HandleEvent(evt)
	assert.Equal(t, []bool{true, false}, h.mixer.nonRealtime)
}

func TestHandleEvent_PlayerStartsRealtime(t *testing.T) {
	h := newHarness(t, func(o *config.Options) { o.Player = true })
	assert.False(t, h.comp.NonRealtimeOutput())

	h.comp.HandleEvent(media.Event{Type: media.EventCapsChange, PortID: port.AudioOutputID})
	assert.Equal(t, []bool{false}, h.mixer.nonRealtime)
}

func TestDisposition_String(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "forward", Forward.String())
}
