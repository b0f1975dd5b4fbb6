package compositor

import (
	"fmt"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
)

// RenegotiateOutput applies the capabilities a downstream consumer requested
// on one of the compositor's own outputs. Audio renegotiation is idempotent:
// a request matching the mixer configuration changes nothing.
func (c *Compositor) RenegotiateOutput(out port.Output) error {
	if !c.initialized || out == nil {
		return errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "RenegotiateOutput", "check instance")
	}

	switch {
	case c.vout != nil && out.ID() == c.vout.ID():
		c.renegotiateVisual(out.QueryCaps())
		c.metrics.recordRenegotiation(port.VisualOutputID, true)
		return nil
	case c.aout != nil && out.ID() == c.aout.ID():
		changed := c.renegotiateAudio(out.QueryCaps())
		c.metrics.recordRenegotiation(port.AudioOutputID, changed)
		return nil
	}
	return errors.Unsupported("Compositor", "RenegotiateOutput", "output %s is not owned by %s", out.ID(), c.name)
}

func (c *Compositor) renegotiateVisual(caps media.Properties) {
	if pf, ok := caps.PixelFormat(); ok {
		c.opts.PixelFmt = pf
		c.vout.SetProperty(media.PropPixelFormat, pf)
	}

	w, _ := caps.Uint(media.PropWidth)
	h, _ := caps.Uint(media.PropHeight)
	if w != 0 && h != 0 {
		c.opts.Size.Width = uint32(w)
		c.opts.Size.Height = uint32(h)
		c.vout.SetProperty(media.PropWidth, uint32(w))
		c.vout.SetProperty(media.PropHeight, uint32(h))
	}
	c.logger.Debug("Visual output renegotiated",
		"pixel_format", string(c.opts.PixelFmt), "size", c.opts.Size.String())
}

// renegotiateAudio reports whether the mixer was reconfigured.
func (c *Compositor) renegotiateAudio(caps media.Properties) bool {
	current := c.mixer.Config()
	next := current
	needsReconfigure := false

	if sr, ok := caps.Uint(media.PropSampleRate); ok && uint32(sr) != current.SampleRate {
		next.SampleRate = uint32(sr)
		needsReconfigure = true
	}
	if ch, ok := caps.Uint(media.PropChannels); ok && uint32(ch) != current.Channels {
		next.Channels = uint32(ch)
		needsReconfigure = true
	}
	afmt, ok := caps.AudioFormat()
	if !ok {
		afmt = media.AudioS16
	}
	if afmt != current.Format {
		next.Format = afmt
		needsReconfigure = true
	}
	if !needsReconfigure {
		return false
	}

	next.Layout = 0
	c.mixer.SetConfig(next)
	c.mixer.RequestReconfigure()
	c.publishAudio(next)
	c.logger.Info(fmt.Sprintf("Audio output caps negotiated to %s", next))
	return true
}
