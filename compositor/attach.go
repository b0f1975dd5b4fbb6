package compositor

import (
	"slices"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
	"github.com/c360/mediacompose/port"
	"github.com/c360/mediacompose/scene"
)

// Configure attaches a new input port, applies a reconfiguration of an
// attached one, or detaches it when isRemoval is set. A port rejected with an
// unsupported error stays connected but unattached: no object or scene is
// created for it, and it may be configured again once its properties are
// corrected.
func (c *Compositor) Configure(in port.Input, isRemoval bool) error {
	if !c.initialized {
		return errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "Configure", "check instance")
	}
	if in == nil {
		return errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "Configure", "check port")
	}

	if isRemoval {
		c.detach(c.pres, in)
		c.metrics.recordRemoval()
		c.updateTreeMetrics()
		return nil
	}

	c.inputs.Connect(in)
	kind, err := c.attach(c.pres, in)
	c.metrics.recordAttach(kind, err)
	if err != nil {
		c.logger.Warn("Input rejected", "port", in.ID(), "kind", kind.String(), "error", err)
		return err
	}
	c.updateTreeMetrics()
	return nil
}

func (c *Compositor) attach(pc *PresentationContext, in port.Input) (media.StreamKind, error) {
	props := in.Properties()

	kind, ok := props.StreamKind()
	if !ok {
		return media.StreamUnknown, errors.Unsupported("Compositor", "Configure", "port %s declares no stream kind", in.ID())
	}
	codec, ok := props.CodecID()
	if !ok {
		return kind, errors.Unsupported("Compositor", "Configure", "port %s declares no codec", in.ID())
	}

	if obj, bound := c.inputs.Lookup(in.ID()); bound {
		return kind, c.reconfigure(in, obj, kind, props)
	}

	c.logger.Info("Configuring input", "port", in.ID(), "kind", kind.String(), "codec", string(codec))

	// Everything up to the commit below is read-only so a rejection leaves
	// the tree untouched.
	root := pc.Root()
	var plan scene.Plan
	if root != nil {
		plan = scene.Resolve(root, kind, in)
	}

	if codec != media.CodecRaw {
		return kind, errors.Unsupported("Compositor", "Configure", "codec %s on port %s is not raw", codec, in.ID())
	}
	hasESID := props.Has(media.PropESID)
	inIOD, _ := props.Bool(media.PropInIOD)
	if kind == media.StreamObjectDescriptor && !inIOD {
		return kind, errors.Unsupported("Compositor", "Configure", "object descriptor port %s is not IOD-bound", in.ID())
	}

	url, _ := props.String(media.PropURL)
	if root == nil {
		root, _ = pc.Tree().EnsureRoot(url)
		pc.Bind(root)
		plan = scene.Resolve(root, kind, in)
	}
	target := pc.Tree().Commit(plan)

	wasDynamic := target.Dynamic()
	if hasESID || inIOD {
		target.MarkAuthored()
	}
	flipped := wasDynamic != target.Dynamic()

	obj := pc.Tree().NewObject(kind, codec, in.ID())
	if flipped {
		c.swapNamespace(pc, target, obj, url)
	}

	target.Insert(obj, target.Namespace(), inIOD)
	c.inputs.Bind(in, obj)
	c.objects.Setup(obj, in)
	if kind.IsSystems() {
		c.systems = append(c.systems, systemsInput{in: in, obj: obj})
	}

	if flipped {
		marked := 0
		for _, other := range target.Objects() {
			if other != obj && other.MarkPassthrough() {
				marked++
			}
		}
		c.logger.Info("Scene switched to authored composition",
			"port", in.ID(), "passthrough_objects", marked)
	}

	if kind.IsSystems() {
		in.SendEvent(media.Event{Type: media.EventAttachScene, ObjectID: obj.ID})
	}

	if target.Dynamic() {
		if ns := target.Namespace(); ns != nil && scene.DetectVR(ns.Fragment) == scene.VR360 {
			target.VR = scene.VR360
		}
		c.renderer.Regenerate(target)
	}

	c.mergeOutputURL(props, kind, target)
	return kind, nil
}

// swapNamespace gives an authored scene a namespace of its own. The implicit
// namespace the scene used while dynamic is handed to obj, which now names
// the previously unnamed source.
func (c *Compositor) swapNamespace(pc *PresentationContext, target *scene.Scene, obj *scene.Object, url string) {
	fresh := pc.Tree().NewRootNamespace(url)
	old := target.Namespace()
	if old != nil && old.Owner == target.RootObject {
		for _, o := range target.Objects() {
			if o.Namespace == old {
				old.Owner = obj
				break
			}
		}
	}
	target.SwapNamespace(fresh)
	pc.Rebuild(target)
}

func (c *Compositor) reconfigure(in port.Input, obj *scene.Object, kind media.StreamKind, props media.Properties) error {
	if !kind.IsSystems() {
		if obj.Kind != kind {
			return errors.Unsupported("Compositor", "Configure",
				"port %s changed stream kind from %s to %s", in.ID(), obj.Kind, kind)
		}
		obj.ConfigChanged = true
		if kind == media.StreamVisual && obj.Scene != nil && obj.Scene.Dynamic() {
			c.renderer.ForceSizeToVideo(obj.Scene, obj)
		}
		c.objects.UpdateDuration(obj, in)
	}
	c.logger.Debug("Input reconfigured", "port", in.ID(), "object", obj.ID)
	c.mergeOutputURL(props, kind, obj.Scene)
	return nil
}

func (c *Compositor) detach(pc *PresentationContext, in port.Input) {
	obj, ok := c.inputs.Remove(in.ID())
	if !ok {
		return
	}

	if sub := obj.SubScene; sub != nil && sub != obj.Scene {
		n := c.teardown(pc, sub)
		obj.SubScene = nil
		c.logger.Info("Nested scene removed", "port", in.ID(), "objects", n)
	}
	c.untrackSystems(obj)
	pc.Tree().CloseOwnedBy(obj)

	owner := obj.Scene
	c.objects.Disconnect(obj)
	if owner == nil {
		return
	}
	owner.Remove(obj)
	if owner.Dynamic() && owner.ClearSlotsFor(obj.ID) {
		c.renderer.Regenerate(owner)
	}
	c.logger.Info("Input removed", "port", in.ID(), "object", obj.ID)
}

// teardown disconnects every object of the nested scene s, depth first. Their
// ports stay connected but unattached. It returns the number of objects
// removed.
func (c *Compositor) teardown(pc *PresentationContext, s *scene.Scene) int {
	n := 0
	for _, o := range s.Objects() {
		if o.SubScene != nil && o.SubScene != s {
			n += c.teardown(pc, o.SubScene)
			o.SubScene = nil
		}
		if o.PortID != "" {
			c.inputs.Detach(o.PortID)
		}
		c.untrackSystems(o)
		pc.Tree().CloseOwnedBy(o)
		c.objects.Disconnect(o)
		s.Remove(o)
		n++
	}
	return n
}

func (c *Compositor) untrackSystems(obj *scene.Object) {
	c.systems = slices.DeleteFunc(c.systems, func(s systemsInput) bool { return s.obj == obj })
}

// mergeOutputURL names the visual output after the stream that defines it:
// an authored scene description, or raw video shown by a dynamic scene.
func (c *Compositor) mergeOutputURL(props media.Properties, kind media.StreamKind, owner *scene.Scene) {
	if c.vout == nil {
		return
	}
	url, ok := props.String(media.PropURL)
	if !ok {
		return
	}
	switch {
	case kind == media.StreamScene && (owner == nil || !owner.Dynamic()):
		c.vout.SetProperty(media.PropURL, url)
	case kind == media.StreamVisual && owner != nil && owner.Dynamic():
		c.vout.SetProperty(media.PropURL, url)
	}
}

func (c *Compositor) updateTreeMetrics() {
	scenes, objects := c.pres.Tree().Counts()
	c.metrics.updateTree(scenes, objects)
}
