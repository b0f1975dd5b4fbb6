package scene

import (
	"slices"

	"github.com/c360/mediacompose/media"
)

// Mode is the authoring model of a scene.
type Mode int

const (
	// ModeDynamic scenes are composited by default rules.
	ModeDynamic Mode = iota
	// ModeAuthored scenes are driven by an explicit description.
	ModeAuthored
)

func (m Mode) String() string {
	if m == ModeAuthored {
		return "authored"
	}
	return "dynamic"
}

// Role names a default-composition slot of a dynamic scene.
type Role int

const (
	RoleVisual Role = iota
	RoleAudio
	RoleText
	RoleAux
	roleCount
)

func (r Role) String() string {
	return [...]string{"visual", "audio", "text", "aux"}[r]
}

// RoleFor maps a stream kind onto the slot it fills by default.
func RoleFor(kind media.StreamKind) (Role, bool) {
	switch kind {
	case media.StreamVisual:
		return RoleVisual, true
	case media.StreamAudio:
		return RoleAudio, true
	case media.StreamText:
		return RoleText, true
	case media.StreamOther:
		return RoleAux, true
	}
	return 0, false
}

// Scene is a node of the presentation tree.
type Scene struct {
	mode Mode
	VR   VRMode

	// Parent is nil for the root scene.
	Parent *Scene
	// RootObject is the object this scene is bound to. For the root scene it
	// is an implicit object that belongs to no scene.
	RootObject *Object
	Namespaces []*Namespace

	objects    []*Object
	slots      [roleCount]uint32
	graphEpoch uint64
}

func newScene(parent *Scene, mode Mode) *Scene {
	return &Scene{mode: mode, Parent: parent}
}

// Mode returns the scene's authoring model.
func (s *Scene) Mode() Mode { return s.mode }

// Dynamic reports whether the scene is composited by default rules.
func (s *Scene) Dynamic() bool { return s.mode == ModeDynamic }

// MarkAuthored moves a dynamic scene to authored and reports whether the mode
// changed. There is no way back to dynamic.
func (s *Scene) MarkAuthored() bool {
	if s.mode == ModeAuthored {
		return false
	}
	s.mode = ModeAuthored
	return true
}

// IsRoot reports whether s is the tree root.
func (s *Scene) IsRoot() bool { return s.Parent == nil }

// Owner returns the object owning a nested scene, or nil for the root.
func (s *Scene) Owner() *Object {
	if s.IsRoot() {
		return nil
	}
	return s.RootObject
}

// Namespace returns the namespace of the scene's root object.
func (s *Scene) Namespace() *Namespace {
	if s.RootObject == nil {
		return nil
	}
	return s.RootObject.Namespace
}

// SwapNamespace replaces the root object's namespace and returns the old one.
func (s *Scene) SwapNamespace(ns *Namespace) *Namespace {
	old := s.RootObject.Namespace
	s.RootObject.Namespace = ns
	return old
}

// Objects returns the scene's objects in insertion order.
func (s *Scene) Objects() []*Object { return slices.Clone(s.objects) }

// Len returns the number of objects.
func (s *Scene) Len() int { return len(s.objects) }

// Insert binds obj to the scene under ns.
func (s *Scene) Insert(obj *Object, ns *Namespace, iodBound bool) {
	obj.Scene = s
	obj.Namespace = ns
	obj.IODBound = iodBound
	if ns != nil {
		if ns.Clock == nil {
			ns.Clock = &Clock{ID: obj.ID}
		}
		obj.Clock = ns.Clock
	}
	s.objects = append(s.objects, obj)
}

// Remove detaches obj and reports whether it was present.
func (s *Scene) Remove(obj *Object) bool {
	idx := slices.Index(s.objects, obj)
	if idx < 0 {
		return false
	}
	s.objects = slices.Delete(s.objects, idx, idx+1)
	obj.Scene = nil
	return true
}

// Find returns the object with the given id.
func (s *Scene) Find(id uint32) *Object {
	for _, o := range s.objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Slot returns the object id designated for role, zero if none.
func (s *Scene) Slot(r Role) uint32 { return s.slots[r] }

// SetSlot designates object id for role.
func (s *Scene) SetSlot(r Role, id uint32) { s.slots[r] = id }

// ClearSlotsFor empties every slot pointing at id and reports whether any did.
func (s *Scene) ClearSlotsFor(id uint32) bool {
	if id == 0 {
		return false
	}
	cleared := false
	for r := range s.slots {
		if s.slots[r] == id {
			s.slots[r] = 0
			cleared = true
		}
	}
	return cleared
}

// AssignDefaultSlots fills empty or stale role slots with the first eligible
// object of the matching kind. Passthrough objects are never selected.
func (s *Scene) AssignDefaultSlots() {
	for r := range s.slots {
		if id := s.slots[r]; id != 0 && s.Find(id) == nil {
			s.slots[r] = 0
		}
	}
	for _, o := range s.objects {
		if o.Passthrough() {
			continue
		}
		r, ok := RoleFor(o.Kind)
		if ok && s.slots[r] == 0 {
			s.slots[r] = o.ID
		}
	}
}

// ResetGraph discards the derived presentation graph. Role slots are cleared
// and the graph epoch advances.
func (s *Scene) ResetGraph() {
	s.slots = [roleCount]uint32{}
	s.graphEpoch++
}

// GraphEpoch counts graph resets.
func (s *Scene) GraphEpoch() uint64 { return s.graphEpoch }

// Walk visits s and every nested scene depth first.
func (s *Scene) Walk(fn func(*Scene)) {
	fn(s)
	for _, o := range s.objects {
		if o.SubScene != nil && o.SubScene != s {
			o.SubScene.Walk(fn)
		}
	}
}
