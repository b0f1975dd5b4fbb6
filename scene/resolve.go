package scene

import (
	"github.com/c360/mediacompose/media"
)

// Upstream answers whether a producer is an ancestor of a port.
type Upstream interface {
	HasUpstream(source string) bool
}

// Plan is the outcome of target resolution.
type Plan struct {
	// Target is the scene receiving the stream when no nested scene is needed.
	Target *Scene
	// CreateUnder asks Commit to materialize a nested scene owned by this object.
	CreateUnder *Object
}

// Dynamic reports whether the planned target is dynamic. Nested scenes are
// created authored.
func (p Plan) Dynamic() bool {
	if p.CreateUnder != nil {
		return false
	}
	return p.Target != nil && p.Target.Dynamic()
}

// Resolve selects the scene a new stream of kind belongs to by scanning the
// root scene's namespaces. It never mutates the tree.
func Resolve(root *Scene, kind media.StreamKind, in Upstream) Plan {
	for _, ns := range root.Namespaces {
		if ns.SourceFilter == "" {
			if ns.Acknowledged && ns.Owner != nil {
				return Plan{Target: sceneOf(root, ns.Owner)}
			}
			continue
		}
		if ns.Owner == nil || !in.HasUpstream(ns.SourceFilter) {
			continue
		}
		owner := ns.Owner
		if owner.SubScene == nil && kind.IsSystems() && owner.Scene != nil {
			return Plan{Target: owner.Scene, CreateUnder: owner}
		}
		return Plan{Target: sceneOf(root, owner)}
	}
	return Plan{Target: root}
}

func sceneOf(root *Scene, owner *Object) *Scene {
	switch {
	case owner.SubScene != nil:
		return owner.SubScene
	case owner.Scene != nil:
		return owner.Scene
	default:
		return root
	}
}

// Commit applies p and returns the scene the stream attaches to.
func (t *Tree) Commit(p Plan) *Scene {
	if p.CreateUnder == nil {
		return p.Target
	}
	owner := p.CreateUnder
	if owner.SubScene == nil {
		sub := newScene(owner.Scene, ModeAuthored)
		sub.RootObject = owner
		owner.SubScene = sub
	}
	return owner.SubScene
}
