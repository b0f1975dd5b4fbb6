package scene

import (
	"slices"

	"github.com/c360/mediacompose/media"
)

// DefaultServiceURL names a namespace whose port declared no URL.
const DefaultServiceURL = "unknown"

// Tree is the presentation tree. It is confined to the compositor's thread.
type Tree struct {
	root   *Scene
	nextID uint32
}

// NewTree returns an empty tree; the root is created lazily.
func NewTree() *Tree {
	return &Tree{}
}

// Root returns the root scene, nil before the first stream.
func (t *Tree) Root() *Scene { return t.root }

// EnsureRoot creates the dynamic root scene if absent, bound to an implicit
// root object and a namespace built from url. It reports whether the root was
// created.
func (t *Tree) EnsureRoot(url string) (*Scene, bool) {
	if t.root != nil {
		return t.root, false
	}
	if url == "" {
		url = DefaultServiceURL
	}

	root := newScene(nil, ModeDynamic)
	obj := t.NewObject(media.StreamScene, media.CodecRaw, "")
	obj.SubScene = root
	root.RootObject = obj

	obj.Namespace = t.newNamespace(root, obj, url, "")
	t.root = root
	return root, true
}

// NewObject allocates an unattached object with a fresh id.
func (t *Tree) NewObject(kind media.StreamKind, codec media.CodecID, portID string) *Object {
	t.nextID++
	return &Object{ID: t.nextID, Kind: kind, Codec: codec, PortID: portID}
}

// OpenNamespace registers a namespace on the root scene, owned by owner.
// sourceFilter names the producer whose downstream ports belong to it. The
// namespace becomes the owner's, so streams of the owner's nested scene are
// inserted under it and share its clock rather than the outer scene's.
func (t *Tree) OpenNamespace(owner *Object, url, sourceFilter string) *Namespace {
	if t.root == nil {
		return nil
	}
	ns := t.newNamespace(t.root, owner, url, sourceFilter)
	if owner != nil {
		owner.Namespace = ns
	}
	return ns
}

func (t *Tree) newNamespace(holder *Scene, owner *Object, url, sourceFilter string) *Namespace {
	base, frag := ParseLocator(url)
	ns := &Namespace{Owner: owner, URL: base, Fragment: frag, SourceFilter: sourceFilter}
	holder.Namespaces = append(holder.Namespaces, ns)
	return ns
}

// NewRootNamespace allocates a namespace for url under the root scene, owned
// by the root's implicit object.
func (t *Tree) NewRootNamespace(url string) *Namespace {
	if url == "" {
		url = DefaultServiceURL
	}
	return t.newNamespace(t.root, t.root.RootObject, url, "")
}

// CloseOwnedBy removes every producer-opened namespace owned by obj from the
// root scene.
func (t *Tree) CloseOwnedBy(obj *Object) {
	if t.root == nil {
		return
	}
	t.root.Namespaces = slices.DeleteFunc(t.root.Namespaces, func(ns *Namespace) bool {
		return ns.Owner == obj && ns.SourceFilter != ""
	})
}

// CloseNamespace removes ns from the root scene.
func (t *Tree) CloseNamespace(ns *Namespace) {
	if t.root == nil {
		return
	}
	for i, n := range t.root.Namespaces {
		if n == ns {
			t.root.Namespaces = append(t.root.Namespaces[:i], t.root.Namespaces[i+1:]...)
			return
		}
	}
}

// Counts returns the number of scenes and of attached objects.
func (t *Tree) Counts() (scenes, objects int) {
	if t.root == nil {
		return 0, 0
	}
	t.root.Walk(func(s *Scene) {
		scenes++
		objects += s.Len()
	})
	return scenes, objects
}

// Reset drops the whole tree.
func (t *Tree) Reset() {
	t.root = nil
}
