package compositor

import (
	"github.com/c360/mediacompose/scene"
)

// PresentationContext holds the presentation tree and the composition the
// renderer is currently bound to. Every attachment and scheduling step takes
// it explicitly.
type PresentationContext struct {
	tree     *scene.Tree
	active   *scene.Scene
	renderer Renderer
}

func newPresentationContext(renderer Renderer) *PresentationContext {
	return &PresentationContext{tree: scene.NewTree(), renderer: renderer}
}

// Tree returns the presentation tree.
func (p *PresentationContext) Tree() *scene.Tree { return p.tree }

// Root returns the root scene, nil before the first stream.
func (p *PresentationContext) Root() *scene.Scene { return p.tree.Root() }

// Active returns the bound composition.
func (p *PresentationContext) Active() *scene.Scene { return p.active }

// Bind makes s the active composition. Binding nil unbinds.
func (p *PresentationContext) Bind(s *scene.Scene) {
	p.active = s
	p.renderer.SetScene(s)
}

// Rebuild unbinds the active composition, resets the presentation graph of s
// and binds s again.
func (p *PresentationContext) Rebuild(s *scene.Scene) {
	p.Bind(nil)
	s.ResetGraph()
	p.renderer.ResetGraph(s)
	p.Bind(s)
}
