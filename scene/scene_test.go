package scene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/media"
)

type upstream []string

func (u upstream) HasUpstream(source string) bool {
	for _, s := range u {
		if s == source {
			return true
		}
	}
	return false
}

func TestTree_EnsureRoot(t *testing.T) {
	tree := NewTree()
	assert.Nil(t, tree.Root())

	root, created := tree.EnsureRoot("")
	require.True(t, created)
	assert.True(t, root.IsRoot())
	assert.True(t, root.Dynamic())
	assert.Nil(t, root.Owner())
	require.NotNil(t, root.RootObject)
	assert.Same(t, root, root.RootObject.SubScene)
	assert.Equal(t, DefaultServiceURL, root.Namespace().URL)
	assert.Len(t, root.Namespaces, 1)

	again, created := tree.EnsureRoot("other")
	assert.False(t, created)
	assert.Same(t, root, again)
}

func TestTree_RootNamespaceFragment(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("udp://239.0.0.1:1234#LIVE360")

	assert.Equal(t, "udp://239.0.0.1:1234", root.Namespace().URL)
	assert.Equal(t, "LIVE360", root.Namespace().Fragment)
	assert.Equal(t, "udp://239.0.0.1:1234#LIVE360", root.Namespace().Locator())
}

func TestScene_ModeTransitions(t *testing.T) {
	s := newScene(nil, ModeDynamic)

	assert.True(t, s.MarkAuthored())
	assert.Equal(t, ModeAuthored, s.Mode())
	assert.False(t, s.MarkAuthored(), "authored is terminal")
	assert.False(t, s.Dynamic())
}

func TestObject_MarkPassthroughOnce(t *testing.T) {
	o := &Object{ID: 1}
	assert.Equal(t, ObjectNormal, o.Mode())
	assert.True(t, o.MarkPassthrough())
	assert.False(t, o.MarkPassthrough())
	assert.True(t, o.Passthrough())
	assert.Equal(t, "passthrough", o.Mode().String())
}

func TestScene_InsertShareClockAndSlots(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("file.mp4")

	video := tree.NewObject(media.StreamVisual, media.CodecRaw, "v")
	audio := tree.NewObject(media.StreamAudio, media.CodecRaw, "a")
	root.Insert(video, root.Namespace(), false)
	root.Insert(audio, root.Namespace(), true)

	assert.Same(t, video.Clock, audio.Clock)
	assert.True(t, audio.IODBound)
	assert.Same(t, root, video.Scene)

	root.AssignDefaultSlots()
	assert.Equal(t, video.ID, root.Slot(RoleVisual))
	assert.Equal(t, audio.ID, root.Slot(RoleAudio))
	assert.Zero(t, root.Slot(RoleText))

	assert.True(t, root.ClearSlotsFor(video.ID))
	assert.False(t, root.ClearSlotsFor(video.ID))
	assert.False(t, root.ClearSlotsFor(0))

	require.True(t, root.Remove(video))
	assert.False(t, root.Remove(video))
	assert.Nil(t, video.Scene)
	assert.Equal(t, 1, root.Len())
}

func TestScene_AssignDefaultSlotsSkipsPassthroughAndStale(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")

	first := tree.NewObject(media.StreamVisual, media.CodecRaw, "v1")
	second := tree.NewObject(media.StreamVisual, media.CodecRaw, "v2")
	root.Insert(first, root.Namespace(), false)
	root.Insert(second, root.Namespace(), false)
	first.MarkPassthrough()

	root.SetSlot(RoleText, 999)
	root.AssignDefaultSlots()

	assert.Equal(t, second.ID, root.Slot(RoleVisual))
	assert.Zero(t, root.Slot(RoleText), "stale slot cleared")

	epoch := root.GraphEpoch()
	root.ResetGraph()
	assert.Equal(t, epoch+1, root.GraphEpoch())
	assert.Zero(t, root.Slot(RoleVisual))
}

func TestDetectVR(t *testing.T) {
	tests := []struct {
		fragment string
		want     VRMode
	}{
		{"LIVE360", VR360},
		{"live360-stereo", VR360},
		{"360", VR360},
		{"vr", VR360},
		{"VRML", VR360},
		{"", VRNone},
		{"t=10", VRNone},
		{"x360", VRNone},
	}
	for _, tt := range tests {
		t.Run(tt.fragment, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectVR(tt.fragment))
		})
	}
}

func TestResolve_DefaultsToRoot(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")

	plan := Resolve(root, media.StreamVisual, upstream{"demux"})
	assert.Same(t, root, plan.Target)
	assert.Nil(t, plan.CreateUnder)
	assert.True(t, plan.Dynamic())
	assert.Same(t, root, tree.Commit(plan))
}

func TestResolve_AcknowledgedNamespaceWithoutSource(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")

	inline := tree.NewObject(media.StreamScene, media.CodecRaw, "inline")
	root.Insert(inline, root.Namespace(), true)
	ns := tree.OpenNamespace(inline, "inline.mp4", "")

	plan := Resolve(root, media.StreamVisual, upstream{})
	assert.Same(t, root, plan.Target, "unacknowledged namespaces are skipped")

	ns.Acknowledged = true
	plan = Resolve(root, media.StreamVisual, upstream{})
	assert.Same(t, root, plan.Target, "falls back to the owner's parent scene")
}

func TestResolve_CreatesNestedSceneForSystemsStreams(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")

	inline := tree.NewObject(media.StreamScene, media.CodecRaw, "inline")
	root.Insert(inline, root.Namespace(), true)
	tree.OpenNamespace(inline, "sub.bt", "demux7")

	before, _ := tree.Counts()

	plan := Resolve(root, media.StreamScene, upstream{"demux7", "file"})
	require.Same(t, inline, plan.CreateUnder)
	assert.False(t, plan.Dynamic())

	after, _ := tree.Counts()
	assert.Equal(t, before, after, "resolution must not mutate the tree")

	sub := tree.Commit(plan)
	require.NotNil(t, sub)
	assert.Same(t, sub, inline.SubScene)
	assert.Same(t, root, sub.Parent)
	assert.Same(t, inline, sub.Owner())
	assert.Equal(t, ModeAuthored, sub.Mode())

	// media streams of the same source now land in the nested scene
	plan = Resolve(root, media.StreamVisual, upstream{"demux7"})
	assert.Nil(t, plan.CreateUnder)
	assert.Same(t, sub, plan.Target)

	scenes, _ := tree.Counts()
	assert.Equal(t, 2, scenes)
}

func TestResolve_MediaStreamDoesNotCreateNestedScene(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")

	inline := tree.NewObject(media.StreamScene, media.CodecRaw, "inline")
	root.Insert(inline, root.Namespace(), true)
	tree.OpenNamespace(inline, "sub.mp4", "demux7")

	plan := Resolve(root, media.StreamAudio, upstream{"demux7"})
	assert.Nil(t, plan.CreateUnder)
	assert.Same(t, root, plan.Target)
}

func TestTree_CloseNamespaceAndReset(t *testing.T) {
	tree := NewTree()
	root, _ := tree.EnsureRoot("")
	ns := tree.NewRootNamespace("")
	require.Len(t, root.Namespaces, 2)
	assert.Same(t, root.RootObject, ns.Owner)

	tree.CloseNamespace(ns)
	assert.Len(t, root.Namespaces, 1)

	tree.Reset()
	assert.Nil(t, tree.Root())
	scenes, objects := tree.Counts()
	assert.Zero(t, scenes)
	assert.Zero(t, objects)
}

func TestClock(t *testing.T) {
	c := &Clock{}
	c.Advance(40 * time.Millisecond)
	c.Advance(-time.Second)
	assert.Equal(t, 40*time.Millisecond, c.Now())

	c.Set(10 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, c.Now(), "clock never moves back")
	c.Set(time.Second)
	assert.Equal(t, time.Second, c.Now())

	assert.False(t, c.EOS())
	c.MarkEOS()
	assert.True(t, c.EOS())
}
