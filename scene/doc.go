// Package scene holds the presentation tree: scenes, the media objects they
// own, and the source namespaces that group objects by origin.
//
// Scene and object classification are explicit tagged states with transition
// methods rather than flag bags. A scene starts either Dynamic (composited by
// default rules from whatever media arrives) or Authored (driven by a scene
// description). The only legal transition is Dynamic to Authored:
//
//	if scene.MarkAuthored() {
//	    // authoring model changed; older objects become passthrough
//	}
//
// Target resolution for a new stream is split in two phases. Resolve is pure
// and returns a Plan; Tree.Commit applies it, creating a nested scene when the
// plan asks for one. Callers can therefore validate a stream against the
// planned target before the tree is touched.
package scene
