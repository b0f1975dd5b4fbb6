package scene

import "strings"

// Namespace is one source boundary, such as a demultiplexed input or a nested
// sub-presentation.
type Namespace struct {
	// Owner is the object that caused the namespace to exist.
	Owner *Object
	// URL is the service locator without its fragment.
	URL      string
	Fragment string
	// SourceFilter names the producer that opened the namespace. Empty for
	// namespaces created implicitly from a port.
	SourceFilter string
	// Acknowledged is set once the producer confirmed attachment.
	Acknowledged bool
	Clock        *Clock
}

// ParseLocator splits a service locator at its first '#'.
func ParseLocator(locator string) (base, fragment string) {
	base, fragment, _ = strings.Cut(locator, "#")
	return base, fragment
}

// Locator reassembles the full service locator.
func (ns *Namespace) Locator() string {
	if ns.Fragment == "" {
		return ns.URL
	}
	return ns.URL + "#" + ns.Fragment
}

// VRMode is the projection a dynamic scene presents.
type VRMode int

const (
	VRNone VRMode = iota
	VR360
)

func (m VRMode) String() string {
	if m == VR360 {
		return "vr360"
	}
	return "none"
}

var vrMarkers = []string{"live360", "360", "vr"}

// DetectVR inspects a locator fragment for 360/VR markers. Matching is a
// case-insensitive prefix test.
func DetectVR(fragment string) VRMode {
	f := strings.ToLower(fragment)
	for _, marker := range vrMarkers {
		if strings.HasPrefix(f, marker) {
			return VR360
		}
	}
	return VRNone
}
