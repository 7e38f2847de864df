package gesture

import (
	"fmt"
	"math"

	"mirrorcast/internal/types"
)

// Mapping selects how remote coordinates are scaled onto the local screen.
type Mapping int

const (
	// Stretch scales each axis independently.
	Stretch Mapping = iota
	// Contain assumes the viewer letterboxes the local screen inside its
	// own, preserving aspect ratio.
	Contain
)

func ParseMapping(s string) (Mapping, error) {
	switch s {
	case "", "stretch":
		return Stretch, nil
	case "contain":
		return Contain, nil
	}
	return Stretch, fmt.Errorf("unknown mapping %q", s)
}

func (m Mapping) String() string {
	if m == Contain {
		return "contain"
	}
	return "stretch"
}

// Geometry is the remote and local screen sizes for one session. It is
// immutable once built.
type Geometry struct {
	Remote  types.Geometry
	Local   types.Geometry
	Mapping Mapping

	scaleX, scaleY   float64
	offsetX, offsetY float64
}

func NewGeometry(remote, local types.Geometry, mapping Mapping) (Geometry, error) {
	if remote.Width <= 0 || remote.Height <= 0 {
		return Geometry{}, fmt.Errorf("remote geometry %dx%d must be positive", remote.Width, remote.Height)
	}
	if local.Width <= 0 || local.Height <= 0 {
		return Geometry{}, fmt.Errorf("local geometry %dx%d must be positive", local.Width, local.Height)
	}

	g := Geometry{Remote: remote, Local: local, Mapping: mapping}
	rw, rh := float64(remote.Width), float64(remote.Height)
	lw, lh := float64(local.Width), float64(local.Height)

	switch mapping {
	case Contain:
		// s is the size of one local pixel on the viewer.
		s := math.Min(rw/lw, rh/lh)
		g.scaleX, g.scaleY = 1/s, 1/s
		g.offsetX = (rw - lw*s) / 2
		g.offsetY = (rh - lh*s) / 2
	default:
		g.scaleX, g.scaleY = lw/rw, lh/rh
	}
	return g, nil
}

// Remap converts a remote coordinate into a local one, clamped to the local
// screen. It is a pure function of its inputs.
func (g Geometry) Remap(x, y float64) types.Point {
	return types.Point{
		X: clamp((x-g.offsetX)*g.scaleX, float64(g.Local.Width)),
		Y: clamp((y-g.offsetY)*g.scaleY, float64(g.Local.Height)),
	}
}

func clamp(v, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > hi:
		return hi
	}
	return v
}
