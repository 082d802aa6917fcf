// Package geometry holds the plane math shared by the overlay scene and
// the compositor: rotated bounding boxes, clamping, hit testing and the
// cell grid of a printable frame.
package geometry

import "math"

// Size is a width/height pair in canvas pixels.
type Size struct {
	W, H float64
}

// Radians converts an angle in degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// NormalizeAngle folds an angle (radians) into [0, 2π).
func NormalizeAngle(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	// Mod of values just under a multiple of 2π can round up to 2π.
	if r >= 2*math.Pi {
		r = 0
	}
	return r
}

// Extents returns the half width and half height of the axis-aligned box
// enclosing a w x h rectangle rotated by rot and scaled by scale.
//
//	hw = (|w·cos θ| + |h·sin θ|) / 2 · s
//	hh = (|w·sin θ| + |h·cos θ|) / 2 · s
func Extents(w, h, rot, scale float64) (hw, hh float64) {
	c, s := math.Abs(math.Cos(rot)), math.Abs(math.Sin(rot))
	hw = (w*c + h*s) / 2 * scale
	hh = (w*s + h*c) / 2 * scale
	return hw, hh
}

// FitScale returns the largest scale, at most scale, at which a w x h
// rectangle rotated by rot fits inside bounds.
func FitScale(w, h, rot, scale float64, bounds Size) float64 {
	hw, hh := Extents(w, h, rot, 1)
	if hw > 0 {
		scale = math.Min(scale, bounds.W/(2*hw))
	}
	if hh > 0 {
		scale = math.Min(scale, bounds.H/(2*hh))
	}
	return math.Max(scale, 0)
}

// Clamp moves the center (x, y) of a rotated element so that its bounding
// box stays inside bounds. On an axis where the box is larger than the
// canvas the element is centered on that axis; callers that cap the scale
// with FitScale first never hit that case.
func Clamp(x, y, w, h, rot, scale float64, bounds Size) (float64, float64) {
	hw, hh := Extents(w, h, rot, scale)
	return clampAxis(x, hw, bounds.W), clampAxis(y, hh, bounds.H)
}

func clampAxis(v, half, limit float64) float64 {
	if 2*half >= limit {
		return limit / 2
	}
	return math.Min(math.Max(v, half), limit-half)
}

// Contains reports whether point (px, py) lies inside the rotated element
// centered at (cx, cy). The point is rotated back into the element frame
// and tested against its scaled half sizes; edges count as inside.
func Contains(px, py, cx, cy, w, h, rot, scale float64) bool {
	dx, dy := px-cx, py-cy
	c, s := math.Cos(-rot), math.Sin(-rot)
	lx := dx*c - dy*s
	ly := dx*s + dy*c
	const eps = 1e-9
	return math.Abs(lx) <= w*scale/2+eps && math.Abs(ly) <= h*scale/2+eps
}
