// Package overlay holds the sticker scene the guest edits on top of the
// base photo. The scene stores transforms only; pixels are produced by the
// compositor at export time.
package overlay

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/geometry"
)

var (
	// ErrUnknownElement is returned for operations on an id not in the scene.
	ErrUnknownElement = errors.New("unknown overlay element")
	// ErrInvalidScale is returned for negative or non-finite scales.
	ErrInvalidScale = errors.New("invalid overlay scale")
)

// Element is one sticker placed on the base photo.
// X and Y are the element center in base photo pixels.
type Element struct {
	ID       string  `json:"id"`
	Asset    string  `json:"asset"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"` // radians, [0, 2π)
	Scale    float64 `json:"scale"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Defaults are applied to newly added elements.
type Defaults struct {
	Width      float64 // element width at scale 1
	Height     float64 // element height at scale 1
	RotateStep float64 // radians added by RotateStep
}

// Scene is an ordered set of elements: later elements are drawn on top.
type Scene struct {
	mu       sync.Mutex
	bounds   geometry.Size
	defaults Defaults
	elements []Element
	selected string
}

// NewScene creates an empty scene over a width x height base photo.
func NewScene(width, height float64, d Defaults) *Scene {
	if d.Width <= 0 {
		d.Width = 100
	}
	if d.Height <= 0 {
		d.Height = 100
	}
	if d.RotateStep == 0 {
		d.RotateStep = math.Pi / 4
	}
	return &Scene{
		bounds:   geometry.Size{W: width, H: height},
		defaults: d,
	}
}

// Bounds returns the base photo size.
func (s *Scene) Bounds() geometry.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// Add places a new element at the photo center, on top of the others,
// and selects it. Elements larger than the photo start scaled down to fit.
func (s *Scene) Add(asset string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Element{
		ID:     uuid.NewString(),
		Asset:  asset,
		Scale:  1,
		Width:  s.defaults.Width,
		Height: s.defaults.Height,
	}
	e.Scale = geometry.FitScale(e.Width, e.Height, 0, 1, s.bounds)
	e.X, e.Y = geometry.Clamp(s.bounds.W/2, s.bounds.H/2, e.Width, e.Height, 0, e.Scale, s.bounds)
	s.elements = append(s.elements, e)
	s.selected = e.ID
	debug.Verbose("Overlay: added %s (%s), %d elements", e.ID, asset, len(s.elements))
	return e.ID
}

// Select sets the selected element. An empty id clears the selection and
// an unknown id leaves the scene unchanged.
func (s *Scene) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.selected = ""
		return
	}
	if s.indexLocked(id) >= 0 {
		s.selected = id
	}
}

// Selected returns the selected element id, "" when none.
func (s *Scene) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Move places the element center at (x, y), clamped so the rotated and
// scaled element stays inside the photo.
func (s *Scene) Move(id string, x, y float64) error {
	return s.update(id, func(e *Element) {
		if !math.IsNaN(x) {
			e.X = x
		}
		if !math.IsNaN(y) {
			e.Y = y
		}
	})
}

// Rotate adds delta radians to the element rotation.
func (s *Scene) Rotate(id string, delta float64) error {
	return s.update(id, func(e *Element) {
		e.Rotation = geometry.NormalizeAngle(e.Rotation + delta)
	})
}

// RotateStep rotates the element by the configured step.
func (s *Scene) RotateStep(id string) error {
	s.mu.Lock()
	step := s.defaults.RotateStep
	s.mu.Unlock()
	return s.Rotate(id, step)
}

// Scale sets the element scale. Scales that would not fit the photo at the
// current rotation are reduced until the element fits.
func (s *Scene) Scale(id string, scale float64) error {
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return s.update(id, func(e *Element) {
		e.Scale = scale
	})
}

// Delete removes the element, clearing the selection if it was selected.
func (s *Scene) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	s.elements = append(s.elements[:i], s.elements[i+1:]...)
	if s.selected == id {
		s.selected = ""
	}
	debug.Verbose("Overlay: deleted %s, %d elements", id, len(s.elements))
	return nil
}

// HitTest returns the topmost element containing (x, y).
func (s *Scene) HitTest(x, y float64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.elements) - 1; i >= 0; i-- {
		e := s.elements[i]
		if geometry.Contains(x, y, e.X, e.Y, e.Width, e.Height, e.Rotation, e.Scale) {
			return e.ID, true
		}
	}
	return "", false
}

// Element returns a copy of one element.
func (s *Scene) Element(id string) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Element{}, false
	}
	return s.elements[i], true
}

// Elements returns a copy of the elements, bottom first.
func (s *Scene) Elements() []Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Element, len(s.elements))
	copy(out, s.elements)
	return out
}

// Clear removes every element.
func (s *Scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = nil
	s.selected = ""
}

// update applies fn to the element, shrinks it if it no longer fits the
// photo at its new rotation, and re-clamps its position.
func (s *Scene) update(id string, fn func(*Element)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	e := &s.elements[i]
	fn(e)
	e.Scale = geometry.FitScale(e.Width, e.Height, e.Rotation, e.Scale, s.bounds)
	e.X, e.Y = geometry.Clamp(e.X, e.Y, e.Width, e.Height, e.Rotation, e.Scale, s.bounds)
	debug.Trace("Overlay: %s at (%.1f, %.1f) rot=%.3f scale=%.2f", e.ID, e.X, e.Y, e.Rotation, e.Scale)
	return nil
}

func (s *Scene) indexLocked(id string) int {
	for i := range s.elements {
		if s.elements[i].ID == id {
			return i
		}
	}
	return -1
}
