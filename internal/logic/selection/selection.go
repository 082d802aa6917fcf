// Package selection picks which captured photos go into the chosen frame.
package selection

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
)

var (
	// ErrSelectionFull is returned when adding would exceed the frame maximum.
	ErrSelectionFull = errors.New("selection full")
	// ErrUnknownShot is returned for shot indexes outside the session.
	ErrUnknownShot = errors.New("unknown shot")
)

// Selection is the ordered list of shot indexes placed into frame cells.
// Strip frames place every chosen shot twice, side by side.
type Selection struct {
	mu      sync.Mutex
	frame   config.FrameConfig
	shots   int
	entries []int
}

// New creates an empty selection for frame over a session of shots photos.
func New(frame config.FrameConfig, shots int) *Selection {
	return &Selection{frame: frame, shots: shots}
}

// Frame returns the frame the selection fills.
func (s *Selection) Frame() config.FrameConfig {
	return s.frame
}

// Toggle adds the shot when it is not chosen yet, or removes every copy of
// it otherwise. It reports whether the shot is selected afterwards.
func (s *Selection) Toggle(shot int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shot < 0 || shot >= s.shots {
		return false, fmt.Errorf("%w: %d", ErrUnknownShot, shot)
	}
	if slices.Contains(s.entries, shot) {
		s.entries = slices.DeleteFunc(s.entries, func(e int) bool { return e == shot })
		debug.Verbose("Selection: photo %d removed (%d/%d)", shot+1, len(s.entries), s.frame.MaxSelections)
		return false, nil
	}

	copies := 1
	if s.frame.Duplicate {
		copies = 2
	}
	if len(s.entries)+copies > s.frame.MaxSelections {
		return false, fmt.Errorf("%w: frame %s takes %d", ErrSelectionFull, s.frame.Name, s.frame.MaxSelections)
	}
	for i := 0; i < copies; i++ {
		s.entries = append(s.entries, shot)
	}
	debug.Verbose("Selection: photo %d added (%d/%d)", shot+1, len(s.entries), s.frame.MaxSelections)
	return true, nil
}

// Entries returns the shot index of every filled cell, in cell order.
func (s *Selection) Entries() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Complete reports whether every cell of the frame has a photo.
func (s *Selection) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) == s.frame.MaxSelections
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
