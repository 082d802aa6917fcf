package capture

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/BoothGo/internal/hw/camera"
)

// Phase is the state of a capture session. Exactly one phase is current,
// so "counting while awaiting a photo" cannot be expressed.
type Phase int

const (
	Idle           Phase = iota // no request in flight
	Counting                    // countdown running
	Capturing                   // shutter request sent
	AwaitingResult              // polling for the photo
	Complete                    // every slot filled
)

var phaseNames = [...]string{"idle", "counting", "capturing", "awaiting_result", "complete"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText lets phases appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown capture phase %q", text)
}

var (
	// ErrCameraUnavailable: the camera service failed or never produced the photo.
	// The attempt is aborted and the session is back in Idle.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrInvalidRetakeTarget: retake of an out-of-range or empty slot.
	ErrInvalidRetakeTarget = errors.New("invalid retake target")
	// ErrBusy: the operation is not allowed while a cycle is pending or running.
	ErrBusy = errors.New("capture session busy")
	// ErrNotComplete: the shot set cannot be accepted yet.
	ErrNotComplete = errors.New("capture session not complete")
	// ErrAlreadyComplete: Run was called with nothing left to shoot.
	ErrAlreadyComplete = errors.New("capture session already complete")
)

// Shot is one slot of the fixed-size shot sequence.
// A nil Image means the slot is still empty.
type Shot struct {
	Index  int              `json:"index"`
	Image  *camera.ImageRef `json:"image,omitempty"`
	Video  *camera.ImageRef `json:"video,omitempty"`
	Locked bool             `json:"locked"`
}

// Filled reports whether the slot holds a photo.
func (s Shot) Filled() bool { return s.Image != nil }

func (s Shot) clone() Shot {
	c := s
	if s.Image != nil {
		img := *s.Image
		c.Image = &img
	}
	if s.Video != nil {
		v := *s.Video
		c.Video = &v
	}
	return c
}

// EventKind classifies session notifications.
type EventKind int

const (
	EventPhase     EventKind = iota // phase changed
	EventCountdown                  // countdown value changed
	EventShot                       // a slot was written
	EventError                      // an attempt failed
)

// Event is delivered to the session observer.
type Event struct {
	Kind      EventKind
	SessionID string
	Phase     Phase
	Countdown int
	Index     int // slot written (EventShot)
	Retake    bool
	Err       error
}

// State is a copy of everything the kiosk screen shows about a session.
type State struct {
	SessionID   string `json:"session_id"`
	Phase       Phase  `json:"phase"`
	Countdown   int    `json:"countdown"`
	RetakeIndex *int   `json:"retake_index,omitempty"`
	Target      int    `json:"target"`
	Filled      int    `json:"filled"`
	Shots       []Shot `json:"shots"`
	Running     bool   `json:"running"`
	LastError   string `json:"last_error,omitempty"`
}
