package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

const mockScheme = "mock://"

// Mock is an in-memory camera service for development kiosks and tests.
// Every capture produces a synthetic photo that Resolve can turn into pixels,
// so the whole flow down to the printed composite works without hardware.
type Mock struct {
	Width, Height int

	mu       sync.Mutex
	shots    map[string]int // captures per session
	liveView map[string]bool
}

// NewMock creates a mock camera producing width x height photos.
func NewMock(width, height int) *Mock {
	return &Mock{
		Width:    width,
		Height:   height,
		shots:    make(map[string]int),
		liveView: make(map[string]bool),
	}
}

func (m *Mock) BeginLiveView(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveView[sessionID] = true
	debug.Verbose("Mock camera: live view on (session %s)", sessionID)
	return nil
}

func (m *Mock) Capture(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shots[sessionID]++
	debug.Verbose("Mock camera: shutter #%d (session %s)", m.shots[sessionID], sessionID)
	return nil
}

// FetchLatest answers "not ready" until a capture happened for the session.
func (m *Mock) FetchLatest(_ context.Context, sessionID string) (Latest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.shots[sessionID]
	if n == 0 {
		return Latest{}, nil
	}
	return Latest{
		Ready: true,
		Image: ImageRef{URL: fmt.Sprintf("%s%s/%d", mockScheme, sessionID, n)},
	}, nil
}

func (m *Mock) EndLiveView(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.liveView, sessionID)
	debug.Verbose("Mock camera: live view off (session %s)", sessionID)
	return nil
}

// LiveView reports whether the preview is currently running for the session.
func (m *Mock) LiveView(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveView[sessionID]
}

// Resolve renders the synthetic photo behind a mock:// reference.
// The picture depends only on the shot number, so it is stable across calls.
func (m *Mock) Resolve(_ context.Context, ref string) (image.Image, error) {
	rest, ok := strings.CutPrefix(ref, mockScheme)
	if !ok {
		return nil, fmt.Errorf("mock camera: not a mock reference: %q", ref)
	}
	slash := strings.LastIndexByte(rest, '/')
	if slash < 0 {
		return nil, fmt.Errorf("mock camera: malformed reference %q", ref)
	}
	var n int
	if _, err := fmt.Sscanf(rest[slash+1:], "%d", &n); err != nil || n <= 0 {
		return nil, fmt.Errorf("mock camera: malformed shot number in %q", ref)
	}
	return m.render(n), nil
}

func (m *Mock) render(n int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	base := color.RGBA{
		R: uint8(40 + (n*67)%200),
		G: uint8(40 + (n*131)%200),
		B: uint8(40 + (n*29)%200),
		A: 255,
	}
	stripe := color.RGBA{R: 255 - base.R, G: 255 - base.G, B: 255 - base.B, A: 255}
	band := m.Width / 8
	if band == 0 {
		band = 1
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := base
			if ((x+y)/band+n)%4 == 0 {
				c = stripe
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
