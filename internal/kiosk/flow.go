// Package kiosk threads one guest through the booth: capture, photo
// selection, filter, stickers and export. Every stage receives its input
// from the previous one through the Flow, never through shared globals.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/export"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/compose"
	"github.com/cjeanneret/BoothGo/internal/logic/countdown"
	"github.com/cjeanneret/BoothGo/internal/logic/geometry"
	"github.com/cjeanneret/BoothGo/internal/logic/overlay"
	"github.com/cjeanneret/BoothGo/internal/logic/selection"
)

var (
	// ErrUnknownFrame is returned when a frame name is not configured.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrNoHandoff is returned by stages that need accepted photos.
	ErrNoHandoff = errors.New("photos not accepted yet")
	// ErrSelectionIncomplete is returned when the frame still has empty cells.
	ErrSelectionIncomplete = errors.New("photo selection incomplete")
)

// Handoff is what the capture stage hands to the downstream screens.
type Handoff struct {
	SessionID string         `json:"session_id"`
	Shots     []capture.Shot `json:"shots"`
	Frame     string         `json:"frame"`
	OrderCode string         `json:"order_code"`
}

// Deps are the collaborators of a flow.
type Deps struct {
	Config    *config.Config
	Camera    camera.Service
	Resolver  compose.Resolver
	Submitter *export.Submitter
	Tick      time.Duration // countdown interval, 0 = one second
}

// Flow is the state of the guest currently using the kiosk.
type Flow struct {
	deps    Deps
	session *capture.Session

	mu        sync.Mutex
	frame     config.FrameConfig
	orderCode string
	handoff   *Handoff
	selection *selection.Selection
	filter    compose.Filter
	intensity int
	base      *image.RGBA
	scene     *overlay.Scene
	report    *export.Report
}

// New creates a flow with a fresh capture session. The first configured
// frame is preselected.
func New(deps Deps) *Flow {
	cfg := deps.Config
	timer := countdown.New(deps.Tick)
	f := &Flow{
		deps: deps,
		session: capture.NewSession(deps.Camera, timer, capture.Params{
			TargetCount:   cfg.Capture.ShotCount,
			CountdownFrom: cfg.Capture.CountdownSeconds,
			PollAttempts:  cfg.Capture.PollAttempts,
			PollInterval:  cfg.PollInterval(),
		}),
		intensity: 50,
	}
	f.resetLocked()
	return f
}

func (f *Flow) resetLocked() {
	f.frame = config.FrameConfig{}
	if len(f.deps.Config.Frames) > 0 {
		f.frame = f.deps.Config.Frames[0]
	}
	f.orderCode = ""
	f.handoff = nil
	f.selection = nil
	f.filter = compose.Filter{Name: "none"}
	f.intensity = 50
	f.base = nil
	f.scene = nil
	f.report = nil
}

// Session returns the capture session of the current guest.
func (f *Flow) Session() *capture.Session {
	return f.session
}

// Begin records the guest's frame and order code before capture starts.
func (f *Flow) Begin(frameName, orderCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if frameName != "" {
		fr, ok := f.deps.Config.Frame(frameName)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFrame, frameName)
		}
		f.frame = fr
	}
	f.orderCode = orderCode
	debug.Info("Guest started: frame %s, order %q", f.frame.Name, orderCode)
	return nil
}

// Capture runs the capture session until every photo is taken.
func (f *Flow) Capture(ctx context.Context) error {
	return f.session.Run(ctx)
}

// Accept closes the capture stage and builds the hand-off for the
// downstream screens. Accepting again after a retake replaces it.
func (f *Flow) Accept(ctx context.Context) (Handoff, error) {
	shots, err := f.session.Accept(ctx)
	if err != nil {
		return Handoff{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &Handoff{
		SessionID: f.session.ID(),
		Shots:     shots,
		Frame:     f.frame.Name,
		OrderCode: f.orderCode,
	}
	f.handoff = h
	f.selection = selection.New(f.frame, len(shots))
	f.base = nil
	return *h, nil
}

// Handoff returns the current hand-off.
func (f *Flow) Handoff() (Handoff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handoff == nil {
		return Handoff{}, ErrNoHandoff
	}
	return *f.handoff, nil
}

// ToggleSelection adds or removes a photo from the frame.
func (f *Flow) ToggleSelection(shot int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selection == nil {
		return false, ErrNoHandoff
	}
	on, err := f.selection.Toggle(shot)
	if err == nil {
		f.base = nil
	}
	return on, err
}

// Selection returns the chosen shot indexes and whether the frame is full.
func (f *Flow) Selection() ([]int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selection == nil {
		return nil, false, ErrNoHandoff
	}
	return f.selection.Entries(), f.selection.Complete(), nil
}

// SetFilter picks the color filter and its intensity (0-100).
func (f *Flow) SetFilter(name string, intensity int) error {
	flt, err := compose.LookupFilter(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = flt
	f.intensity = max(0, min(100, intensity))
	return nil
}

// Filter returns the current filter name and intensity.
func (f *Flow) Filter() (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.Name, f.intensity
}

// Scene lays out the selected photos (once per selection) and returns the
// sticker scene drawn over them. The scene survives selection changes.
func (f *Flow) Scene(ctx context.Context) (*overlay.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.prepareLocked(ctx); err != nil {
		return nil, err
	}
	return f.scene, nil
}

func (f *Flow) prepareLocked(ctx context.Context) error {
	if f.handoff == nil || f.selection == nil {
		return ErrNoHandoff
	}
	if !f.selection.Complete() {
		return fmt.Errorf("%w: %d of %d photos", ErrSelectionIncomplete,
			len(f.selection.Entries()), f.frame.MaxSelections)
	}
	if f.base == nil {
		refs := make([]string, 0, f.frame.MaxSelections)
		for _, i := range f.selection.Entries() {
			refs = append(refs, f.handoff.Shots[i].Image.URL)
		}
		base, err := compose.Layout(ctx, f.frame, refs, f.deps.Resolver)
		if err != nil {
			return err
		}
		f.base = base
	}
	if f.scene == nil {
		b := f.base.Bounds()
		f.scene = overlay.NewScene(float64(b.Dx()), float64(b.Dy()), overlay.Defaults{
			Width:      f.deps.Config.Overlay.ElementWidth,
			Height:     f.deps.Config.Overlay.ElementHeight,
			RotateStep: geometry.Radians(f.deps.Config.Overlay.RotateStepDeg),
		})
	}
	return nil
}

// Export flattens layout, filter and stickers and submits the result to
// the print and cloud destinations. A partial export failure is reported
// in the returned report, not as an error: the guest moves on either way.
func (f *Flow) Export(ctx context.Context) (export.Report, error) {
	f.mu.Lock()
	if err := f.prepareLocked(ctx); err != nil {
		f.mu.Unlock()
		return export.Report{}, err
	}
	base := image.NewRGBA(f.base.Bounds())
	draw.Draw(base, base.Bounds(), f.base, f.base.Bounds().Min, draw.Src)
	f.filter.Apply(base, f.intensity)
	elements := f.scene.Elements()
	order := export.Order{
		SessionID: f.handoff.SessionID,
		Frame:     f.handoff.Frame,
		OrderCode: f.handoff.OrderCode,
		Device:    f.deps.Config.Export.Device,
	}
	f.mu.Unlock()

	debug.Section("Export")
	res, err := compose.Compose(ctx, base, elements, f.deps.Resolver)
	if err != nil {
		return export.Report{}, err
	}
	report := f.deps.Submitter.Submit(ctx, res, order)
	if err := report.Err(); err != nil {
		debug.Error(err)
	}

	f.mu.Lock()
	f.report = &report
	f.mu.Unlock()
	return report, nil
}

// LastReport returns the outcome of the latest export, if any.
func (f *Flow) LastReport() (export.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.report == nil {
		return export.Report{}, false
	}
	return *f.report, true
}

// Restart abandons the current guest and prepares the kiosk for the next.
func (f *Flow) Restart(ctx context.Context) {
	f.session.Reset(ctx)
	f.mu.Lock()
	f.resetLocked()
	f.mu.Unlock()
	debug.Info("Kiosk restarted")
}

// Frame returns the frame chosen for the current guest.
func (f *Flow) Frame() config.FrameConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}
