package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/export"
	"github.com/cjeanneret/BoothGo/internal/kiosk"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/compose"
	"github.com/cjeanneret/BoothGo/internal/logic/overlay"
	"github.com/cjeanneret/BoothGo/internal/logic/selection"
)

const maxBodyBytes = 1 << 20

// FrameView describes a frame offered to the guest.
type FrameView struct {
	Name          string `json:"name"`
	MaxSelections int    `json:"max_selections"`
	Duplicate     bool   `json:"duplicate"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// ConfigView holds the values the kiosk page needs (from config).
type ConfigView struct {
	ShotCount        int         `json:"shot_count"`
	CountdownSeconds int         `json:"countdown_seconds"`
	Frames           []FrameView `json:"frames"`
	Stickers         []string    `json:"stickers"`
	Filters          []string    `json:"filters"`
	RotateStepDeg    float64     `json:"rotate_step_deg"`
}

// NewConfigView extracts the page settings from cfg.
func NewConfigView(cfg *config.Config) ConfigView {
	v := ConfigView{
		ShotCount:        cfg.Capture.ShotCount,
		CountdownSeconds: cfg.Capture.CountdownSeconds,
		Stickers:         slices.Clone(cfg.Overlay.Stickers),
		Filters:          compose.FilterNames(),
		RotateStepDeg:    cfg.Overlay.RotateStepDeg,
	}
	for _, f := range cfg.Frames {
		v.Frames = append(v.Frames, FrameView{
			Name:          f.Name,
			MaxSelections: f.MaxSelections,
			Duplicate:     f.Duplicate,
			Width:         f.Width,
			Height:        f.Height,
		})
	}
	return v
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Flow        *kiosk.Flow
	Broadcaster *StatusBroadcaster
	Settings    ConfigView
	Spool       *export.Spool // nil unless printing to the local spool
	Assets      fs.FS         // sticker and frame artwork, optional
	staticFS    fs.FS

	// serializes session start/retake against each other
	startMu   sync.Mutex
	runningMu sync.Mutex
	running   bool
	runs      sync.WaitGroup
	ctx       context.Context
}

// NewHandlers creates handlers with the given dependencies and forwards
// capture session events to the broadcaster.
func NewHandlers(flow *kiosk.Flow, broadcaster *StatusBroadcaster, settings ConfigView, spool *export.Spool, staticFS fs.FS) *Handlers {
	flow.Session().OnEvent(SessionObserver(broadcaster))
	return &Handlers{
		Flow:        flow,
		Broadcaster: broadcaster,
		Settings:    settings,
		Spool:       spool,
		staticFS:    staticFS,
		ctx:         context.Background(),
	}
}

// Wait blocks until background capture runs have returned.
func (h *Handlers) Wait() {
	h.runs.Wait()
}

func (h *Handlers) isRunning() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// launch runs the capture session in the background. Callers hold startMu.
func (h *Handlers) launch() {
	h.runningMu.Lock()
	h.running = true
	h.runningMu.Unlock()

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		err := h.Flow.Capture(h.ctx)
		switch {
		case err == nil:
			h.Broadcaster.Broadcast("info", "Capture complete")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.Broadcaster.Broadcast("info", "Capture stopped")
		default:
			h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
			log.Printf("capture failed: %v", err)
		}
	}()
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrInvalidRetakeTarget),
		errors.Is(err, selection.ErrUnknownShot),
		errors.Is(err, kiosk.ErrUnknownFrame),
		errors.Is(err, overlay.ErrInvalidScale),
		errors.Is(err, compose.ErrUnknownFilter):
		return http.StatusBadRequest
	case errors.Is(err, overlay.ErrUnknownElement),
		errors.Is(err, export.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrBusy),
		errors.Is(err, capture.ErrNotComplete),
		errors.Is(err, capture.ErrAlreadyComplete),
		errors.Is(err, selection.ErrSelectionFull),
		errors.Is(err, kiosk.ErrNoHandoff),
		errors.Is(err, kiosk.ErrSelectionIncomplete):
		return http.StatusConflict
	case errors.Is(err, compose.ErrResolution):
		return http.StatusBadGateway
	case errors.Is(err, capture.ErrCameraUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body of at most maxBodyBytes. An empty body
// leaves v untouched when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	http.Error(w, "invalid JSON", http.StatusBadRequest)
	return false
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return i, true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// HandleConfig returns the kiosk page settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// StartRequest is the body of POST /session.
type StartRequest struct {
	Frame     string `json:"frame"`
	OrderCode string `json:"order_code"`
}

// HandleStartSession handles POST /session: a new guest starts shooting.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.isRunning() {
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	h.Flow.Restart(r.Context())
	if err := h.Flow.Begin(req.Frame, req.OrderCode); err != nil {
		writeError(w, err)
		return
	}
	h.launch()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"session_id": h.Flow.Session().ID(),
	})
}

// HandleSessionState handles GET /session.
func (h *Handlers) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Flow.Session().Snapshot())
}

// HandleResetSession handles DELETE /session: the guest walked away.
// It waits for a start or retake in progress so no run is launched on the
// next guest's session.
func (h *Handlers) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	h.Flow.Restart(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// HandleRetake handles POST /session/retake/{index}.
func (h *Handlers) HandleRetake(w http.ResponseWriter, r *http.Request) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}

	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.isRunning() {
		writeError(w, capture.ErrBusy)
		return
	}
	if err := h.Flow.Session().Retake(i); err != nil {
		writeError(w, err)
		return
	}
	h.launch()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "retaking", "index": i})
}

// HandleAccept handles POST /session/accept.
func (h *Handlers) HandleAccept(w http.ResponseWriter, r *http.Request) {
	handoff, err := h.Flow.Accept(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

// SelectionView is the photo selection as shown to the guest.
type SelectionView struct {
	Frame    string `json:"frame"`
	Entries  []int  `json:"entries"`
	Complete bool   `json:"complete"`
}

func (h *Handlers) selectionView() (SelectionView, error) {
	entries, complete, err := h.Flow.Selection()
	if err != nil {
		return SelectionView{}, err
	}
	if entries == nil {
		entries = []int{}
	}
	return SelectionView{Frame: h.Flow.Frame().Name, Entries: entries, Complete: complete}, nil
}

// HandleSelection handles GET /selection.
func (h *Handlers) HandleSelection(w http.ResponseWriter, r *http.Request) {
	v, err := h.selectionView()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleToggleSelection handles POST /selection/{index}.
func (h *Handlers) HandleToggleSelection(w http.ResponseWriter, r *http.Request) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Flow.ToggleSelection(i); err != nil {
		writeError(w, err)
		return
	}
	h.HandleSelection(w, r)
}

// FilterRequest is the body of PUT /filter.
type FilterRequest struct {
	Name      string `json:"name"`
	Intensity int    `json:"intensity"`
}

// HandleFilter handles PUT /filter.
func (h *Handlers) HandleFilter(w http.ResponseWriter, r *http.Request) {
	req := FilterRequest{Intensity: 50}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Intensity < 0 || req.Intensity > 100 {
		http.Error(w, "intensity must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if err := h.Flow.SetFilter(req.Name, req.Intensity); err != nil {
		writeError(w, err)
		return
	}
	name, intensity := h.Flow.Filter()
	writeJSON(w, http.StatusOK, FilterRequest{Name: name, Intensity: intensity})
}

// SceneView is the sticker scene over the base photo.
type SceneView struct {
	Width    float64           `json:"width"`
	Height   float64           `json:"height"`
	Selected string            `json:"selected,omitempty"`
	Elements []overlay.Element `json:"elements"`
}

func (h *Handlers) scene(w http.ResponseWriter, r *http.Request) (*overlay.Scene, bool) {
	s, err := h.Flow.Scene(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func writeScene(w http.ResponseWriter, status int, s *overlay.Scene) {
	b := s.Bounds()
	writeJSON(w, status, SceneView{
		Width:    b.W,
		Height:   b.H,
		Selected: s.Selected(),
		Elements: s.Elements(),
	})
}

// HandleScene handles GET /scene.
func (h *Handlers) HandleScene(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	writeScene(w, http.StatusOK, s)
}

// HandleAddElement handles POST /scene/elements with {"asset": "..."}.
// When stickers are configured, only those may be placed.
func (h *Handlers) HandleAddElement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset string `json:"asset"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Asset == "" {
		http.Error(w, "asset is required", http.StatusBadRequest)
		return
	}
	if len(h.Settings.Stickers) > 0 && !slices.Contains(h.Settings.Stickers, req.Asset) {
		http.Error(w, fmt.Sprintf("unknown sticker %q", req.Asset), http.StatusBadRequest)
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	s.Add(req.Asset)
	writeScene(w, http.StatusCreated, s)
}

// HandleSelect handles POST /scene/select with {"id": "..."}; "" clears.
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	s.Select(req.ID)
	writeScene(w, http.StatusOK, s)
}

// PointRequest is a position on the base photo.
type PointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HandleHit handles POST /scene/hit: a tap selects the topmost element
// under the point, or clears the selection on empty space.
func (h *Handlers) HandleHit(w http.ResponseWriter, r *http.Request) {
	var req PointRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	id, _ := s.HitTest(req.X, req.Y)
	s.Select(id)
	writeScene(w, http.StatusOK, s)
}

// HandleMove handles POST /scene/elements/{id}/move.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req PointRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	if err := s.Move(chi.URLParam(r, "id"), req.X, req.Y); err != nil {
		writeError(w, err)
		return
	}
	writeScene(w, http.StatusOK, s)
}

// HandleRotate handles POST /scene/elements/{id}/rotate. Without a delta
// (radians) the element turns by the configured step.
func (h *Handlers) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta *float64 `json:"delta"`
	}
	if !decodeBody(w, r, &req, true) {
		return
	}
	if req.Delta != nil && !finite(*req.Delta) {
		http.Error(w, "delta must be finite", http.StatusBadRequest)
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if req.Delta == nil {
		err = s.RotateStep(id)
	} else {
		err = s.Rotate(id, *req.Delta)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeScene(w, http.StatusOK, s)
}

// HandleScale handles POST /scene/elements/{id}/scale.
func (h *Handlers) HandleScale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scale float64 `json:"scale"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	if err := s.Scale(chi.URLParam(r, "id"), req.Scale); err != nil {
		writeError(w, err)
		return
	}
	writeScene(w, http.StatusOK, s)
}

// HandleDeleteElement handles DELETE /scene/elements/{id}.
func (h *Handlers) HandleDeleteElement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scene(w, r)
	if !ok {
		return
	}
	if err := s.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeScene(w, http.StatusOK, s)
}

// OutcomeView is one export destination result.
type OutcomeView struct {
	OK    bool   `json:"ok"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error,omitempty"`
}

// ExportView is the export report shown on the final screen.
type ExportView struct {
	Status   string      `json:"status"` // ok, partial or failed
	Print    OutcomeView `json:"print"`
	Cloud    OutcomeView `json:"cloud"`
	PhotoURL string      `json:"photo_url,omitempty"`
}

func outcomeView(o export.Outcome) OutcomeView {
	if o.Err != nil {
		return OutcomeView{Error: o.Err.Error()}
	}
	return OutcomeView{OK: true, Ref: o.Receipt.Ref}
}

// NewExportView summarizes a report.
func NewExportView(rep export.Report) ExportView {
	v := ExportView{
		Status:   "ok",
		Print:    outcomeView(rep.Print),
		Cloud:    outcomeView(rep.Cloud),
		PhotoURL: rep.PhotoURL(),
	}
	err := rep.Err()
	switch {
	case errors.Is(err, export.ErrExportFailed):
		v.Status = "failed"
	case err != nil:
		v.Status = "partial"
	}
	return v
}

// HandleExport handles POST /export: compose and submit the photo.
// Destination failures are part of the report, not of the status code.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Flow.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	v := NewExportView(rep)
	level := "info"
	if v.Status != "ok" {
		level = "error"
	}
	h.Broadcaster.Publish(KindExport, level, "Export "+v.Status, v)
	writeJSON(w, http.StatusOK, v)
}

// HandleLastExport handles GET /export.
func (h *Handlers) HandleLastExport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Flow.LastReport()
	if !ok {
		http.Error(w, "nothing exported yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NewExportView(rep))
}

// HandlePrintQueue handles GET /print-queue.
func (h *Handlers) HandlePrintQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Spool.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []export.SpoolJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandlePrintJobImage handles GET /print-queue/{id}/image.
func (h *Handlers) HandlePrintJobImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.Spool.PNG(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// HandlePrintJobDone handles POST /print-queue/{id}/printed.
func (h *Handlers) HandlePrintJobDone(w http.ResponseWriter, r *http.Request) {
	if err := h.Spool.MarkPrinted(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
