package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/export"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/kiosk"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/compose"
)

const testYAML = `
camera:
  mock: true
capture:
  shot_count: 4
  countdown_seconds: 1
  poll_attempts: 3
  poll_interval_ms: 1
overlay:
  stickers: ["stickers/star.png"]
export:
  print_url: "http://printer.invalid/api/print"
  cloud_url: "http://cloud.invalid/upload"
`

const sticker = "stickers/star.png"

// gatedCamera holds every capture until the gate is closed.
type gatedCamera struct {
	*camera.Mock
	gate    chan struct{}
	entered chan struct{}
}

func (c *gatedCamera) Capture(ctx context.Context, sessionID string) error {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	select {
	case <-c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Mock.Capture(ctx, sessionID)
}

type recordingDispatcher struct {
	name string
	err  error

	mu   sync.Mutex
	jobs []export.Job
}

func (d *recordingDispatcher) Name() string { return d.name }

func (d *recordingDispatcher) Dispatch(_ context.Context, job export.Job) (export.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	if d.err != nil {
		return export.Receipt{}, d.err
	}
	return export.Receipt{Destination: d.name, Ref: "https://gallery.example/" + job.ID}, nil
}

type options struct {
	gated    bool
	cloudErr error
	spool    bool
}

type fixture struct {
	flow   *kiosk.Flow
	h      *Handlers
	router http.Handler
	cam    *gatedCamera
	print  *recordingDispatcher
	cloud  *recordingDispatcher
	spool  *export.Spool
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cam := &gatedCamera{
		Mock:    camera.NewMock(64, 48),
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	if !opts.gated {
		close(cam.gate)
	}
	star := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(star, star.Bounds(), image.NewUniform(color.RGBA{255, 200, 0, 255}), image.Point{}, draw.Src)
	mux := compose.NewMux(compose.ResolverFunc(func(_ context.Context, ref string) (image.Image, error) {
		if ref != sticker {
			return nil, fmt.Errorf("no asset %q", ref)
		}
		return star, nil
	}))
	mux.Handle("mock", cam.Mock)

	fx := &fixture{
		cam:   cam,
		print: &recordingDispatcher{name: "print"},
		cloud: &recordingDispatcher{name: "cloud", err: opts.cloudErr},
	}
	sub := &export.Submitter{Print: fx.print, Cloud: fx.cloud}
	if opts.spool {
		fx.spool, err = export.OpenSpool(":memory:")
		if err != nil {
			t.Fatalf("OpenSpool: %v", err)
		}
		t.Cleanup(func() { fx.spool.Close() })
		sub.Print = fx.spool
	}

	fx.flow = kiosk.New(kiosk.Deps{
		Config:    cfg,
		Camera:    cam,
		Resolver:  mux,
		Submitter: sub,
		Tick:      time.Millisecond,
	})
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
		"app.js":     &fstest.MapFile{Data: []byte("// js")},
	}
	fx.h = NewHandlers(fx.flow, NewStatusBroadcaster(), NewConfigView(cfg), fx.spool, staticFS)
	fx.h.Assets = fstest.MapFS{sticker: &fstest.MapFile{Data: []byte("png")}}
	fx.router = NewServer(":0", fx.h).Router()
	t.Cleanup(func() {
		fx.flow.Restart(context.Background())
		fx.h.Wait()
	})
	return fx
}

func (fx *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func (fx *fixture) expect(t *testing.T, method, path, body string, status int) *httptest.ResponseRecorder {
	t.Helper()
	w := fx.do(t, method, path, body)
	if w.Code != status {
		t.Fatalf("%s %s: status = %d, want %d (body %q)", method, path, w.Code, status, w.Body.String())
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, w.Body.String())
	}
	return v
}

// ready takes the photos, accepts them and fills the 2-photo frame.
func (fx *fixture) ready(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := fx.flow.Begin("2cut-x2", "ORDER-1"); err != nil {
		t.Fatal(err)
	}
	if err := fx.flow.Capture(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.flow.Accept(ctx); err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 1} {
		if _, err := fx.flow.ToggleSelection(i); err != nil {
			t.Fatal(err)
		}
	}
}

// ---------- static & config ----------

func TestServeIndex(t *testing.T) {
	fx := newFixture(t, options{})
	w := fx.expect(t, http.MethodGet, "/", "", http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
	fx.expect(t, http.MethodGet, "/static/app.js", "", http.StatusOK)
	fx.expect(t, http.MethodGet, "/assets/"+sticker, "", http.StatusOK)
}

func TestHandleConfig(t *testing.T) {
	fx := newFixture(t, options{})
	cv := decode[ConfigView](t, fx.expect(t, http.MethodGet, "/config", "", http.StatusOK))

	if cv.ShotCount != 4 || cv.CountdownSeconds != 1 {
		t.Errorf("config = %+v", cv)
	}
	if len(cv.Frames) == 0 || cv.Frames[0].Name != "Stripx2" {
		t.Errorf("frames = %+v", cv.Frames)
	}
	if len(cv.Stickers) != 1 || cv.Stickers[0] != sticker {
		t.Errorf("stickers = %v", cv.Stickers)
	}
	if len(cv.Filters) != 5 {
		t.Errorf("filters = %v", cv.Filters)
	}
}

// ---------- session ----------

func TestSession_CaptureRetakeAccept(t *testing.T) {
	fx := newFixture(t, options{})

	w := fx.expect(t, http.MethodPost, "/session", `{"frame":"2cut-x2","order_code":"A1"}`, http.StatusAccepted)
	started := decode[map[string]string](t, w)
	if started["status"] != "started" || started["session_id"] == "" {
		t.Fatalf("response = %v", started)
	}
	fx.h.Wait()

	st := decode[capture.State](t, fx.expect(t, http.MethodGet, "/session", "", http.StatusOK))
	if st.Phase != capture.Complete || st.Filled != 4 || st.SessionID != started["session_id"] {
		t.Fatalf("state = %+v", st)
	}
	before := st.Shots[1].Image.URL

	fx.expect(t, http.MethodPost, "/session/retake/1", "", http.StatusAccepted)
	fx.h.Wait()
	st = decode[capture.State](t, fx.expect(t, http.MethodGet, "/session", "", http.StatusOK))
	if st.Phase != capture.Complete || st.Shots[1].Image.URL == before {
		t.Errorf("retake did not replace slot 1: %+v", st.Shots[1])
	}

	h := decode[kiosk.Handoff](t, fx.expect(t, http.MethodPost, "/session/accept", "", http.StatusOK))
	if len(h.Shots) != 4 || h.Frame != "2cut-x2" || h.OrderCode != "A1" {
		t.Errorf("handoff = %+v", h)
	}
}

func TestSession_StartErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown_frame", `{"frame":"nope"}`, http.StatusBadRequest},
		{"invalid_json", "not json", http.StatusBadRequest},
		{"oversized", `{"frame":"` + strings.Repeat("x", 2<<20) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, options{})
			fx.expect(t, http.MethodPost, "/session", tc.body, tc.want)
		})
	}
}

func TestSession_EmptyBodyUsesDefaultFrame(t *testing.T) {
	fx := newFixture(t, options{})
	fx.expect(t, http.MethodPost, "/session", "", http.StatusAccepted)
	fx.h.Wait()
	if got := fx.flow.Frame().Name; got != "Stripx2" {
		t.Errorf("frame = %q, want Stripx2", got)
	}
}

func TestSession_ConflictWhileRunning(t *testing.T) {
	fx := newFixture(t, options{gated: true})

	fx.expect(t, http.MethodPost, "/session", "", http.StatusAccepted)
	select {
	case <-fx.cam.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("capture never reached the camera")
	}

	fx.expect(t, http.MethodPost, "/session", "", http.StatusConflict)
	fx.expect(t, http.MethodPost, "/session/retake/0", "", http.StatusConflict)
	fx.expect(t, http.MethodPost, "/session/accept", "", http.StatusConflict)

	fx.expect(t, http.MethodDelete, "/session", "", http.StatusNoContent)
	fx.h.Wait()

	st := decode[capture.State](t, fx.expect(t, http.MethodGet, "/session", "", http.StatusOK))
	if st.Phase != capture.Idle || st.Filled != 0 || st.Running {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestSession_ResetWaitsForRetakeLaunch(t *testing.T) {
	fx := newFixture(t, options{})
	fx.expect(t, http.MethodPost, "/session", "", http.StatusAccepted)
	fx.h.Wait()

	// A retake holds the start lock between arming the slot and launching.
	fx.h.startMu.Lock()
	done := make(chan int, 1)
	go func() { done <- fx.do(t, http.MethodDelete, "/session", "").Code }()
	select {
	case code := <-done:
		fx.h.startMu.Unlock()
		t.Fatalf("DELETE returned %d while a retake was launching", code)
	case <-time.After(50 * time.Millisecond):
	}
	fx.h.startMu.Unlock()

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Errorf("DELETE = %d, want 204", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DELETE never completed")
	}
	fx.h.Wait()
	st := decode[capture.State](t, fx.expect(t, http.MethodGet, "/session", "", http.StatusOK))
	if st.Phase != capture.Idle || st.Filled != 0 || st.Running {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestRetake_Errors(t *testing.T) {
	fx := newFixture(t, options{})
	fx.expect(t, http.MethodPost, "/session/retake/abc", "", http.StatusBadRequest)
	fx.expect(t, http.MethodPost, "/session/retake/0", "", http.StatusBadRequest)
	fx.expect(t, http.MethodPost, "/session/retake/99", "", http.StatusBadRequest)
}

func TestDownstream_NeedHandoff(t *testing.T) {
	fx := newFixture(t, options{})
	fx.expect(t, http.MethodPost, "/session/accept", "", http.StatusConflict)
	fx.expect(t, http.MethodGet, "/selection", "", http.StatusConflict)
	fx.expect(t, http.MethodPost, "/selection/0", "", http.StatusConflict)
	fx.expect(t, http.MethodGet, "/scene", "", http.StatusConflict)
	fx.expect(t, http.MethodPost, "/export", "", http.StatusConflict)
	fx.expect(t, http.MethodGet, "/export", "", http.StatusNotFound)
}

// ---------- selection & filter ----------

func TestSelection_Toggle(t *testing.T) {
	fx := newFixture(t, options{})
	ctx := context.Background()
	if err := fx.flow.Begin("2cut-x2", ""); err != nil {
		t.Fatal(err)
	}
	if err := fx.flow.Capture(ctx); err != nil {
		t.Fatal(err)
	}
	fx.expect(t, http.MethodPost, "/session/accept", "", http.StatusOK)

	sv := decode[SelectionView](t, fx.expect(t, http.MethodGet, "/selection", "", http.StatusOK))
	if len(sv.Entries) != 0 || sv.Complete || sv.Frame != "2cut-x2" {
		t.Fatalf("selection = %+v", sv)
	}
	fx.expect(t, http.MethodGet, "/scene", "", http.StatusConflict)

	fx.expect(t, http.MethodPost, "/selection/2", "", http.StatusOK)
	sv = decode[SelectionView](t, fx.expect(t, http.MethodPost, "/selection/0", "", http.StatusOK))
	if !sv.Complete || len(sv.Entries) != 2 || sv.Entries[0] != 2 {
		t.Fatalf("selection = %+v", sv)
	}
	fx.expect(t, http.MethodPost, "/selection/3", "", http.StatusConflict)
	fx.expect(t, http.MethodPost, "/selection/9", "", http.StatusBadRequest)

	sv = decode[SelectionView](t, fx.expect(t, http.MethodPost, "/selection/2", "", http.StatusOK))
	if sv.Complete || len(sv.Entries) != 1 {
		t.Errorf("after removal = %+v", sv)
	}
}

func TestFilter(t *testing.T) {
	fx := newFixture(t, options{})
	got := decode[FilterRequest](t, fx.expect(t, http.MethodPut, "/filter", `{"name":"bw","intensity":80}`, http.StatusOK))
	if got.Name != "bw" || got.Intensity != 80 {
		t.Errorf("filter = %+v", got)
	}
	fx.expect(t, http.MethodPut, "/filter", `{"name":"sparkle"}`, http.StatusBadRequest)
	fx.expect(t, http.MethodPut, "/filter", `{"name":"bw","intensity":101}`, http.StatusBadRequest)
	if name, _ := fx.flow.Filter(); name != "bw" {
		t.Errorf("rejected request changed the filter to %q", name)
	}
}

// ---------- scene ----------

func TestScene_EditElements(t *testing.T) {
	fx := newFixture(t, options{})
	fx.ready(t)

	sv := decode[SceneView](t, fx.expect(t, http.MethodGet, "/scene", "", http.StatusOK))
	if sv.Width != 1200 || sv.Height != 1800 || len(sv.Elements) != 0 {
		t.Fatalf("scene = %+v", sv)
	}

	fx.expect(t, http.MethodPost, "/scene/elements", `{"asset":"stickers/heart.png"}`, http.StatusBadRequest)
	fx.expect(t, http.MethodPost, "/scene/elements", `{}`, http.StatusBadRequest)
	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, "/scene/elements", `{"asset":"`+sticker+`"}`, http.StatusCreated))
	if len(sv.Elements) != 1 || sv.Selected != sv.Elements[0].ID {
		t.Fatalf("after add = %+v", sv)
	}
	id := sv.Elements[0].ID
	base := "/scene/elements/" + id

	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, base+"/move", `{"x":-1000,"y":-1000}`, http.StatusOK))
	if e := sv.Elements[0]; e.X != 50 || e.Y != 50 {
		t.Errorf("move not clamped: (%v, %v)", e.X, e.Y)
	}

	fx.expect(t, http.MethodPost, base+"/scale", `{"scale":-1}`, http.StatusBadRequest)
	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, base+"/scale", `{"scale":2}`, http.StatusOK))
	e := sv.Elements[0]
	if e.Scale != 2 || e.X != 100 || e.Y != 100 {
		t.Errorf("after scale = %+v", e)
	}

	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, "/scene/hit", `{"x":1100,"y":1700}`, http.StatusOK))
	if sv.Selected != "" {
		t.Errorf("tap on empty space selected %q", sv.Selected)
	}
	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, "/scene/hit", `{"x":100,"y":100}`, http.StatusOK))
	if sv.Selected != id {
		t.Errorf("tap on element selected %q, want %q", sv.Selected, id)
	}

	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, base+"/rotate", "", http.StatusOK))
	e = sv.Elements[0]
	if math.Abs(e.Rotation-math.Pi/4) > 1e-9 {
		t.Errorf("rotation = %v, want π/4", e.Rotation)
	}
	if reach := 100 * math.Sqrt2; e.X < reach-1e-6 || e.Y < reach-1e-6 {
		t.Errorf("rotated element leaves the photo: (%v, %v)", e.X, e.Y)
	}
	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, base+"/rotate", `{"delta":0.5}`, http.StatusOK))
	if got := sv.Elements[0].Rotation; math.Abs(got-(math.Pi/4+0.5)) > 1e-9 {
		t.Errorf("rotation = %v, want π/4+0.5", got)
	}

	sv = decode[SceneView](t, fx.expect(t, http.MethodPost, "/scene/select", `{"id":""}`, http.StatusOK))
	if sv.Selected != "" {
		t.Errorf("select \"\" kept %q", sv.Selected)
	}

	fx.expect(t, http.MethodPost, "/scene/elements/nope/move", `{"x":1,"y":1}`, http.StatusNotFound)
	fx.expect(t, http.MethodDelete, "/scene/elements/nope", "", http.StatusNotFound)
	sv = decode[SceneView](t, fx.expect(t, http.MethodDelete, base, "", http.StatusOK))
	if len(sv.Elements) != 0 {
		t.Errorf("elements after delete = %+v", sv.Elements)
	}
}

// ---------- export ----------

func TestExport_BothDestinations(t *testing.T) {
	fx := newFixture(t, options{})
	fx.ready(t)
	fx.expect(t, http.MethodPost, "/scene/elements", `{"asset":"`+sticker+`"}`, http.StatusCreated)

	ev := decode[ExportView](t, fx.expect(t, http.MethodPost, "/export", "", http.StatusOK))
	if ev.Status != "ok" || !ev.Print.OK || !ev.Cloud.OK || ev.PhotoURL == "" {
		t.Fatalf("export = %+v", ev)
	}
	if len(fx.print.jobs) != 1 || len(fx.cloud.jobs) != 1 {
		t.Fatalf("jobs = %d print, %d cloud", len(fx.print.jobs), len(fx.cloud.jobs))
	}
	if job := fx.print.jobs[0]; job.OrderCode != "ORDER-1" || job.Frame != "2cut-x2" || len(job.PNG) == 0 {
		t.Errorf("print job = %+v", job)
	}

	last := decode[ExportView](t, fx.expect(t, http.MethodGet, "/export", "", http.StatusOK))
	if last.PhotoURL != ev.PhotoURL {
		t.Errorf("last export = %+v", last)
	}
}

func TestExport_PartialFailureIsReported(t *testing.T) {
	fx := newFixture(t, options{cloudErr: errors.New("gallery down")})
	fx.ready(t)

	ev := decode[ExportView](t, fx.expect(t, http.MethodPost, "/export", "", http.StatusOK))
	if ev.Status != "partial" || !ev.Print.OK || ev.Cloud.OK || ev.PhotoURL != "" {
		t.Errorf("export = %+v", ev)
	}
	if !strings.Contains(ev.Cloud.Error, "gallery down") {
		t.Errorf("cloud error = %q", ev.Cloud.Error)
	}
}

func TestPrintQueue(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		fx := newFixture(t, options{})
		fx.expect(t, http.MethodGet, "/print-queue", "", http.StatusNotFound)
	})

	t.Run("spool", func(t *testing.T) {
		fx := newFixture(t, options{spool: true})
		jobs := decode[[]export.SpoolJob](t, fx.expect(t, http.MethodGet, "/print-queue", "", http.StatusOK))
		if len(jobs) != 0 {
			t.Fatalf("jobs = %+v", jobs)
		}

		fx.ready(t)
		fx.expect(t, http.MethodPost, "/export", "", http.StatusOK)

		jobs = decode[[]export.SpoolJob](t, fx.expect(t, http.MethodGet, "/print-queue", "", http.StatusOK))
		if len(jobs) != 1 || jobs[0].OrderCode != "ORDER-1" {
			t.Fatalf("jobs = %+v", jobs)
		}
		path := "/print-queue/" + jobs[0].ID
		w := fx.expect(t, http.MethodGet, path+"/image", "", http.StatusOK)
		if ct := w.Header().Get("Content-Type"); ct != "image/png" || w.Body.Len() != jobs[0].Size {
			t.Errorf("image: type %q, %d bytes (want %d)", ct, w.Body.Len(), jobs[0].Size)
		}
		fx.expect(t, http.MethodPost, path+"/printed", "", http.StatusNoContent)
		fx.expect(t, http.MethodPost, path+"/printed", "", http.StatusNotFound)
		fx.expect(t, http.MethodGet, "/print-queue/nope/image", "", http.StatusNotFound)
	})
}

// ---------- SSE ----------

func TestStatusStream(t *testing.T) {
	fx := newFixture(t, options{})
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	fx.h.Broadcaster.Broadcast("info", "ping")
	for {
		line, err = rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var evt StatusEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &evt); err != nil {
				t.Fatal(err)
			}
			if evt.Msg != "ping" {
				t.Errorf("msg = %q, want ping", evt.Msg)
			}
			return
		}
	}
}
