package camera

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordingService is an httptest handler that records requests
// and answers get_photo with a scripted sequence of bodies.
type recordingService struct {
	mu       sync.Mutex
	requests []string
	captures []string // session ids posted to /api/capture
	photos   []string // bodies returned by get_photo, consumed in order
	status   int
}

func (s *recordingService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	switch r.URL.Path {
	case "/api/capture":
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.captures = append(s.captures, body["sessionId"])
		w.WriteHeader(http.StatusOK)
	case "/api/get_photo":
		body := `{"images":[]}`
		if len(s.photos) > 0 {
			body, s.photos = s.photos[0], s.photos[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func newTestClient(t *testing.T, svc *recordingService) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestNewHTTPClient_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://camera", "camera.local", "://"} {
		if _, err := NewHTTPClient(u, time.Second); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestHTTPClient_ImplementsService(t *testing.T) {
	var _ Service = (*HTTPClient)(nil)
	var _ Service = (*Mock)(nil)
}

func TestHTTPClient_LiveViewRoutes(t *testing.T) {
	svc := &recordingService{}
	c := newTestClient(t, svc)
	ctx := context.Background()

	if err := c.BeginLiveView(ctx, "abc"); err != nil {
		t.Fatalf("BeginLiveView: %v", err)
	}
	if err := c.EndLiveView(ctx, "abc"); err != nil {
		t.Fatalf("EndLiveView: %v", err)
	}

	want := []string{
		"GET /api/start_live_view?sessionId=abc",
		"GET /api/stop_live_view?sessionId=abc",
	}
	if len(svc.requests) != len(want) {
		t.Fatalf("requests = %v, want %v", svc.requests, want)
	}
	for i := range want {
		if svc.requests[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, svc.requests[i], want[i])
		}
	}
}

func TestHTTPClient_CapturePostsSessionID(t *testing.T) {
	svc := &recordingService{}
	c := newTestClient(t, svc)

	if err := c.Capture(context.Background(), "session-42"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(svc.captures) != 1 || svc.captures[0] != "session-42" {
		t.Errorf("captures = %v, want [session-42]", svc.captures)
	}
}

func TestHTTPClient_FetchLatest(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantReady bool
		wantURL   string
		wantVideo string
		wantErr   bool
	}{
		{"not_ready", `{"images":[]}`, false, "", "", false},
		{"missing_images", `{}`, false, "", "", false},
		{"single", `{"images":[{"url":"http://cam/1.jpg"}]}`, true, "http://cam/1.jpg", "", false},
		{"newest_last", `{"images":[{"url":"a"},{"url":"b"}]}`, true, "b", "", false},
		{"with_video", `{"images":[{"url":"a"}],"videos":[{"url":"v.mp4"}]}`, true, "a", "v.mp4", false},
		{"malformed", `{"images":`, false, "", "", true},
		{"empty_url", `{"images":[{"url":""}]}`, false, "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &recordingService{photos: []string{tc.body}}
			c := newTestClient(t, svc)

			got, err := c.FetchLatest(context.Background(), "s1")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchLatest: %v", err)
			}
			if got.Ready != tc.wantReady {
				t.Errorf("Ready = %v, want %v", got.Ready, tc.wantReady)
			}
			if got.Image.URL != tc.wantURL {
				t.Errorf("URL = %q, want %q", got.Image.URL, tc.wantURL)
			}
			if tc.wantVideo == "" && got.Video != nil {
				t.Errorf("unexpected video %+v", got.Video)
			}
			if tc.wantVideo != "" && (got.Video == nil || got.Video.URL != tc.wantVideo) {
				t.Errorf("Video = %+v, want %q", got.Video, tc.wantVideo)
			}
		})
	}
}

func TestHTTPClient_ServerErrorIsError(t *testing.T) {
	svc := &recordingService{status: http.StatusInternalServerError}
	c := newTestClient(t, svc)
	ctx := context.Background()

	if err := c.Capture(ctx, "s"); err == nil {
		t.Error("Capture: expected error on 500")
	}
	if _, err := c.FetchLatest(ctx, "s"); err == nil {
		t.Error("FetchLatest: expected error on 500")
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := NewHTTPClient(srv.URL, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Capture(context.Background(), "s"); err == nil {
		t.Error("expected timeout error, got nil")
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(url, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.BeginLiveView(context.Background(), "s"); err == nil {
		t.Error("expected error for unreachable service")
	}
}

// ---------- Mock ----------

func TestMock_NotReadyBeforeCapture(t *testing.T) {
	m := NewMock(32, 24)
	got, err := m.FetchLatest(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	if got.Ready {
		t.Error("expected not ready before any capture")
	}
}

func TestMock_CaptureThenResolve(t *testing.T) {
	m := NewMock(32, 24)
	ctx := context.Background()

	if err := m.BeginLiveView(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	if !m.LiveView("s") {
		t.Error("live view should be on")
	}
	if err := m.Capture(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	first, _ := m.FetchLatest(ctx, "s")
	if err := m.Capture(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	second, _ := m.FetchLatest(ctx, "s")
	if !first.Ready || !second.Ready || first.Image.URL == second.Image.URL {
		t.Fatalf("expected two distinct ready photos, got %+v / %+v", first, second)
	}

	img, err := m.Resolve(ctx, second.Image.URL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 32, 24) {
		t.Errorf("bounds = %v, want 32x24", img.Bounds())
	}

	again, _ := m.Resolve(ctx, second.Image.URL)
	if img.At(5, 5) != again.At(5, 5) {
		t.Error("Resolve should be deterministic")
	}

	if err := m.EndLiveView(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	if m.LiveView("s") {
		t.Error("live view should be off")
	}
}

func TestMock_ResolveRejectsForeignRefs(t *testing.T) {
	m := NewMock(8, 8)
	for _, ref := range []string{"http://x/1.jpg", "mock://nosuffix", "mock://s/zero", "mock://s/0"} {
		if _, err := m.Resolve(context.Background(), ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}
