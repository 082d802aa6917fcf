package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// maxResponseBytes bounds how much of a camera service reply is read.
const maxResponseBytes = 1 << 20

// HTTPClient talks to the camera service over its JSON HTTP API:
//
//	GET  /api/start_live_view
//	POST /api/capture            {"sessionId": "..."}
//	GET  /api/get_photo?sessionId=...
//	GET  /api/stop_live_view
type HTTPClient struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// NewHTTPClient creates a client for the camera service at baseURL.
// timeout applies to each request individually.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse camera base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("camera base url must be http(s), got %q", baseURL)
	}
	return &HTTPClient{
		base:    u,
		http:    &http.Client{},
		timeout: timeout,
	}, nil
}

type photoResponse struct {
	Images []ImageRef `json:"images"`
	Videos []ImageRef `json:"videos,omitempty"`
}

// BeginLiveView asks the service to start streaming the preview.
func (c *HTTPClient) BeginLiveView(ctx context.Context, sessionID string) error {
	debug.Verbose("Camera: start live view (session %s)", sessionID)
	_, err := c.do(ctx, http.MethodGet, "/api/start_live_view", sessionID, nil)
	return err
}

// Capture triggers one shutter event.
func (c *HTTPClient) Capture(ctx context.Context, sessionID string) error {
	debug.Verbose("Camera: capture (session %s)", sessionID)
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/api/capture", "", body)
	return err
}

// FetchLatest asks for the most recent photo. An empty images list means
// the photo is not ready yet. The last listed image is the newest one.
func (c *HTTPClient) FetchLatest(ctx context.Context, sessionID string) (Latest, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/get_photo", sessionID, nil)
	if err != nil {
		return Latest{}, err
	}

	var resp photoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Latest{}, fmt.Errorf("decode get_photo response: %w", err)
	}
	if len(resp.Images) == 0 {
		debug.Trace("Camera: get_photo not ready")
		return Latest{}, nil
	}

	latest := Latest{Ready: true, Image: resp.Images[len(resp.Images)-1]}
	if latest.Image.URL == "" {
		return Latest{}, fmt.Errorf("decode get_photo response: image without url")
	}
	if n := len(resp.Videos); n > 0 && resp.Videos[n-1].URL != "" {
		v := resp.Videos[n-1]
		latest.Video = &v
	}
	debug.Verbose("Camera: latest photo %s", latest.Image.URL)
	return latest, nil
}

// EndLiveView releases the preview stream.
func (c *HTTPClient) EndLiveView(ctx context.Context, sessionID string) error {
	debug.Verbose("Camera: stop live view (session %s)", sessionID)
	_, err := c.do(ctx, http.MethodGet, "/api/stop_live_view", sessionID, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path, sessionID string, body []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := *c.base
	u.Path = c.base.Path + path
	if sessionID != "" {
		q := u.Query()
		q.Set("sessionId", sessionID)
		u.RawQuery = q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	debug.Trace("Camera: %s %s -> %d (%d bytes)", method, path, resp.StatusCode, len(data))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return data, nil
}
