package camera

import "context"

// ImageRef points at a photo (or clip) produced by the camera service.
// The kiosk treats it as opaque: it is stored in a shot slot and resolved
// to pixels only when the final print is composed.
type ImageRef struct {
	URL string `json:"url"`
}

// Latest is the answer to a "latest photo" request.
// Ready is false while the service has not produced the image yet;
// that is a normal answer, not an error.
type Latest struct {
	Ready bool
	Image ImageRef
	Video *ImageRef // optional clip recorded around the shot
}

// Service is the high-level interface used by the capture session.
// It represents an abstract camera service, regardless of how the
// camera is actually driven (tethered DSLR daemon, webcam bridge, mock).
//
// Calls for one session are issued strictly one at a time; implementations
// do not retry.
type Service interface {
	// BeginLiveView starts the preview stream. Failure only degrades preview.
	BeginLiveView(ctx context.Context, sessionID string) error
	// Capture fires the shutter once. It returns when the service acknowledged.
	Capture(ctx context.Context, sessionID string) error
	// FetchLatest returns the most recently produced photo for the session.
	FetchLatest(ctx context.Context, sessionID string) (Latest, error)
	// EndLiveView releases the preview stream. Best-effort.
	EndLiveView(ctx context.Context, sessionID string) error
}
