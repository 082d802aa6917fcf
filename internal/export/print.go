package export

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// HTTPPrinter posts the composite to the kiosk print server:
//
//	POST <url>  multipart: photo (PNG file), uuid, frame  ->  {"ok": bool}
type HTTPPrinter struct {
	URL    string
	Client *http.Client
}

func (p *HTTPPrinter) Name() string { return "print" }

func (p *HTTPPrinter) Dispatch(ctx context.Context, job Job) (Receipt, error) {
	var reply struct {
		OK bool `json:"ok"`
	}
	fields := [][2]string{{"uuid", job.SessionID}, {"frame", job.Frame}}
	files := []formFile{{field: "photo", filename: job.ID + ".png", contentType: "image/png", data: job.PNG}}

	debug.Verbose("Print: sending %d bytes (session %s, frame %s)", len(job.PNG), job.SessionID, job.Frame)
	if err := postForm(ctx, p.Client, p.URL, fields, files, &reply); err != nil {
		return Receipt{}, err
	}
	if !reply.OK {
		return Receipt{}, fmt.Errorf("%w: print server answered ok=false", ErrRejected)
	}
	return Receipt{Destination: p.Name(), Ref: job.ID}, nil
}
