package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// HTTPUploader posts the composite to the cloud gallery:
//
//	POST <url>  multipart: photo (PNG data URL), order_code  ->  {"data": {"photo_url": "..."}}
//
// The returned photo URL is what the guest's QR code points at.
type HTTPUploader struct {
	URL    string
	Client *http.Client
}

func (u *HTTPUploader) Name() string { return "cloud" }

func (u *HTTPUploader) Dispatch(ctx context.Context, job Job) (Receipt, error) {
	var reply struct {
		Data struct {
			PhotoURL string `json:"photo_url"`
		} `json:"data"`
	}
	fields := [][2]string{
		{"photo", DataURL(job.PNG)},
		{"order_code", job.OrderCode},
	}

	debug.Verbose("Cloud: uploading %d bytes (order %s)", len(job.PNG), job.OrderCode)
	if err := postForm(ctx, u.Client, u.URL, fields, nil, &reply); err != nil {
		return Receipt{}, err
	}
	if reply.Data.PhotoURL == "" {
		return Receipt{}, fmt.Errorf("%w: upload reply without photo_url", ErrRejected)
	}
	return Receipt{Destination: u.Name(), Ref: reply.Data.PhotoURL}, nil
}

// DataURL encodes a PNG as a data: URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
