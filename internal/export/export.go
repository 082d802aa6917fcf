// Package export delivers the finished composite to its two destinations:
// the print queue and the cloud gallery.
package export

import (
	"context"
	"errors"
)

var (
	// ErrExportPartialFailure: one destination failed, the other succeeded.
	ErrExportPartialFailure = errors.New("export partially failed")
	// ErrExportFailed: both destinations failed.
	ErrExportFailed = errors.New("export failed")
	// ErrRejected: the destination answered but refused the job.
	ErrRejected = errors.New("export rejected")
	// ErrUnknownJob: no such job in the print spool.
	ErrUnknownJob = errors.New("unknown print job")
)

// Job is one composite on its way to a destination.
type Job struct {
	ID        string // unique per dispatch attempt
	SessionID string
	Frame     string
	OrderCode string
	Device    string
	PNG       []byte
}

// Receipt identifies what a destination did with a job.
type Receipt struct {
	Destination string `json:"destination"`
	Ref         string `json:"ref"` // print job id, spool id or photo URL
}

// Dispatcher sends a job to one destination.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, job Job) (Receipt, error)
}
