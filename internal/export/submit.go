package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/compose"
)

// Order carries the identifiers attached to an export.
type Order struct {
	SessionID string
	Frame     string
	OrderCode string
	Device    string
}

// Outcome is the result of one destination.
type Outcome struct {
	Receipt Receipt
	Err     error
}

// Report holds both outcomes of a submit.
type Report struct {
	Print Outcome
	Cloud Outcome
}

// Err summarizes the report: nil when both destinations succeeded,
// ErrExportPartialFailure when exactly one failed, ErrExportFailed otherwise.
func (r Report) Err() error {
	switch {
	case r.Print.Err == nil && r.Cloud.Err == nil:
		return nil
	case r.Print.Err != nil && r.Cloud.Err != nil:
		return fmt.Errorf("%w: print: %v; cloud: %v", ErrExportFailed, r.Print.Err, r.Cloud.Err)
	case r.Print.Err != nil:
		return fmt.Errorf("%w: print: %v", ErrExportPartialFailure, r.Print.Err)
	default:
		return fmt.Errorf("%w: cloud: %v", ErrExportPartialFailure, r.Cloud.Err)
	}
}

// PhotoURL returns the cloud gallery URL, "" if the upload failed.
func (r Report) PhotoURL() string {
	if r.Cloud.Err != nil {
		return ""
	}
	return r.Cloud.Receipt.Ref
}

// Submitter sends a composite to the print and cloud destinations.
type Submitter struct {
	Print   Dispatcher
	Cloud   Dispatcher
	Timeout time.Duration // per destination, 0 = none
}

// Submit dispatches the already-encoded composite to both destinations
// concurrently and returns once both have settled.
func (s *Submitter) Submit(ctx context.Context, res *compose.Result, order Order) Report {
	if res == nil {
		err := fmt.Errorf("nothing to export")
		return Report{Print: Outcome{Err: err}, Cloud: Outcome{Err: err}}
	}
	job := Job{
		ID:        uuid.NewString(),
		SessionID: order.SessionID,
		Frame:     order.Frame,
		OrderCode: order.OrderCode,
		Device:    order.Device,
		PNG:       res.PNG,
	}
	debug.Info("Export %s: session %s, frame %s, %d bytes", job.ID, job.SessionID, job.Frame, len(job.PNG))

	var report Report
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Print = s.dispatch(ctx, s.Print, job)
	}()
	go func() {
		defer wg.Done()
		report.Cloud = s.dispatch(ctx, s.Cloud, job)
	}()
	wg.Wait()

	debug.Dispatch("print", report.Print.Err)
	debug.Dispatch("cloud", report.Cloud.Err)
	return report
}

func (s *Submitter) dispatch(ctx context.Context, d Dispatcher, job Job) Outcome {
	if d == nil {
		return Outcome{Err: fmt.Errorf("no destination configured")}
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	r, err := d.Dispatch(ctx, job)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%s: %w", d.Name(), err)}
	}
	return Outcome{Receipt: r}
}
