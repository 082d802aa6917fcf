// Package countdown provides the cancellable per-second tick source that
// paces every shot of a capture session.
package countdown

import (
	"sync"
	"time"
)

// Kind distinguishes intermediate ticks from the terminal event.
type Kind int

const (
	Tick Kind = iota
	Expired
)

// Event is emitted by a running Timer.
type Event struct {
	Kind      Kind
	Remaining int
}

// Timer emits one Tick per interval, counting down to 0, then one Expired.
// At most one run is active: Start supersedes the previous run.
type Timer struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a timer ticking every interval (one second on the kiosk).
func New(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{interval: interval}
}

// Start cancels any previous run and counts down from `from`.
//
// The returned channel receives Tick events for from-1 ... 0, then a single
// Expired event, then is closed. from <= 0 expires after one interval
// without ticks. The channel is also closed (without Expired) on Cancel.
func (t *Timer) Start(from int) <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()

	events := make(chan Event)
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go t.run(from, events, stop, done)
	return events
}

// Cancel stops the current run. When Cancel returns no further event
// will be delivered. Cancelling an idle timer is a no-op.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Running reports whether a run is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Timer) cancelLocked() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *Timer) run(from int, events chan<- Event, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(events)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	remaining := from
	if remaining < 0 {
		remaining = 0
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ev := Event{Kind: Expired}
		if remaining > 0 {
			remaining--
			ev = Event{Kind: Tick, Remaining: remaining}
		}
		if !send(events, ev, stop) {
			return
		}
		if ev.Kind == Tick && remaining == 0 {
			// The counter reached 0 on this tick; expire right away.
			if !send(events, Event{Kind: Expired}, stop) {
				return
			}
		}
		if remaining == 0 {
			return
		}
	}
}

// send delivers ev unless stop is closed first. stop is checked on its own
// before the send so a cancelled run never wins the race against Cancel.
func send(events chan<- Event, ev Event, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	default:
	}
	select {
	case events <- ev:
		return true
	case <-stop:
		return false
	}
}
