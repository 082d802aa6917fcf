package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/countdown"
)

// Params defines the shape of a capture session.
type Params struct {
	TargetCount   int           // photos per session
	CountdownFrom int           // countdown start value before each shot
	PollAttempts  int           // get_photo attempts before the camera is declared unavailable
	PollInterval  time.Duration // delay between get_photo attempts
}

func (p Params) withDefaults() Params {
	if p.TargetCount <= 0 {
		p.TargetCount = 8
	}
	if p.CountdownFrom < 0 {
		p.CountdownFrom = 0
	}
	if p.PollAttempts <= 0 {
		p.PollAttempts = 30
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 500 * time.Millisecond
	}
	return p
}

// Session is the capture state machine of one guest:
//
//	Idle -> Counting -> Capturing -> AwaitingResult -> Counting | Complete
//	AwaitingResult/Capturing -> Idle on camera failure
//
// Run drives cycles until every slot is filled; Retake re-arms one slot
// from Idle or Complete and leaves it armed in Counting until Run. Camera
// requests are never issued concurrently.
type Session struct {
	cam    camera.Service
	timer  *countdown.Timer
	params Params

	mu        sync.Mutex
	id        string
	phase     Phase
	shots     []Shot
	countdown int
	retake    int // -1 when no retake is pending
	running   bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
	liveView  bool // BeginLiveView attempted for this session
	liveEnded bool // EndLiveView attempted after accept
	lastErr   error
	onEvent   func(Event)
	captures  int
	fetches   int
}

// NewSession creates an Idle session with a fresh id and empty slots.
func NewSession(cam camera.Service, timer *countdown.Timer, p Params) *Session {
	s := &Session{
		cam:    cam,
		timer:  timer,
		params: p.withDefaults(),
	}
	s.resetLocked()
	return s
}

func (s *Session) resetLocked() {
	s.id = uuid.NewString()
	s.phase = Idle
	s.shots = make([]Shot, s.params.TargetCount)
	for i := range s.shots {
		s.shots[i].Index = i
	}
	s.countdown = s.params.CountdownFrom
	s.retake = -1
	s.liveView = false
	s.liveEnded = false
	s.lastErr = nil
	s.captures = 0
	s.fetches = 0
}

// OnEvent registers the observer. It is called outside the session lock
// from the goroutine driving the session; it must not block for long.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// ID returns the current session token.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Snapshot returns a copy of the observable state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID: s.id,
		Phase:     s.phase,
		Countdown: s.countdown,
		Target:    len(s.shots),
		Shots:     s.copyShotsLocked(),
		Running:   s.running,
	}
	if s.retake >= 0 {
		idx := s.retake
		st.RetakeIndex = &idx
	}
	st.Filled = s.filledLocked()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Requests returns how many capture and fetch requests this session issued.
func (s *Session) Requests() (captures, fetches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures, s.fetches
}

// Run drives countdown/capture cycles until the session is Complete.
//
// On camera failure the attempt is abandoned, the session returns to Idle
// and an error wrapping ErrCameraUnavailable is returned; calling Run again
// retries the same slot. Cancelling ctx stops the countdown and returns the
// session to Idle.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.phase == Complete && s.retake < 0 {
		s.mu.Unlock()
		return ErrAlreadyComplete
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancelRun = cancel
	s.runDone = done
	s.lastErr = nil
	id := s.id
	beginLive := !s.liveView
	s.liveView = true
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.runDone = nil
		s.mu.Unlock()
		close(done)
	}()

	debug.Info("Capture session %s: running", id)
	if beginLive {
		if err := s.cam.BeginLiveView(ctx, id); err != nil {
			// Preview degrades; capture still works.
			debug.Info("Live view unavailable: %v", err)
		}
	}

	for {
		s.mu.Lock()
		complete := s.phase == Complete
		s.mu.Unlock()
		if complete {
			debug.Info("Capture session %s: complete", id)
			return nil
		}
		if err := s.cycle(ctx, id); err != nil {
			return err
		}
	}
}

// cycle runs Counting -> Capturing -> AwaitingResult for one slot.
func (s *Session) cycle(ctx context.Context, id string) error {
	s.mu.Lock()
	entered := s.phase != Counting
	s.setPhaseLocked(Counting)
	s.countdown = s.params.CountdownFrom
	from := s.countdown
	s.mu.Unlock()
	if entered {
		s.emit(Event{Kind: EventPhase, SessionID: id, Phase: Counting})
	}
	s.emit(Event{Kind: EventCountdown, Phase: Counting, Countdown: from})

	events := s.timer.Start(from)
	expired := false
	for !expired {
		select {
		case <-ctx.Done():
			s.timer.Cancel()
			return s.fail(ctx.Err())
		case ev, ok := <-events:
			if !ok {
				// Superseded or cancelled from outside.
				return s.fail(context.Canceled)
			}
			if ev.Kind == countdown.Expired {
				expired = true
				continue
			}
			s.mu.Lock()
			s.countdown = ev.Remaining
			s.mu.Unlock()
			debug.Countdown(ev.Remaining)
			s.emit(Event{Kind: EventCountdown, Phase: Counting, Countdown: ev.Remaining})
		}
	}

	s.transition(Capturing)
	s.mu.Lock()
	s.captures++
	s.mu.Unlock()
	if err := s.cam.Capture(ctx, id); err != nil {
		if ctx.Err() != nil {
			return s.fail(ctx.Err())
		}
		return s.fail(fmt.Errorf("%w: capture: %v", ErrCameraUnavailable, err))
	}

	s.transition(AwaitingResult)
	latest, err := s.poll(ctx, id)
	if err != nil {
		return s.fail(err)
	}
	s.store(latest)
	return nil
}

// poll fetches the latest photo until it is ready, bounded by PollAttempts.
func (s *Session) poll(ctx context.Context, id string) (camera.Latest, error) {
	for attempt := 1; attempt <= s.params.PollAttempts; attempt++ {
		s.mu.Lock()
		s.fetches++
		s.mu.Unlock()

		latest, err := s.cam.FetchLatest(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return camera.Latest{}, ctx.Err()
			}
			return camera.Latest{}, fmt.Errorf("%w: get photo: %v", ErrCameraUnavailable, err)
		}
		if latest.Ready {
			return latest, nil
		}
		debug.Verbose("Photo not ready (attempt %d/%d)", attempt, s.params.PollAttempts)

		if attempt == s.params.PollAttempts {
			break
		}
		t := time.NewTimer(s.params.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return camera.Latest{}, ctx.Err()
		case <-t.C:
		}
	}
	return camera.Latest{}, fmt.Errorf("%w: no photo after %d attempts", ErrCameraUnavailable, s.params.PollAttempts)
}

// store writes the photo into the retake slot or the next empty one.
func (s *Session) store(latest camera.Latest) {
	s.mu.Lock()
	idx, retake := s.retake, s.retake >= 0
	if !retake {
		idx = s.nextEmptyLocked()
	}
	img := latest.Image
	shot := Shot{Index: idx, Image: &img}
	if latest.Video != nil {
		v := *latest.Video
		shot.Video = &v
	}
	s.shots[idx] = shot
	s.retake = -1
	next := Counting
	if s.filledLocked() == len(s.shots) {
		next = Complete
	}
	s.setPhaseLocked(next)
	id, total := s.id, len(s.shots)
	s.mu.Unlock()

	debug.Shot(idx, total, retake)
	s.emit(Event{Kind: EventShot, SessionID: id, Phase: next, Index: idx, Retake: retake})
	s.emit(Event{Kind: EventPhase, SessionID: id, Phase: next})
}

// fail aborts the current attempt: no slot is written and the session
// goes back to Idle. A pending retake target is kept for the retry.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.setPhaseLocked(Idle)
	s.countdown = s.params.CountdownFrom
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.lastErr = err
	}
	id := s.id
	s.mu.Unlock()

	debug.Error(err)
	s.emit(Event{Kind: EventError, SessionID: id, Phase: Idle, Err: err})
	return err
}

// Retake re-arms a filled slot. It is accepted from Idle or Complete, or
// to re-target a retake that is armed but not running yet. The session
// enters Counting and the next Run shoots that slot after a full countdown.
func (s *Session) Retake(index int) error {
	s.mu.Lock()
	if s.running || (s.phase != Idle && s.phase != Complete && !s.armedLocked()) {
		s.mu.Unlock()
		return ErrBusy
	}
	if index < 0 || index >= len(s.shots) || !s.shots[index].Filled() {
		s.mu.Unlock()
		return fmt.Errorf("%w: slot %d", ErrInvalidRetakeTarget, index)
	}
	if prev := s.retake; prev >= 0 && prev != index {
		s.shots[prev].Locked = s.shots[index].Locked
	}
	s.retake = index
	s.shots[index].Locked = false
	s.countdown = s.params.CountdownFrom
	if s.liveEnded {
		// The preview was released at accept; the next Run restarts it.
		s.liveView, s.liveEnded = false, false
	}
	s.setPhaseLocked(Counting)
	id := s.id
	s.mu.Unlock()

	debug.Live("Retake requested for photo %d", index+1)
	s.emit(Event{Kind: EventPhase, SessionID: id, Phase: Counting})
	return nil
}

// armedLocked reports a retake that was requested but whose Run has not
// started.
func (s *Session) armedLocked() bool {
	return s.phase == Counting && !s.running && s.retake >= 0
}

// Accept hands the shot set downstream. The session must be Complete, or
// hold a full set with an armed retake, which is dropped. Every shot is
// locked and the live view is released (once, best-effort).
func (s *Session) Accept(ctx context.Context) ([]Shot, error) {
	s.mu.Lock()
	if s.armedLocked() && s.filledLocked() == len(s.shots) {
		debug.Live("Retake of photo %d dropped", s.retake+1)
		s.retake = -1
		s.setPhaseLocked(Complete)
	}
	if s.running || s.phase != Complete {
		s.mu.Unlock()
		return nil, ErrNotComplete
	}
	for i := range s.shots {
		s.shots[i].Locked = true
	}
	shots := s.copyShotsLocked()
	endLive := s.liveView && !s.liveEnded
	s.liveEnded = true
	id := s.id
	s.mu.Unlock()

	if endLive {
		if err := s.cam.EndLiveView(ctx, id); err != nil {
			debug.Info("Stopping live view failed: %v", err)
		}
	}
	debug.Info("Capture session %s: %d photos accepted", id, len(shots))
	return shots, nil
}

// Reset abandons the session: any running cycle is cancelled and waited
// for, the live view is released and a new session id is issued.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	cancel, done := s.cancelRun, s.runDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.timer.Cancel()

	s.mu.Lock()
	endLive := s.liveView && !s.liveEnded
	oldID := s.id
	s.resetLocked()
	id := s.id
	s.mu.Unlock()

	if endLive {
		if err := s.cam.EndLiveView(ctx, oldID); err != nil {
			debug.Info("Stopping live view failed: %v", err)
		}
	}
	debug.Info("Capture session reset (new session %s)", id)
	s.emit(Event{Kind: EventPhase, SessionID: id, Phase: Idle})
}

func (s *Session) transition(to Phase) {
	s.mu.Lock()
	s.setPhaseLocked(to)
	id := s.id
	s.mu.Unlock()
	s.emit(Event{Kind: EventPhase, SessionID: id, Phase: to})
}

func (s *Session) setPhaseLocked(to Phase) {
	if s.phase != to {
		debug.Phase(s.phase.String(), to.String())
	}
	s.phase = to
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	fn := s.onEvent
	if ev.SessionID == "" {
		ev.SessionID = s.id
	}
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Session) nextEmptyLocked() int {
	for i, sh := range s.shots {
		if !sh.Filled() {
			return i
		}
	}
	return -1
}

func (s *Session) filledLocked() int {
	n := 0
	for _, sh := range s.shots {
		if sh.Filled() {
			n++
		}
	}
	return n
}

func (s *Session) copyShotsLocked() []Shot {
	out := make([]Shot, len(s.shots))
	for i, sh := range s.shots {
		out[i] = sh.clone()
	}
	return out
}
