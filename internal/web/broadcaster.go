package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/capture"
)

// Event kinds sent on the status stream.
const (
	KindLog       = "log"
	KindPhase     = "phase"
	KindCountdown = "countdown"
	KindShot      = "shot"
	KindError     = "error"
	KindExport    = "export"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Kind  string `json:"k"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends an event to all subscribed clients as JSON:
// {"t":"...","k":"phase","l":"info","msg":"...","data":{...}}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(kind, level, msg string, data any) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Kind:  kind,
		Level: level,
		Msg:   msg,
		Data:  data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- string(payload):
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a log line with the given level.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(KindLog, level, msg, nil)
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// SessionObserver forwards capture session events to the stream.
func SessionObserver(b *StatusBroadcaster) func(capture.Event) {
	return func(ev capture.Event) {
		switch ev.Kind {
		case capture.EventPhase:
			b.Publish(KindPhase, "info", "", map[string]any{
				"session_id": ev.SessionID,
				"phase":      ev.Phase,
			})
		case capture.EventCountdown:
			b.Publish(KindCountdown, "info", "", map[string]any{"remaining": ev.Countdown})
		case capture.EventShot:
			b.Publish(KindShot, "info", "", map[string]any{
				"index":  ev.Index,
				"retake": ev.Retake,
			})
		case capture.EventError:
			msg := ""
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			b.Publish(KindError, "error", msg, map[string]any{"phase": ev.Phase})
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
