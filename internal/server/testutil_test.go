package server

import (
	"sync"
	"testing"
	"time"

	"udig-server/internal/artifact"
	"udig-server/internal/config"
)

// recordedEvent is one delivery captured by the recording broadcaster.
type recordedEvent struct {
	Scope   string // "room", "all" or "conn"
	Target  string
	Event   string
	Payload interface{}
}

// recordingBroadcaster captures every delivery instead of writing to
// websockets, so tests can assert on what would have been sent.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingBroadcaster) ToRoom(roomID, event string, payload interface{}) {
	r.record(recordedEvent{Scope: "room", Target: roomID, Event: event, Payload: payload})
}

func (r *recordingBroadcaster) ToAll(event string, payload interface{}) {
	r.record(recordedEvent{Scope: "all", Event: event, Payload: payload})
}

func (r *recordingBroadcaster) ToConnection(connID, event string, payload interface{}) {
	r.record(recordedEvent{Scope: "conn", Target: connID, Event: event, Payload: payload})
}

func (r *recordingBroadcaster) record(ev recordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) ofType(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []recordedEvent
	for _, ev := range r.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingBroadcaster) last(event string) (recordedEvent, bool) {
	evs := r.ofType(event)
	if len(evs) == 0 {
		return recordedEvent{}, false
	}
	return evs[len(evs)-1], true
}

func (r *recordingBroadcaster) count(event string) int {
	return len(r.ofType(event))
}

// newTestServer builds a server on a temp-dir artifact store with short
// advancement delays so tests do not sleep for real game pacing.
func newTestServer(t *testing.T) (*Server, *recordingBroadcaster) {
	t.Helper()

	cfg := config.Default()
	cfg.AdvanceDelay = 10 * time.Millisecond
	cfg.TopicAdvanceDelay = 5 * time.Millisecond

	rec := &recordingBroadcaster{}
	return New(cfg, artifact.NewStore(t.TempDir()), rec), rec
}
