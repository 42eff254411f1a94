// ABOUTME: Streaming session table for the SSE transport
// ABOUTME: Sessions own an outbound frame channel with monotonic event IDs

package mcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// frameBuffer bounds in-flight frames per session. Posting blocks once a
// slow client falls this far behind.
const frameBuffer = 32

// session is one live SSE stream. Frames are pre-rendered SSE wire bytes.
type session struct {
	id      string
	ownerID string // caller that established the stream
	created time.Time

	mu          sync.Mutex
	nextEventID int64

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(ownerID string) *session {
	return &session{
		id:      uuid.New().String(),
		ownerID: ownerID,
		created: time.Now(),
		frames:  make(chan []byte, frameBuffer),
		done:    make(chan struct{}),
	}
}

// close marks the session dead. Safe to call from any goroutine, any number
// of times; pending senders unblock via the done channel.
func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// sendMessage renders a message frame with the next event ID and queues it.
// Returns false if the session closed before the frame could be queued.
// The lock is held across the enqueue so concurrent senders cannot queue
// frames out of ID order; the stream writer never takes this lock, so a
// full buffer only serializes senders.
func (s *session) sendMessage(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := fmt.Sprintf("id: %d\nevent: message\ndata: %s\n\n", s.nextEventID+1, data)
	select {
	case s.frames <- []byte(frame):
		s.nextEventID++
		return true
	case <-s.done:
		return false
	}
}

// sessionTable is the concurrent sessionId -> session map.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) add(s *session) {
	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	return s, ok
}

// remove deletes and closes the session. Idempotent.
func (t *sessionTable) remove(id string) bool {
	t.mu.Lock()
	s, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// closeAll tears down every session, used at server shutdown.
func (t *sessionTable) closeAll() {
	t.mu.Lock()
	for id, s := range t.sessions {
		s.close()
		delete(t.sessions, id)
	}
	t.mu.Unlock()
}
