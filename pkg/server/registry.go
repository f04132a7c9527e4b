// Package server implements the PulseHub real-time hub: the connection
// registry, channel subscription routing, broadcast fan-out, heartbeat
// liveness monitoring, and the WebSocket/HTTP surface around them.
package server

import (
	"errors"
	"log"
	"sync"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

// ErrServerFull is returned by Admit when the registry is at capacity.
// Admission is refused, never queued.
var ErrServerFull = errors.New("server at capacity")

// Registry is the authoritative map from session id to Session. It enforces
// the connection-count limit and is the single removal path through which
// session bookkeeping stays consistent.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64

	maxConnections int
	sendQueueSize  int
	metrics        *Metrics
}

// NewRegistry creates a registry that admits at most maxConnections sessions.
func NewRegistry(maxConnections, sendQueueSize int) *Registry {
	return &Registry{
		sessions:       make(map[uint64]*Session),
		nextID:         1,
		maxConnections: maxConnections,
		sendQueueSize:  sendQueueSize,
	}
}

// SetMetrics attaches Prometheus instrumentation to the registry.
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// MaxConnections returns the configured capacity limit.
func (r *Registry) MaxConnections() int {
	return r.maxConnections
}

// Admit creates a session for conn. The capacity check and the insertion are
// one critical section, so two racing admissions can never both slip past the
// limit. Fails with ErrServerFull at capacity; nothing is inserted on failure.
func (r *Registry) Admit(conn Conn) (*Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.maxConnections {
		r.mu.Unlock()
		r.metrics.RecordSessionRejected()
		return nil, ErrServerFull
	}

	id := r.nextID
	r.nextID++

	sess := newSession(id, conn, r.sendQueueSize)
	r.sessions[id] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordActiveSessions(count)
	r.metrics.RecordSessionAdmitted()

	return sess, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes the session and terminates its connection. Idempotent:
// removing an absent id is a no-op, which lets an explicit close race a
// heartbeat reap without either side failing.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	sess.cancelProbeTimer()
	sess.close()

	r.metrics.RecordActiveSessions(count)
	r.metrics.RecordSessionDisconnected()
}

// Snapshot returns a point-in-time copy of all sessions. Visitors that
// remove sessions or block on slow peers operate on the copy, never on the
// live map.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Size returns the current session count. Always read live, never cached.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// CountSubscribers returns how many sessions currently opt into ch.
func (r *Registry) CountSubscribers(ch protocol.Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sess := range r.sessions {
		if sess.IsSubscribed(ch) {
			count++
		}
	}
	return count
}

// CloseAll terminates every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uint64]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.cancelProbeTimer()
		sess.close()
	}

	if len(sessions) > 0 {
		log.Printf("Closed %d sessions", len(sessions))
	}
	r.metrics.RecordActiveSessions(0)
}
