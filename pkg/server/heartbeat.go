package server

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// HeartbeatMonitor probes every session on a fixed interval and reaps the
// ones that stop acknowledging. Per session the state machine is
// Alive -> ProbeSent -> Alive (pong) | Reaped (timeout).
type HeartbeatMonitor struct {
	registry *Registry
	metrics  *Metrics
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

// NewHeartbeatMonitor creates a monitor that sweeps every interval and reaps
// sessions whose probe goes unacknowledged for timeout.
func NewHeartbeatMonitor(registry *Registry, metrics *Metrics, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: registry,
		metrics:  metrics,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run sweeps until Stop is called. Run in its own goroutine.
func (m *HeartbeatMonitor) Run() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop terminates the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	close(m.done)
	<-m.stopped
}

// sweep probes every session in a snapshot. A session whose previous probe
// was never acknowledged is reaped immediately; otherwise the liveness flag
// is cleared, a ping is sent, and a single timeout timer is armed. Failures
// are terminal for that session only; the sweep continues.
func (m *HeartbeatMonitor) sweep() {
	for _, sess := range m.registry.Snapshot() {
		if !sess.Alive() {
			m.reap(sess, "missed heartbeat")
			continue
		}

		sess.clearAlive()

		deadline := time.Now().Add(m.timeout)
		if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			m.reap(sess, "probe send failed")
			continue
		}

		// The pong can land before the timer is armed, in which case there was
		// no timer for markAlive to cancel. The callback rechecks liveness so
		// an acknowledged session is never reaped.
		sess.armProbeTimer(m.timeout, func() {
			if sess.Alive() {
				return
			}
			m.reap(sess, "probe timeout")
		})
	}
}

// reap force-removes one session. The timer captures the session reference,
// and Registry.Remove is idempotent, so a reap racing an explicit close
// converges on the same end state.
func (m *HeartbeatMonitor) reap(sess *Session, reason string) {
	log.Printf("Session %d reaped: %s", sess.ID, reason)
	m.metrics.RecordSessionReaped()
	m.registry.Remove(sess.ID)
}
