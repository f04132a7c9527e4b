package server

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartbeatReapsUnacknowledged(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, time.Minute)

	sess, _ := reg.Admit(newMockConn())

	m.sweep() // probe sent, liveness cleared
	if _, ok := reg.Get(sess.ID); !ok {
		t.Fatal("Session reaped on first sweep despite being alive")
	}

	m.sweep() // probe never acknowledged
	if _, ok := reg.Get(sess.ID); ok {
		t.Error("Unacknowledged session should be reaped on the second sweep")
	}
}

func TestHeartbeatPongKeepsSessionAlive(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, time.Minute)

	conn := newMockConn()
	sess, _ := reg.Admit(conn)

	for i := 0; i < 3; i++ {
		m.sweep()
		sess.markAlive() // simulated pong
	}

	if _, ok := reg.Get(sess.ID); !ok {
		t.Error("Responsive session should never be reaped")
	}
	if conn.pingCount() != 3 {
		t.Errorf("Expected 3 pings, got %d", conn.pingCount())
	}
}

func TestHeartbeatProbeTimeoutReaps(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, 20*time.Millisecond)

	sess, _ := reg.Admit(newMockConn())

	m.sweep()

	if !waitFor(time.Second, func() bool {
		_, ok := reg.Get(sess.ID)
		return !ok
	}) {
		t.Error("Session should be reaped when the probe timer fires")
	}
}

func TestHeartbeatPongCancelsProbeTimer(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, 20*time.Millisecond)

	sess, _ := reg.Admit(newMockConn())

	m.sweep()
	sess.markAlive()

	time.Sleep(60 * time.Millisecond)

	if _, ok := reg.Get(sess.ID); !ok {
		t.Error("Acknowledged session was reaped by a stale probe timer")
	}
}

// pongingConn acknowledges every probe before the ping send even returns,
// the tightest interleaving the pong handler can produce.
type pongingConn struct {
	*mockConn
	sess *Session
}

func (c *pongingConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	err := c.mockConn.WriteControl(messageType, data, deadline)
	if c.sess != nil {
		c.sess.markAlive()
	}
	return err
}

func TestHeartbeatPongBeforeTimerArmNotReaped(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, 20*time.Millisecond)

	conn := &pongingConn{mockConn: newMockConn()}
	sess, _ := reg.Admit(conn)
	conn.sess = sess

	// The pong lands during the ping send, so the timer is armed after the
	// acknowledgement and must not fire a reap.
	m.sweep()

	time.Sleep(60 * time.Millisecond)

	if _, ok := reg.Get(sess.ID); !ok {
		t.Error("Session that acknowledged the probe during the sweep was reaped")
	}
	if !sess.Alive() {
		t.Error("Session should still be marked alive")
	}
}

func TestHeartbeatProbeSendFailureIsIsolated(t *testing.T) {
	reg := NewRegistry(10, 16)
	m := NewHeartbeatMonitor(reg, nil, time.Minute, time.Minute)

	broken := newMockConn()
	broken.controlErr = errors.New("broken pipe")
	failing, _ := reg.Admit(broken)
	healthy, _ := reg.Admit(newMockConn())

	m.sweep()

	if _, ok := reg.Get(failing.ID); ok {
		t.Error("Session whose probe cannot be sent should be reaped")
	}
	if _, ok := reg.Get(healthy.ID); !ok {
		t.Error("Probe failure on one session must not affect another")
	}
}

func TestSessionSingleProbeTimer(t *testing.T) {
	sess := newSession(1, newMockConn(), 16)

	var fired atomic.Int32

	// Rearming many times must leave at most one pending timer, and a final
	// acknowledgement must leave none.
	for i := 0; i < 100; i++ {
		sess.armProbeTimer(30*time.Millisecond, func() {
			fired.Add(1)
		})
	}
	sess.markAlive()

	time.Sleep(80 * time.Millisecond)

	if n := fired.Load(); n != 0 {
		t.Errorf("Expected no timer firings after acknowledgement, got %d", n)
	}
}

func TestSessionProbeTimerFiresOnceWhenRearmed(t *testing.T) {
	sess := newSession(1, newMockConn(), 16)

	var fired atomic.Int32
	for i := 0; i < 50; i++ {
		sess.armProbeTimer(20*time.Millisecond, func() {
			fired.Add(1)
		})
	}

	time.Sleep(80 * time.Millisecond)

	if n := fired.Load(); n != 1 {
		t.Errorf("Expected exactly one firing from the latest timer, got %d", n)
	}
}
