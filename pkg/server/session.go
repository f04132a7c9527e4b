package server

import (
	"errors"
	"sync"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

// errSendQueueFull is returned by enqueue when a session's outbound queue is
// full. The broadcaster treats it as a dead peer.
var errSendQueueFull = errors.New("session send queue full")

// Session represents one connected peer. It is created and destroyed only by
// the Registry; subscriptions are mutated only through ReplaceSubscriptions.
type Session struct {
	ID          uint64
	ConnectedAt time.Time

	conn Conn
	send chan []byte
	done chan struct{}

	subMu         sync.RWMutex
	subscriptions map[protocol.Channel]struct{}

	// Liveness state owned by the heartbeat monitor. probeTimer is the single
	// pending probe-timeout timer; arming a new one always cancels the old.
	liveMu     sync.Mutex
	alive      bool
	probeTimer *time.Timer

	closeOnce sync.Once
}

func newSession(id uint64, conn Conn, sendQueueSize int) *Session {
	return &Session{
		ID:            id,
		ConnectedAt:   time.Now(),
		conn:          conn,
		send:          make(chan []byte, sendQueueSize),
		done:          make(chan struct{}),
		subscriptions: make(map[protocol.Channel]struct{}),
		alive:         true,
	}
}

// enqueue queues an outbound frame without blocking. A full queue means the
// peer is not draining its socket; the caller decides whether that is fatal.
func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

// ReplaceSubscriptions atomically swaps the session's subscription set and
// returns the applied channels. An empty list clears every subscription.
func (s *Session) ReplaceSubscriptions(channels []protocol.Channel) []protocol.Channel {
	next := make(map[protocol.Channel]struct{}, len(channels))
	for _, ch := range channels {
		next[ch] = struct{}{}
	}

	s.subMu.Lock()
	s.subscriptions = next
	s.subMu.Unlock()

	applied := make([]protocol.Channel, 0, len(next))
	for _, ch := range protocol.Channels() {
		if _, ok := next[ch]; ok {
			applied = append(applied, ch)
		}
	}
	return applied
}

// IsSubscribed reports whether the session opted into the channel.
func (s *Session) IsSubscribed(ch protocol.Channel) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	_, ok := s.subscriptions[ch]
	return ok
}

// Subscriptions returns the current channel set in whitelist order.
func (s *Session) Subscriptions() []protocol.Channel {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	channels := make([]protocol.Channel, 0, len(s.subscriptions))
	for _, ch := range protocol.Channels() {
		if _, ok := s.subscriptions[ch]; ok {
			channels = append(channels, ch)
		}
	}
	return channels
}

// SubscriptionCount returns the number of subscribed channels.
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	return len(s.subscriptions)
}

// Alive reports whether the last probe was acknowledged.
func (s *Session) Alive() bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	return s.alive
}

// markAlive acknowledges a probe: the liveness flag is restored and the
// pending probe-timeout timer, if any, is cancelled.
func (s *Session) markAlive() {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	s.alive = true
	if s.probeTimer != nil {
		s.probeTimer.Stop()
		s.probeTimer = nil
	}
}

// clearAlive lowers the liveness flag before a probe is sent.
func (s *Session) clearAlive() {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	s.alive = false
}

// armProbeTimer schedules onTimeout after d. Any previously armed timer is
// cancelled first, so at most one probe-timeout timer exists per session.
func (s *Session) armProbeTimer(d time.Duration, onTimeout func()) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if s.probeTimer != nil {
		s.probeTimer.Stop()
	}
	s.probeTimer = time.AfterFunc(d, onTimeout)
}

// cancelProbeTimer stops any pending probe-timeout timer. Called on removal
// so a reaped session can never fire a late timer.
func (s *Session) cancelProbeTimer() {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if s.probeTimer != nil {
		s.probeTimer.Stop()
		s.probeTimer = nil
	}
}

// close terminates the underlying connection. Idempotent; only the Registry
// calls it.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
