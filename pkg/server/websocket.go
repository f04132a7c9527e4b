package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// HandleWebSocket upgrades an HTTP request into a hub session. Only paths on
// the configured allow-list are upgraded; capacity rejection closes the
// socket with a distinct close code before any session exists.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.upgradePaths[r.URL.Path] {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "WebSocket endpoint only accepts GET requests", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sess, err := s.registry.Admit(ws)
	if err != nil {
		if errors.Is(err, ErrServerFull) {
			log.Printf("Connection from %s refused: server at capacity (%d)", r.RemoteAddr, s.registry.MaxConnections())
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		ws.Close()
		return
	}

	log.Printf("New connection from %s (session %d)", r.RemoteAddr, sess.ID)

	s.reply(sess, protocol.KindSystem, protocol.SystemNotice{
		Message:           "Connected to PulseHub",
		ClientID:          sess.ID,
		ActiveConnections: s.registry.Size(),
		MaxConnections:    s.registry.MaxConnections(),
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(sess)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(sess)
	}()
}

// readPump processes inbound frames for one session sequentially until the
// connection drops. Removal goes through the registry on exit, so close
// racing a heartbeat reap is harmless.
func (s *Server) readPump(sess *Session) {
	defer s.registry.Remove(sess.ID)

	sess.conn.SetReadLimit(s.config.MaxFrameBytes)
	sess.conn.SetPongHandler(func(string) error {
		sess.markAlive()
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			logReadError(sess, err)
			return
		}
		s.handleFrame(sess, raw)
	}
}

// writePump drains the session's outbound queue. A write failure terminates
// the session; the queued frames for other sessions are unaffected.
func (s *Server) writePump(sess *Session) {
	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Session %d write error: %v", sess.ID, err)
				}
				s.registry.Remove(sess.ID)
				return
			}
		case <-sess.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// logReadError logs a read failure with enough context to tell an orderly
// disconnect from a protocol violation.
func logReadError(sess *Session, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Session %d exceeded the maximum frame size", sess.ID)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Session %d disconnected: %v", sess.ID, err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Printf("Session %d connection closed", sess.ID)
	default:
		log.Printf("Session %d read error: %v", sess.ID, err)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
