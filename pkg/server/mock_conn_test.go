package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// mockConn implements Conn for tests without a network.
type mockConn struct {
	mu          sync.Mutex
	written     [][]byte
	pings       int
	closed      bool
	writeErr    error
	controlErr  error
	pongHandler func(string) error

	readCh chan []byte
	done   chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.readCh:
		return websocket.TextMessage, data, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *mockConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.closed {
		return net.ErrClosed
	}
	c.written = append(c.written, data)
	return nil
}

func (c *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controlErr != nil {
		return c.controlErr
	}
	if c.closed {
		return errors.New("use of closed network connection")
	}
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return nil
}

func (c *mockConn) SetReadLimit(limit int64)            {}
func (c *mockConn) SetWriteDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetPongHandler(h func(string) error) { c.pongHandler = h }
func (c *mockConn) RemoteAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *mockConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
