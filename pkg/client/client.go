package client

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
	"github.com/gorilla/websocket"
)

// StateType represents the connection status.
type StateType int

const (
	StateConnected StateType = iota
	StateDisconnected
	StateReconnecting
	StateGaveUp
)

// StateUpdate reports a connection state change.
type StateUpdate struct {
	State   StateType
	Attempt int
	Err     error
}

// Client is a PulseHub connection that reconnects after abnormal closes.
// A clean Close never triggers a reconnect.
type Client struct {
	url     string
	backoff Backoff

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	connectedAt  time.Time
	attempts     int

	incoming    chan *protocol.Envelope
	stateChange chan StateUpdate

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a client for the given WebSocket URL.
func New(url string, backoff Backoff) *Client {
	return &Client{
		url:         url,
		backoff:     backoff,
		incoming:    make(chan *protocol.Envelope, 100),
		stateChange: make(chan StateUpdate, 10),
		shutdown:    make(chan struct{}),
	}
}

// Connect establishes the connection. Also the explicit user action that
// restarts retries after the backoff gave up.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.attempts = 0
	c.mu.Unlock()

	return c.dial()
}

func (c *Client) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	c.notify(StateUpdate{State: StateConnected})
	return nil
}

// Close shuts the client down cleanly. The server sees a normal closure and
// no reconnect is ever attempted.
func (c *Client) Close() {
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}

	c.wg.Wait()
}

// Incoming returns the channel of messages received from the server.
func (c *Client) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// StateChanges returns the channel of connection state updates.
func (c *Client) StateChanges() <-chan StateUpdate {
	return c.stateChange
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send encodes and sends one message.
func (c *Client) Send(kind string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe asks the server to replace the channel subscription set.
func (c *Client) Subscribe(channels []string) error {
	return c.Send(protocol.KindSubscribe, protocol.SubscribeRequest{Channels: channels})
}

// SendChat sends a chat message.
func (c *Client) SendChat(message, user string) error {
	return c.Send(protocol.KindChat, protocol.ChatRequest{Message: message, User: user})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.shutdown:
			return
		}
	}
}

// handleDisconnect distinguishes a clean intentional close from an abnormal
// one. Only the latter starts the reconnect loop.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	uptime := time.Since(c.connectedAt)
	c.mu.Unlock()

	select {
	case <-c.shutdown:
		return
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.notify(StateUpdate{State: StateDisconnected, Err: err})
		return
	}

	// A connection that stayed up through the cooldown earns a fresh
	// attempt budget.
	c.mu.Lock()
	if uptime >= c.backoff.Cooldown {
		c.attempts = 0
	}
	c.mu.Unlock()

	c.notify(StateUpdate{State: StateDisconnected, Err: err})
	go c.reconnectLoop()
}

// reconnectLoop retries with exponential backoff until it succeeds, the
// attempt budget is exhausted, or the client is closed.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		attempt := c.attempts
		c.mu.Unlock()

		if c.backoff.Exhausted(attempt) {
			log.Printf("Giving up after %d reconnect attempts", attempt)
			c.notify(StateUpdate{State: StateGaveUp, Attempt: attempt})
			return
		}

		delay := c.backoff.Delay(attempt)
		c.notify(StateUpdate{State: StateReconnecting, Attempt: attempt + 1})

		select {
		case <-c.shutdown:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		c.attempts++
		c.mu.Unlock()

		if err := c.dial(); err != nil {
			log.Printf("Reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}

		log.Printf("Reconnected after %d attempts", attempt+1)
		return
	}
}

func (c *Client) notify(update StateUpdate) {
	select {
	case c.stateChange <- update:
	default:
	}
}
