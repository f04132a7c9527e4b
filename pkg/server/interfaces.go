package server

import (
	"net"
	"time"
)

// Conn is the subset of *websocket.Conn the server relies on. The
// abstraction keeps the registry, broadcaster, and heartbeat monitor
// testable without a network.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
	RemoteAddr() net.Addr
}
