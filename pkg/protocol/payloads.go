package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxChatMessageLength is the limit applied to chat messages after trimming.
const MaxChatMessageLength = 500

// SubscribeRequest asks the server to replace the session's subscription set.
type SubscribeRequest struct {
	Channels []string `json:"channels"`
}

// ChatRequest is a chat message from a client.
type ChatRequest struct {
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
}

// ErrEmptyChatMessage is returned for chat messages that are empty after trimming.
var ErrEmptyChatMessage = errors.New("chat message is empty")

// ValidateChatMessage trims the message and enforces the length constraints.
// The trimmed message is returned on success.
func ValidateChatMessage(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", ErrEmptyChatMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxChatMessageLength {
		return "", fmt.Errorf("chat message exceeds %d characters", MaxChatMessageLength)
	}
	return trimmed, nil
}

// DrawRequest carries a drawing event. Beyond the required action, the fields
// are application-defined and rebroadcast verbatim.
type DrawRequest map[string]any

// ErrMissingDrawAction is returned when a draw event has no action field.
var ErrMissingDrawAction = errors.New("draw event has no action")

// Validate checks that the draw event names an action.
func (d DrawRequest) Validate() error {
	action, ok := d["action"].(string)
	if !ok || strings.TrimSpace(action) == "" {
		return ErrMissingDrawAction
	}
	return nil
}

// SystemNotice is sent once to a client on admission.
type SystemNotice struct {
	Message           string `json:"message"`
	ClientID          uint64 `json:"clientId"`
	ActiveConnections int    `json:"activeConnections"`
	MaxConnections    int    `json:"maxConnections"`
}

// MetricsSnapshot is the periodic server metrics broadcast.
type MetricsSnapshot struct {
	TotalRequests     uint64  `json:"totalRequests"`
	ActiveConnections int     `json:"activeConnections"`
	RequestsPerSecond int     `json:"requestsPerSecond"`
	UptimeSeconds     float64 `json:"uptime"`
}

// ChatBroadcast is a chat message fanned out to subscribers.
type ChatBroadcast struct {
	From      string `json:"from"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ClientID  uint64 `json:"clientId"`
}

// SubscriptionAck confirms the resulting channel set to the requester.
type SubscriptionAck struct {
	Message   string    `json:"message"`
	Channels  []Channel `json:"channels"`
	Timestamp int64     `json:"timestamp"`
}

// Pong answers a client ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorNotice reports a protocol error to the originating client only.
type ErrorNotice struct {
	Message string `json:"message"`
}
