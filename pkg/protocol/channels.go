package protocol

import (
	"fmt"
	"strings"
)

// Channel is a named broadcast topic a session opts into.
type Channel string

// The fixed channel whitelist. Subscriptions outside this set are rejected.
const (
	ChannelChat         Channel = "chat"
	ChannelMetrics      Channel = "metrics"
	ChannelDraw         Channel = "draw"
	ChannelNotification Channel = "notification"
)

// Channels lists every valid channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelChat, ChannelMetrics, ChannelDraw, ChannelNotification}
}

// ValidChannel reports whether name is on the whitelist.
func ValidChannel(name string) bool {
	switch Channel(name) {
	case ChannelChat, ChannelMetrics, ChannelDraw, ChannelNotification:
		return true
	}
	return false
}

// ValidationError reports the invalid entries of a subscribe request. The
// whole request is rejected; nothing is partially applied.
type ValidationError struct {
	Invalid []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid channels: %s", strings.Join(e.Invalid, ", "))
}

// ParseChannels validates a requested channel list against the whitelist.
// If any entry is invalid the whole list is rejected and the returned
// *ValidationError names every bad entry. An empty list is valid and means
// "unsubscribe from everything".
func ParseChannels(names []string) ([]Channel, error) {
	var invalid []string
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		if !ValidChannel(name) {
			invalid = append(invalid, name)
			continue
		}
		channels = append(channels, Channel(name))
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Invalid: invalid}
	}
	return channels, nil
}
