package server

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

// handleFrame dispatches one inbound frame by message kind. Unknown kinds and
// failed validation are reported to the originating session only; the
// connection stays open.
func (s *Server) handleFrame(sess *Session, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		s.sendError(sess, "Invalid message format")
		return
	}

	s.metrics.RecordMessageReceived(env.Type)

	switch env.Type {
	case protocol.KindSubscribe:
		s.handleSubscribe(sess, env.Data)
	case protocol.KindChat:
		s.handleChat(sess, env.Data)
	case protocol.KindDraw:
		s.handleDraw(sess, env.Data)
	case protocol.KindPing:
		s.handlePing(sess)
	default:
		s.sendError(sess, fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

// handleSubscribe validates the requested channels and, if every entry is
// valid, atomically replaces the session's subscription set. Any invalid
// entry rejects the whole request with nothing applied.
func (s *Server) handleSubscribe(sess *Session, data json.RawMessage) {
	var req protocol.SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(sess, "Invalid subscribe payload")
		return
	}

	channels, err := protocol.ParseChannels(req.Channels)
	if err != nil {
		s.sendError(sess, err.Error())
		return
	}

	applied := sess.ReplaceSubscriptions(channels)
	log.Printf("Session %d subscribed to %v", sess.ID, applied)

	for _, ch := range protocol.Channels() {
		s.metrics.RecordChannelSubscribers(string(ch), s.registry.CountSubscribers(ch))
	}

	s.reply(sess, protocol.KindSubscription, protocol.SubscriptionAck{
		Message:   "Subscriptions updated",
		Channels:  applied,
		Timestamp: nowMillis(),
	})
}

// handleChat validates and fans a chat message out to chat subscribers,
// excluding the sender, who already rendered its own message.
func (s *Server) handleChat(sess *Session, data json.RawMessage) {
	var req protocol.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(sess, "Invalid chat payload")
		return
	}

	message, err := protocol.ValidateChatMessage(req.Message)
	if err != nil {
		s.sendError(sess, err.Error())
		return
	}

	user := req.User
	if user == "" {
		user = "anonymous"
	}

	payload, err := protocol.Encode(protocol.KindChat, protocol.ChatBroadcast{
		From:      fmt.Sprintf("client-%d", sess.ID),
		User:      user,
		Message:   message,
		Timestamp: nowMillis(),
		ClientID:  sess.ID,
	})
	if err != nil {
		log.Printf("Session %d: encoding chat broadcast: %v", sess.ID, err)
		return
	}

	s.broadcaster.Publish(protocol.ChannelChat, payload, sess.ID)
}

// handleDraw rebroadcasts a drawing event verbatim, stamped with the origin
// id and a timestamp, to draw subscribers excluding the sender.
func (s *Server) handleDraw(sess *Session, data json.RawMessage) {
	var req protocol.DrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(sess, "Invalid draw payload")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(sess, err.Error())
		return
	}

	req["clientId"] = sess.ID
	req["timestamp"] = nowMillis()

	payload, err := protocol.Encode(protocol.KindDraw, req)
	if err != nil {
		log.Printf("Session %d: encoding draw broadcast: %v", sess.ID, err)
		return
	}

	s.broadcaster.Publish(protocol.ChannelDraw, payload, sess.ID)
}

// handlePing answers directly; pings never touch the broadcast path.
func (s *Server) handlePing(sess *Session) {
	s.reply(sess, protocol.KindPong, protocol.Pong{Timestamp: nowMillis()})
}

// reply sends a payload to a single session.
func (s *Server) reply(sess *Session, kind string, payload any) {
	data, err := protocol.Encode(kind, payload)
	if err != nil {
		log.Printf("Session %d: encoding %s reply: %v", sess.ID, kind, err)
		return
	}
	if err := sess.enqueue(data); err != nil {
		log.Printf("Session %d: queueing %s reply: %v", sess.ID, kind, err)
		return
	}
	s.metrics.RecordMessageSent(kind)
}

// sendError reports a protocol error to the originating session only.
func (s *Server) sendError(sess *Session, message string) {
	s.reply(sess, protocol.KindError, protocol.ErrorNotice{Message: message})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
