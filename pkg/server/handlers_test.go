package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	config := DefaultConfig()
	config.MaxConnections = 10
	srv := NewServer(config, nil)
	go srv.broadcaster.Run()
	t.Cleanup(srv.broadcaster.Stop)
	return srv
}

// readEnvelope decodes the next frame queued on the session.
func readEnvelope(t *testing.T, sess *Session) *protocol.Envelope {
	t.Helper()
	select {
	case data := <-sess.send:
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("Queued frame is not a valid envelope: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("No frame queued on session")
		return nil
	}
}

func TestHandleSubscribeAppliesChannels(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	srv.handleFrame(sess, []byte(`{"type":"subscribe","data":{"channels":["chat","metrics"]}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindSubscription {
		t.Fatalf("Expected %q ack, got %q", protocol.KindSubscription, env.Type)
	}

	var ack protocol.SubscriptionAck
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("Failed to decode ack: %v", err)
	}
	if len(ack.Channels) != 2 {
		t.Errorf("Expected 2 channels in ack, got %v", ack.Channels)
	}

	if !sess.IsSubscribed(protocol.ChannelChat) || !sess.IsSubscribed(protocol.ChannelMetrics) {
		t.Error("Requested channels not applied")
	}
	if sess.IsSubscribed(protocol.ChannelDraw) {
		t.Error("Unrequested channel applied")
	}
}

func TestHandleSubscribeRejectsInvalidChannelEntirely(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	sess.ReplaceSubscriptions([]protocol.Channel{protocol.ChannelChat})

	// One bogus name rejects the whole request; the existing set survives.
	srv.handleFrame(sess, []byte(`{"type":"subscribe","data":{"channels":["chat","bogus"]}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindError {
		t.Fatalf("Expected error envelope, got %q", env.Type)
	}

	var notice protocol.ErrorNotice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if !strings.Contains(notice.Message, "bogus") {
		t.Errorf("Error should name the invalid channel, got %q", notice.Message)
	}

	if got := sess.Subscriptions(); len(got) != 1 || got[0] != protocol.ChannelChat {
		t.Errorf("Subscriptions changed by rejected request: %v", got)
	}
}

func TestHandleSubscribeEmptyListClears(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	sess.ReplaceSubscriptions(protocol.Channels())

	srv.handleFrame(sess, []byte(`{"type":"subscribe","data":{"channels":[]}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindSubscription {
		t.Fatalf("Expected ack for empty list, got %q", env.Type)
	}
	if sess.SubscriptionCount() != 0 {
		t.Errorf("Expected no subscriptions, got %v", sess.Subscriptions())
	}
}

func TestHandleChatBroadcastsToSubscribers(t *testing.T) {
	srv := newTestServer(t)
	sender, _ := srv.registry.Admit(newMockConn())
	listener, _ := srv.registry.Admit(newMockConn())

	sender.ReplaceSubscriptions([]protocol.Channel{protocol.ChannelChat})
	listener.ReplaceSubscriptions([]protocol.Channel{protocol.ChannelChat})

	srv.handleFrame(sender, []byte(`{"type":"chat","data":{"message":"  hello  ","user":"ana"}}`))

	if !waitFor(time.Second, func() bool {
		return len(listener.send) == 1
	}) {
		t.Fatal("Chat subscriber never received the broadcast")
	}

	env := readEnvelope(t, listener)
	if env.Type != protocol.KindChat {
		t.Fatalf("Expected chat envelope, got %q", env.Type)
	}

	var msg protocol.ChatBroadcast
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("Failed to decode chat broadcast: %v", err)
	}
	if msg.Message != "hello" {
		t.Errorf("Expected trimmed message %q, got %q", "hello", msg.Message)
	}
	if msg.User != "ana" {
		t.Errorf("Expected user %q, got %q", "ana", msg.User)
	}
	if msg.ClientID != sender.ID {
		t.Errorf("Expected origin id %d, got %d", sender.ID, msg.ClientID)
	}

	if len(sender.send) != 0 {
		t.Error("Sender must not receive its own chat message")
	}
}

func TestHandleChatRejectsOversizedMessage(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	raw, _ := json.Marshal(map[string]any{
		"type": "chat",
		"data": map[string]string{"message": strings.Repeat("x", protocol.MaxChatMessageLength+1)},
	})
	srv.handleFrame(sess, raw)

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindError {
		t.Errorf("Expected error for oversized message, got %q", env.Type)
	}
}

func TestHandleChatDefaultsAnonymousUser(t *testing.T) {
	srv := newTestServer(t)
	sender, _ := srv.registry.Admit(newMockConn())
	listener, _ := srv.registry.Admit(newMockConn())
	listener.ReplaceSubscriptions([]protocol.Channel{protocol.ChannelChat})

	srv.handleFrame(sender, []byte(`{"type":"chat","data":{"message":"hi"}}`))

	if !waitFor(time.Second, func() bool {
		return len(listener.send) == 1
	}) {
		t.Fatal("Chat subscriber never received the broadcast")
	}

	var msg protocol.ChatBroadcast
	env := readEnvelope(t, listener)
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("Failed to decode chat broadcast: %v", err)
	}
	if msg.User != "anonymous" {
		t.Errorf("Expected anonymous user, got %q", msg.User)
	}
}

func TestHandleDrawStampsOriginAndBroadcasts(t *testing.T) {
	srv := newTestServer(t)
	sender, _ := srv.registry.Admit(newMockConn())
	listener, _ := srv.registry.Admit(newMockConn())
	listener.ReplaceSubscriptions([]protocol.Channel{protocol.ChannelDraw})

	srv.handleFrame(sender, []byte(`{"type":"draw","data":{"action":"line","x":10,"y":20}}`))

	if !waitFor(time.Second, func() bool {
		return len(listener.send) == 1
	}) {
		t.Fatal("Draw subscriber never received the broadcast")
	}

	env := readEnvelope(t, listener)
	if env.Type != protocol.KindDraw {
		t.Fatalf("Expected draw envelope, got %q", env.Type)
	}

	var event map[string]any
	if err := json.Unmarshal(env.Data, &event); err != nil {
		t.Fatalf("Failed to decode draw event: %v", err)
	}
	if event["action"] != "line" {
		t.Errorf("Draw payload not carried through: %v", event)
	}
	if event["clientId"] != float64(sender.ID) {
		t.Errorf("Draw event missing origin stamp: %v", event)
	}
	if _, ok := event["timestamp"]; !ok {
		t.Error("Draw event missing timestamp stamp")
	}
}

func TestHandleDrawRequiresAction(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	srv.handleFrame(sess, []byte(`{"type":"draw","data":{"x":10}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindError {
		t.Errorf("Expected error for draw without action, got %q", env.Type)
	}
}

func TestHandlePingRepliesDirectly(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	srv.handleFrame(sess, []byte(`{"type":"ping","data":{}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindPong {
		t.Fatalf("Expected pong, got %q", env.Type)
	}

	var pong protocol.Pong
	if err := json.Unmarshal(env.Data, &pong); err != nil {
		t.Fatalf("Failed to decode pong: %v", err)
	}
	if pong.Timestamp == 0 {
		t.Error("Pong should carry a timestamp")
	}
}

func TestHandleFrameUnknownType(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	srv.handleFrame(sess, []byte(`{"type":"teleport","data":{}}`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindError {
		t.Fatalf("Expected error envelope, got %q", env.Type)
	}

	var notice protocol.ErrorNotice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if !strings.Contains(notice.Message, "teleport") {
		t.Errorf("Error should name the unknown type, got %q", notice.Message)
	}
}

func TestHandleFrameMalformedJSON(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := srv.registry.Admit(newMockConn())

	srv.handleFrame(sess, []byte(`{not json`))

	env := readEnvelope(t, sess)
	if env.Type != protocol.KindError {
		t.Errorf("Expected error for malformed frame, got %q", env.Type)
	}
}
