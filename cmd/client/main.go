package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/averyhale/pulsehub/pkg/client"
	"github.com/averyhale/pulsehub/pkg/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Server WebSocket URL")
	channels := flag.String("channels", "chat", "Comma-separated channels to subscribe to")
	user := flag.String("user", "", "Display name for chat messages")
	flag.Parse()

	c := client.New(*url, client.DefaultBackoff())
	if err := c.Connect(); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	subscribed := splitChannels(*channels)
	if err := c.Subscribe(subscribed); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}

	go func() {
		for {
			select {
			case env, ok := <-c.Incoming():
				if !ok {
					return
				}
				printEnvelope(env)
			case update := <-c.StateChanges():
				switch update.State {
				case client.StateConnected:
					fmt.Println("* connected")
					// Subscriptions are per-session; renew after reconnect.
					c.Subscribe(subscribed)
				case client.StateReconnecting:
					fmt.Printf("* reconnecting (attempt %d)\n", update.Attempt)
				case client.StateDisconnected:
					fmt.Println("* disconnected")
				case client.StateGaveUp:
					fmt.Println("* gave up reconnecting; restart to retry")
					os.Exit(1)
				}
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.SendChat(line, *user); err != nil {
			log.Printf("Send failed: %v", err)
		}
	}
}

func splitChannels(s string) []string {
	parts := strings.Split(s, ",")
	channels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			channels = append(channels, p)
		}
	}
	return channels
}

func printEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindChat:
		var msg protocol.ChatBroadcast
		if json.Unmarshal(env.Data, &msg) == nil {
			fmt.Printf("[%s] %s: %s\n", env.Type, msg.User, msg.Message)
			return
		}
	case protocol.KindMetrics:
		var snap protocol.MetricsSnapshot
		if json.Unmarshal(env.Data, &snap) == nil {
			fmt.Printf("[metrics] connections=%d rps=%d total=%d\n",
				snap.ActiveConnections, snap.RequestsPerSecond, snap.TotalRequests)
			return
		}
	case protocol.KindError:
		var notice protocol.ErrorNotice
		if json.Unmarshal(env.Data, &notice) == nil {
			fmt.Printf("[error] %s\n", notice.Message)
			return
		}
	}
	fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
}
