// sessionprobe is a tiny command line client for poking at a running server.
// It joins a session, prints every event it receives and keeps the
// connection alive with heartbeats.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

var (
	addr    = flag.String("addr", "localhost:3000", "server host:port")
	session = flag.String("session", "main-session", "session to join")
	name    = flag.String("name", "probe", "display name to join with")
	role    = flag.String("role", "viewer", "role to join with")
)

type clientMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Println("connecting to", u.String())

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalln("dial failed:", err)
	}
	defer ws.Close()

	err = ws.WriteJSON(clientMessage{Type: "join-session", Payload: map[string]string{
		"sessionId": *session,
		"userName":  *name,
		"role":      *role,
	}})
	if err != nil {
		log.Fatalln("join failed:", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			var pretty json.RawMessage = data
			out, _ := json.MarshalIndent(pretty, "", "  ")
			log.Printf("<- %s\n", out)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := ws.WriteJSON(clientMessage{Type: "user-heartbeat"}); err != nil {
				log.Println("heartbeat:", err)
				return
			}
		case <-interrupt:
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
